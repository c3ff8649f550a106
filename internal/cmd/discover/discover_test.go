package discover

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
)

const profileJSON = `{
  "ucp": {
    "version": "2026-01-11",
    "capabilities": [
      {"name": "dev.ucp.shopping.checkout", "version": "2026-01-11", "spec": "https://ucp.dev/specs/shopping/checkout"}
    ]
  },
  "payment": {"handlers": [{"id": "shop_pay", "name": "com.shopify.shop_pay"}]}
}`

func newMerchant(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/ucp" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.URL != "http://localhost:8182" {
		t.Fatalf("expected default url, got %q", cfg.URL)
	}
	if cfg.Timeout != 10*time.Second {
		t.Fatalf("expected default timeout, got %s", cfg.Timeout)
	}
}

func TestParseConfigEnvAndFlags(t *testing.T) {
	t.Setenv("UCP_SERVER_URL", "http://env.test")
	t.Setenv("UCP_HTTP_TIMEOUT", "2s")

	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-url", "http://flag.test", "-summary"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.URL != "http://flag.test" {
		t.Fatalf("expected flag url, got %q", cfg.URL)
	}
	if cfg.Timeout != 2*time.Second {
		t.Fatalf("expected env timeout, got %s", cfg.Timeout)
	}
	if !cfg.Summary {
		t.Fatal("expected summary flag")
	}
}

func TestParseConfigRequiresURL(t *testing.T) {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	if _, err := ParseConfig(fs, []string{"-url", " "}); err == nil {
		t.Fatal("expected error for blank url")
	}
}

func TestRunPrintsProfile(t *testing.T) {
	merchant := newMerchant(t, profileJSON, http.StatusOK)

	buf := &bytes.Buffer{}
	if err := Run(context.Background(), Config{URL: merchant.URL, Timeout: time.Second}, buf); err != nil {
		t.Fatalf("run: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if !strings.Contains(buf.String(), "\n  \"ucp\"") {
		t.Fatalf("expected indented output, got %q", buf.String())
	}
}

func TestRunPrintsSummary(t *testing.T) {
	color.NoColor = true
	merchant := newMerchant(t, profileJSON, http.StatusOK)

	buf := &bytes.Buffer{}
	cfg := Config{URL: merchant.URL, Timeout: time.Second, Summary: true}
	if err := Run(context.Background(), cfg, buf); err != nil {
		t.Fatalf("run: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"(UCP 2026-01-11)",
		"dev.ucp.shopping.checkout v2026-01-11 https://ucp.dev/specs/shopping/checkout",
		"shop_pay (com.shopify.shop_pay)",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in summary, got %q", want, out)
		}
	}
}

func TestRunLabelsFailures(t *testing.T) {
	unreachable := httptest.NewServer(http.NotFoundHandler())
	unreachableURL := unreachable.URL
	unreachable.Close()

	tests := []struct {
		name string
		url  string
		want string
	}{
		{name: "unreachable", url: unreachableURL, want: "server unreachable"},
		{name: "http error", url: newMerchant(t, "", http.StatusInternalServerError).URL, want: "server unreachable"},
		{name: "non-compliant", url: newMerchant(t, `{"ucp": {"version": "x"}}`, http.StatusOK).URL, want: "server non-compliant"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Run(context.Background(), Config{URL: tc.url, Timeout: time.Second}, &bytes.Buffer{})
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.HasPrefix(err.Error(), tc.want) {
				t.Fatalf("expected %q prefix, got %v", tc.want, err)
			}
		})
	}
}

func TestRunNilOutput(t *testing.T) {
	if err := Run(context.Background(), Config{URL: "http://localhost"}, nil); err == nil {
		t.Fatal("expected error for nil output")
	}
}
