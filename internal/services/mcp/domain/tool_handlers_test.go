package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	apperrors "github.com/louisbranch/ucp-hub/internal/platform/errors"
	"github.com/louisbranch/ucp-hub/internal/services/commerce/discovery"
	"github.com/louisbranch/ucp-hub/internal/services/commerce/dispatch"
	"github.com/louisbranch/ucp-hub/internal/services/commerce/registry"
	"github.com/louisbranch/ucp-hub/internal/services/commerce/security"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type fakeDiscoverer struct {
	profile *discovery.Profile
	err     error
	gotURL  string
}

func (f *fakeDiscoverer) Discover(_ context.Context, baseURL string) (*discovery.Profile, error) {
	f.gotURL = baseURL
	return f.profile, f.err
}

type fakeRunner struct {
	gotCode     string
	output      string
	gotDeadline time.Time
	hasDeadline bool
}

func (f *fakeRunner) Run(ctx context.Context, code string) string {
	f.gotCode = code
	f.gotDeadline, f.hasDeadline = ctx.Deadline()
	return f.output
}

func testProfile(names ...string) *discovery.Profile {
	profile := &discovery.Profile{UCP: discovery.Metadata{Version: "2026-01-11"}}
	for _, name := range names {
		profile.UCP.Capabilities = append(profile.UCP.Capabilities, discovery.Capability{
			Name:    name,
			Version: "2026-01-11",
			Spec:    "https://ucp.dev/specs/" + name,
		})
	}
	return profile
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) != 1 {
		t.Fatalf("expected one content block, got %+v", result)
	}
	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", result.Content[0])
	}
	return text.Text
}

func TestToolSearchHandler(t *testing.T) {
	reg := registry.New(nil)
	reg.Register([]registry.Capability{
		{Name: "dev.ucp.shopping.checkout", Spec: "https://ucp.dev/specs/shopping/checkout", Version: "2026-01-11"},
		{Name: "dev.ucp.shopping.order", Spec: "https://ucp.dev/specs/shopping/order", Version: "2026-01-11"},
	})
	handler := ToolSearchHandler(reg, nil)

	t.Run("matches case-insensitively", func(t *testing.T) {
		toolResult, result, err := handler(context.Background(), nil, ToolSearchInput{Regex: "CHECKOUT"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if toolResult == nil || toolResult.Meta[InvocationIDMetaKey] == "" {
			t.Fatal("expected invocation id in result metadata")
		}
		if len(result.Tools) != 1 || result.Tools[0].Name != "dev.ucp.shopping.checkout" {
			t.Fatalf("unexpected tools %+v", result.Tools)
		}
	})

	t.Run("empty pattern returns empty list", func(t *testing.T) {
		_, result, err := handler(context.Background(), nil, ToolSearchInput{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Tools == nil || len(result.Tools) != 0 {
			t.Fatalf("expected empty non-nil list, got %#v", result.Tools)
		}
	})

	t.Run("invalid regex", func(t *testing.T) {
		_, _, err := handler(context.Background(), nil, ToolSearchInput{Regex: "("})
		if err == nil {
			t.Fatal("expected error for invalid regex")
		}
	})

	t.Run("search does not load", func(t *testing.T) {
		if _, _, err := handler(context.Background(), nil, ToolSearchInput{Regex: "order"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if reg.IsLoaded("dev.ucp.shopping.order") {
			t.Fatal("expected search to leave capability deferred")
		}
	})
}

func TestRefreshDiscoveryHandler(t *testing.T) {
	t.Run("success uses default url", func(t *testing.T) {
		discoverer := &fakeDiscoverer{profile: testProfile("dev.ucp.shopping.checkout", "dev.ucp.shopping.order")}
		reg := registry.New(nil)
		handler := RefreshDiscoveryHandler(discoverer, reg, "http://localhost:8182", nil)

		toolResult, result, err := handler(context.Background(), nil, RefreshDiscoveryInput{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if discoverer.gotURL != "http://localhost:8182" {
			t.Fatalf("expected default url, got %q", discoverer.gotURL)
		}
		want := "Successfully discovered 2 capabilities from http://localhost:8182. They are now available via tool search."
		if got := resultText(t, toolResult); got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
		if result.Capabilities != 2 || result.Discovered != 2 || reg.Len() != 2 {
			t.Fatalf("unexpected result %+v", result)
		}
	})

	t.Run("explicit url", func(t *testing.T) {
		discoverer := &fakeDiscoverer{profile: testProfile("dev.ucp.shopping.checkout")}
		handler := RefreshDiscoveryHandler(discoverer, registry.New(nil), "http://localhost:8182", nil)
		if _, _, err := handler(context.Background(), nil, RefreshDiscoveryInput{URL: " http://shop.test "}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if discoverer.gotURL != "http://shop.test" {
			t.Fatalf("expected explicit url, got %q", discoverer.gotURL)
		}
	})

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "unreachable",
			err:  apperrors.New(apperrors.CodeDiscoveryFailed, "failed to fetch discovery info"),
			want: "Discovery failed (server unreachable): failed to fetch discovery info",
		},
		{
			name: "non-compliant",
			err:  apperrors.New(apperrors.CodeConformanceViolation, "profile does not match schema"),
			want: "Discovery failed (server non-compliant): profile does not match schema",
		},
		{
			name: "other",
			err:  errors.New("boom"),
			want: "Discovery failed: boom",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reg := registry.New(nil)
			handler := RefreshDiscoveryHandler(&fakeDiscoverer{err: tc.err}, reg, "http://localhost:8182", nil)
			_, _, err := handler(context.Background(), nil, RefreshDiscoveryInput{})
			if err == nil || err.Error() != tc.want {
				t.Fatalf("expected %q, got %v", tc.want, err)
			}
			if !errors.Is(err, tc.err) {
				t.Fatal("expected cause to be preserved")
			}
			if reg.Len() != 0 {
				t.Fatal("expected nothing registered after failure")
			}
		})
	}
}

func TestExecuteScriptHandler(t *testing.T) {
	t.Run("runs code", func(t *testing.T) {
		runner := &fakeRunner{output: "hello\n"}
		toolResult, result, err := ExecuteScriptHandler(runner, nil)(context.Background(), nil, ExecuteScriptInput{Code: `print("hello")`})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if runner.gotCode != `print("hello")` {
			t.Fatalf("unexpected code %q", runner.gotCode)
		}
		if result.Output != "hello\n" || resultText(t, toolResult) != "hello\n" {
			t.Fatalf("unexpected output %q", result.Output)
		}
		if !runner.hasDeadline {
			t.Fatal("expected script to run under a deadline")
		}
		if remaining := time.Until(runner.gotDeadline); remaining <= 0 || remaining > scriptCallTimeout {
			t.Fatalf("unexpected deadline %s away", remaining)
		}
		if toolResult.IsError {
			t.Fatal("expected script output not to be a tool error")
		}
	})

	for _, code := range []string{"", "   \n"} {
		t.Run(fmt.Sprintf("empty code %q", code), func(t *testing.T) {
			runner := &fakeRunner{}
			_, result, err := ExecuteScriptHandler(runner, nil)(context.Background(), nil, ExecuteScriptInput{Code: code})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Output != "Error: No code provided." {
				t.Fatalf("unexpected output %q", result.Output)
			}
			if runner.gotCode != "" {
				t.Fatal("expected runner not to be called")
			}
		})
	}
}

func TestSigningKeyResourceHandler(t *testing.T) {
	keys, err := security.NewKeyManager()
	if err != nil {
		t.Fatalf("new key manager: %v", err)
	}
	handler := SigningKeyResourceHandler(keys)

	result, err := handler(context.Background(), &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: SigningKeyURI}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Contents) != 1 {
		t.Fatalf("expected one content, got %d", len(result.Contents))
	}
	var set security.JWKSet
	if err := json.Unmarshal([]byte(result.Contents[0].Text), &set); err != nil {
		t.Fatalf("decode jwk set: %v", err)
	}
	if len(set.Keys) != 1 || set.Keys[0].KeyID != keys.KeyID() {
		t.Fatalf("unexpected jwk set %+v", set)
	}

	if _, err := handler(context.Background(), &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: "ucp-hub://keys/other"}}); err == nil {
		t.Fatal("expected error for unknown uri")
	}
	if _, err := SigningKeyResourceHandler(nil)(context.Background(), nil); err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

type fakeJournal struct {
	records  []dispatch.Record
	err      error
	gotLimit int
}

func (f *fakeJournal) Recent(_ context.Context, limit int) ([]dispatch.Record, error) {
	f.gotLimit = limit
	return f.records, f.err
}

func TestDispatchJournalResourceHandler(t *testing.T) {
	created := time.Date(2026, 1, 11, 12, 0, 0, 0, time.UTC)
	journal := &fakeJournal{records: []dispatch.Record{{
		RequestID:  "req-1",
		Tool:       "dev.ucp.shopping.checkout",
		Operation:  "CREATE",
		Method:     "POST",
		URL:        "http://merchant.test/checkout-sessions",
		StatusCode: 201,
		CreatedAt:  created,
	}}}
	handler := DispatchJournalResourceHandler(journal)

	result, err := handler(context.Background(), &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: DispatchJournalURI}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if journal.gotLimit != dispatchJournalLimit {
		t.Fatalf("expected limit %d, got %d", dispatchJournalLimit, journal.gotLimit)
	}
	var entries []DispatchEntry
	if err := json.Unmarshal([]byte(result.Contents[0].Text), &entries); err != nil {
		t.Fatalf("decode entries: %v", err)
	}
	if len(entries) != 1 || entries[0].RequestID != "req-1" || entries[0].StatusCode != 201 || !entries[0].CreatedAt.Equal(created) {
		t.Fatalf("unexpected entries %+v", entries)
	}

	empty, err := DispatchJournalResourceHandler(&fakeJournal{})(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(empty.Contents[0].Text) != "[]" {
		t.Fatalf("expected empty list, got %q", empty.Contents[0].Text)
	}

	if _, err := handler(context.Background(), &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: "ucp-hub://journal/other"}}); err == nil {
		t.Fatal("expected error for unknown uri")
	}
	if _, err := DispatchJournalResourceHandler(&fakeJournal{err: errors.New("disk gone")})(context.Background(), nil); err == nil {
		t.Fatal("expected read failure to surface")
	}
	if _, err := DispatchJournalResourceHandler(nil)(context.Background(), nil); err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
