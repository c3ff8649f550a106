package sandbox

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/ucp-hub/internal/services/commerce/discovery"
	"github.com/louisbranch/ucp-hub/internal/services/commerce/dispatch"
	"github.com/louisbranch/ucp-hub/internal/services/commerce/registry"
	"github.com/louisbranch/ucp-hub/internal/services/commerce/security"
)

const merchantProfile = `{
  "ucp": {
    "version": "2026-01-11",
    "capabilities": [
      {"name": "dev.ucp.shopping.checkout", "version": "2026-01-11", "spec": "https://ucp.dev/specs/shopping/checkout"}
    ]
  },
  "payment": {"handlers": [{"id": "pix", "name": "br.pix"}]}
}`

type merchantRequest struct {
	method string
	path   string
	keyID  string
	body   map[string]any
}

func newMerchantServer(t *testing.T) (*httptest.Server, func() []merchantRequest) {
	t.Helper()
	var mu sync.Mutex
	var requests []merchantRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == discovery.WellKnownPath {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, merchantProfile)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		mu.Lock()
		requests = append(requests, merchantRequest{method: r.Method, path: r.URL.Path, keyID: r.Header.Get("key-id"), body: body})
		mu.Unlock()
		if body["currency"] == "XXX" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"detail":"unsupported currency"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"cs_9","status":"ready_for_complete"}`)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []merchantRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]merchantRequest(nil), requests...)
	}
}

func newIntegratedSandbox(t *testing.T) (*Sandbox, *security.KeyManager, *registry.Registry) {
	t.Helper()
	keys, err := security.NewKeyManager()
	if err != nil {
		t.Fatalf("new key manager: %v", err)
	}
	client, err := discovery.NewClient(discovery.WithTimeout(2 * time.Second))
	if err != nil {
		t.Fatalf("new discovery client: %v", err)
	}
	reg := registry.New(nil)
	dispatcher := dispatch.New(keys, dispatch.Config{
		Endpoints: map[string]string{"dev.ucp.shopping.checkout": "/checkout-sessions"},
		Timeout:   2 * time.Second,
	})
	s, err := New(Dependencies{
		Registry:   reg,
		Discovery:  client,
		Dispatcher: dispatcher,
		Mandates:   security.NewMandateIssuer(keys, time.Minute),
	}, Options{Modules: []string{"string"}})
	if err != nil {
		t.Fatalf("new sandbox: %v", err)
	}
	return s, keys, reg
}

func TestCheckoutFlowAgainstMerchant(t *testing.T) {
	srv, requests := newMerchantServer(t)
	s, keys, reg := newIntegratedSandbox(t)

	script := `ucp.discover("` + srv.URL + `")
local session = ucp.call("dev.ucp.shopping.checkout", {currency = "BRL", line_items = {{id = "sku_1", quantity = 1}}})
local id = session.result.id
ucp.call("dev.ucp.shopping.checkout", {id = id, buyer = {email = "a@b.test"}})
local pay = ucp.select_payment_method("pix", 99.9, "BRL")
local done = ucp.call("dev.ucp.shopping.checkout", {id = id, _action = "complete", payment = {token = pay.token, mandate = pay.mandate}})
print(id, done.result.status)
print(pay.mandate)`
	output, err := s.Execute(context.Background(), script)
	if err != nil {
		t.Fatalf("execute: %v (output %q)", err, output)
	}
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 2 || lines[0] != "cs_9\tready_for_complete" {
		t.Fatalf("unexpected output %q", output)
	}
	claims, err := security.VerifyMandate(lines[1], keys.PublicKey())
	if err != nil {
		t.Fatalf("verify mandate: %v", err)
	}
	if claims.Mandate.MaxAmount != 99.9 || claims.Mandate.Currency != "BRL" || claims.Audience != DefaultBeneficiary {
		t.Fatalf("unexpected claims %+v", claims)
	}

	got := requests()
	want := []struct{ method, path string }{
		{http.MethodPost, "/checkout-sessions"},
		{http.MethodPut, "/checkout-sessions/cs_9"},
		{http.MethodPost, "/checkout-sessions/cs_9/complete"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d merchant requests, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i].method != w.method || got[i].path != w.path {
			t.Fatalf("request %d: expected %s %s, got %s %s", i, w.method, w.path, got[i].method, got[i].path)
		}
		if got[i].keyID != keys.KeyID() {
			t.Fatalf("request %d: unexpected key id %q", i, got[i].keyID)
		}
	}
	if _, ok := got[2].body["token"]; !ok {
		t.Fatalf("expected complete payload to be the payment object, got %v", got[2].body)
	}
	if !reg.IsLoaded("dev.ucp.shopping.checkout") {
		t.Fatal("expected checkout capability to be loaded")
	}
}

func TestCallBeforeDiscoverNamesMissingStep(t *testing.T) {
	s, _, _ := newIntegratedSandbox(t)
	got := s.Run(context.Background(), `print("start")
ucp.call("dev.ucp.shopping.checkout", {})`)
	if !strings.HasPrefix(got, "start\n\nRuntime Error: ") || !strings.Contains(got, "ucp.discover(url)") {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestUnmappedToolAndServerDetailsSurface(t *testing.T) {
	srv, _ := newMerchantServer(t)
	s, _, _ := newIntegratedSandbox(t)

	got := s.Run(context.Background(), `ucp.discover("`+srv.URL+`")
ucp.call("dev.ucp.shopping.order", {})`)
	if !strings.Contains(got, "tool 'dev.ucp.shopping.order' is not currently mapped") {
		t.Fatalf("unexpected output %q", got)
	}

	got = s.Run(context.Background(), `ucp.discover("`+srv.URL+`")
ucp.call("dev.ucp.shopping.checkout", {currency = "XXX"})`)
	if !strings.Contains(got, "400") || !strings.Contains(got, "unsupported currency") {
		t.Fatalf("expected server detail in diagnostic, got %q", got)
	}
}
