//go:build integration

// Package integration runs the hub binary as a black box over its public MCP
// transports against a fake merchant.
package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const merchantProfile = `{
  "ucp": {
    "version": "2026-01-11",
    "capabilities": [
      {"name": "dev.ucp.shopping.checkout", "version": "2026-01-11", "spec": "https://ucp.dev/specs/shopping/checkout"}
    ]
  },
  "payment": {"handlers": [{"id": "card", "name": "dev.ucp.payment.card"}]}
}`

// flowScript discovers the merchant, authorizes a payment, and opens a checkout.
const flowScript = `
local caps = ucp.discover(%q)
print("capabilities", #caps)
local pay = ucp.select_payment_method("card", 42.5, "USD")
local res = ucp.call("dev.ucp.shopping.checkout", {line_items = {{id = "sku-1", quantity = 1}}, payment = pay.token})
print("checkout", res.result.id, res.result.status)
`

// newMerchant serves a discovery profile and a checkout collection.
func newMerchant(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/ucp", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(merchantProfile))
	})
	mux.HandleFunc("POST /checkout-sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("signature") == "" || r.Header.Get("idempotency-key") == "" {
			http.Error(w, "missing conformance headers", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "cs_1", "status": "incomplete"})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// repoRoot walks up from this file to the directory holding go.mod.
func repoRoot(t *testing.T) string {
	t.Helper()

	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("failed to resolve runtime caller")
	}
	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("go.mod not found")
		}
		dir = parent
	}
}

// hubCommand builds a `go run ./cmd/mcp` invocation in its own process group.
func hubCommand(ctx context.Context, t *testing.T, args ...string) *exec.Cmd {
	t.Helper()

	cmd := exec.CommandContext(ctx, "go", append([]string{"run", "./cmd/mcp"}, args...)...)
	cmd.Dir = repoRoot(t)
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), "UCP_LOG_LEVEL=debug")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

// pickUnusedAddress returns a local address with a free port.
func pickUnusedAddress(t *testing.T) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()
	return listener.Addr().String()
}

// stopHubProcess interrupts the hub's process group and waits for exit.
func stopHubProcess(t *testing.T, cancel context.CancelFunc, cmd *exec.Cmd) {
	t.Helper()

	cancel()
	if cmd == nil || cmd.Process == nil {
		return
	}

	processGroupID := -cmd.Process.Pid
	_ = syscall.Kill(processGroupID, syscall.SIGINT)

	waitDone := make(chan error, 1)
	go func() {
		waitDone <- cmd.Wait()
	}()

	select {
	case err := <-waitDone:
		var exitErr *exec.ExitError
		if err != nil && !errors.Is(err, context.Canceled) && !errors.As(err, &exitErr) {
			t.Logf("hub exit: %v", err)
		}
	case <-time.After(5 * time.Second):
		_ = syscall.Kill(processGroupID, syscall.SIGKILL)
		<-waitDone
	}
}

// waitForHTTPHealth polls the health endpoint until it is ready. The first
// `go run` compiles the binary, so the deadline is generous.
func waitForHTTPHealth(t *testing.T, url string) {
	t.Helper()

	client := &http.Client{Timeout: time.Second}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("hub health check did not become ready")
}

// callTool invokes name and returns its text content, failing on tool errors.
func callTool(ctx context.Context, t *testing.T, session *mcp.ClientSession, name string, args map[string]any) string {
	t.Helper()

	result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("call %s: %v", name, err)
	}
	text := resultText(result)
	if result.IsError {
		t.Fatalf("call %s returned tool error: %s", name, text)
	}
	return text
}

func resultText(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// exerciseHub runs the discovery, search, and checkout flow over session.
func exerciseHub(ctx context.Context, t *testing.T, session *mcp.ClientSession, merchantURL string) {
	t.Helper()

	tools, err := session.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	names := make(map[string]bool)
	for _, tool := range tools.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"tool_search", "refresh_ucp_discovery", "execute_script"} {
		if !names[want] {
			t.Fatalf("expected tool %q in %v", want, names)
		}
	}

	refreshed := callTool(ctx, t, session, "refresh_ucp_discovery", map[string]any{"url": merchantURL})
	if !strings.Contains(refreshed, "Successfully discovered 1 capabilities") {
		t.Fatalf("unexpected refresh result: %s", refreshed)
	}

	found := callTool(ctx, t, session, "tool_search", map[string]any{"regex": "checkout"})
	if !strings.Contains(found, "dev.ucp.shopping.checkout") {
		t.Fatalf("expected checkout in search result: %s", found)
	}

	output := callTool(ctx, t, session, "execute_script", map[string]any{"code": sprintfScript(merchantURL)})
	if !strings.Contains(output, "capabilities\t1") || !strings.Contains(output, "checkout\tcs_1\tincomplete") {
		t.Fatalf("unexpected script output: %q", output)
	}
	if strings.Contains(output, "Runtime Error:") {
		t.Fatalf("script failed: %q", output)
	}

	key, err := session.ReadResource(ctx, &mcp.ReadResourceParams{URI: "ucp-hub://keys/signing"})
	if err != nil {
		t.Fatalf("read signing key: %v", err)
	}
	if len(key.Contents) != 1 || !strings.Contains(key.Contents[0].Text, `"crv": "Ed25519"`) {
		t.Fatalf("unexpected signing key resource: %+v", key.Contents)
	}
}

func sprintfScript(merchantURL string) string {
	quoted, _ := json.Marshal(merchantURL)
	return strings.Replace(flowScript, "%q", string(quoted), 1)
}
