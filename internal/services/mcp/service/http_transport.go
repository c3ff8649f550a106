package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/louisbranch/ucp-hub/internal/platform/timeouts"
	"github.com/louisbranch/ucp-hub/internal/services/mcp/domain"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var listenTCP = net.Listen

const (
	// mcpPath serves streamable MCP sessions.
	mcpPath = "/mcp"
	// healthPath reports liveness.
	healthPath = "/healthz"
	// jwksPath publishes the hub's public signing key.
	jwksPath = "/.well-known/jwks.json"

	// sessionIdleTimeout closes MCP sessions nobody has used for this long.
	sessionIdleTimeout = time.Hour
)

// HTTPTransport serves MCP over streamable HTTP next to the key and health
// endpoints.
type HTTPTransport struct {
	addr         string
	server       *mcp.Server
	keys         domain.KeySource
	allowedHosts map[string]struct{}
	logger       *slog.Logger
	httpServer   *http.Server
}

// NewHTTPTransport creates a transport for server listening on addr.
func NewHTTPTransport(addr string, server *mcp.Server, keys domain.KeySource, allowedHosts []string, logger *slog.Logger) *HTTPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPTransport{
		addr:         addr,
		server:       server,
		keys:         keys,
		allowedHosts: parseAllowedHosts(allowedHosts),
		logger:       logger,
	}
}

// Handler returns the HTTP routes served by the transport.
func (t *HTTPTransport) Handler() http.Handler {
	streamable := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return t.server
	}, &mcp.StreamableHTTPOptions{
		Logger:         t.logger,
		SessionTimeout: sessionIdleTimeout,
	})

	mux := http.NewServeMux()
	mux.Handle(mcpPath, t.guard(streamable))
	mux.HandleFunc(healthPath, t.handleHealth)
	mux.HandleFunc(jwksPath, t.handleJWKS)
	return mux
}

// Start serves HTTP until ctx ends, then shuts down gracefully.
func (t *HTTPTransport) Start(ctx context.Context) error {
	listener, err := listenTCP("tcp", t.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", t.addr, err)
	}
	return t.serve(ctx, listener)
}

func (t *HTTPTransport) serve(ctx context.Context, listener net.Listener) error {
	t.httpServer = &http.Server{
		Handler:           t.Handler(),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	t.logger.Info("starting MCP HTTP server", "addr", listener.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		if err := t.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("shutting down MCP HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.Shutdown)
		defer cancel()
		if err := t.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown HTTP server: %w", err)
		}
		return nil
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		return fmt.Errorf("HTTP server error: %w", err)
	}
}

// guard rejects requests whose Host or Origin fails validation.
func (t *HTTPTransport) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := t.validateRequest(r); err != nil {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealth handles GET /healthz.
func (t *HTTPTransport) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		t.logger.Warn("failed to write health response", "error", err)
	}
}

// handleJWKS handles GET /.well-known/jwks.json.
func (t *HTTPTransport) handleJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if t.keys == nil {
		http.Error(w, "signing key is not configured", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(t.keys.JWKSet()); err != nil {
		t.logger.Warn("failed to write jwks response", "error", err)
	}
}
