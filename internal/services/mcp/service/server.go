package service

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/louisbranch/ucp-hub/internal/services/commerce/registry"
	"github.com/louisbranch/ucp-hub/internal/services/mcp/domain"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	serverName    = "UCP-to-MCP Hub"
	serverVersion = "0.1.0"
)

// TransportKind identifies the MCP transport implementation.
type TransportKind string

const (
	// TransportStdio uses standard input/output for MCP.
	TransportStdio TransportKind = "stdio"
	// TransportHTTP runs MCP over streamable HTTP for remote clients.
	TransportHTTP TransportKind = "http"
)

// ParseTransport validates a transport name.
func ParseTransport(value string) (TransportKind, error) {
	switch kind := TransportKind(strings.ToLower(strings.TrimSpace(value))); kind {
	case "":
		return TransportStdio, nil
	case TransportStdio, TransportHTTP:
		return kind, nil
	default:
		return "", fmt.Errorf("transport %q is not supported", value)
	}
}

// Config configures the MCP service.
type Config struct {
	Transport TransportKind
	// HTTPAddr is the listen address for HTTP transport.
	HTTPAddr string
	// AllowedHosts extends the loopback hosts accepted in Host and Origin
	// headers under HTTP transport.
	AllowedHosts []string
	// DefaultURL is the merchant refreshed when refresh_ucp_discovery gets no url.
	DefaultURL string
	Logger     *slog.Logger
}

// Registry is the capability store behind tool search and refresh.
type Registry interface {
	Search(pattern string) ([]registry.Descriptor, error)
	Register(capabilities []registry.Capability)
	Len() int
}

// Dependencies are the hub services exposed over MCP.
type Dependencies struct {
	Registry  Registry
	Discovery domain.ProfileDiscoverer
	Sandbox   domain.ScriptRunner
	Keys      domain.KeySource
	// Journal is optional; when set, recent dispatches are published as a
	// resource.
	Journal domain.JournalReader
}

// Server hosts the MCP server.
type Server struct {
	mcpServer *mcp.Server
	cfg       Config
	deps      Dependencies
	logger    *slog.Logger
}

// New registers the hub tools and resources on a fresh MCP server.
func New(cfg Config, deps Dependencies) (*Server, error) {
	if deps.Registry == nil || deps.Discovery == nil || deps.Sandbox == nil || deps.Keys == nil {
		return nil, fmt.Errorf("mcp server requires registry, discovery, sandbox, and keys")
	}
	if cfg.Transport == "" {
		cfg.Transport = TransportStdio
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, &mcp.ServerOptions{
		Logger: logger,
	})
	server := &Server{mcpServer: mcpServer, cfg: cfg, deps: deps, logger: logger}

	adapter := mcpServerRegistrationAdapter{server: mcpServer}
	for _, module := range newMCPRegistrationModules(server) {
		if err := module.register(adapter); err != nil {
			return nil, fmt.Errorf("register %s: %w", module.name, err)
		}
	}
	return server, nil
}

// MCPServer exposes the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}
