// Package mcp resolves hub configuration and wires the hub's services onto
// the MCP server.
package mcp

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/ucp-hub/internal/platform/cmd"
	"github.com/louisbranch/ucp-hub/internal/platform/config"
	"github.com/louisbranch/ucp-hub/internal/platform/timeouts"
	"github.com/louisbranch/ucp-hub/internal/services/commerce/discovery"
	"github.com/louisbranch/ucp-hub/internal/services/commerce/dispatch"
	"github.com/louisbranch/ucp-hub/internal/services/commerce/journal"
	"github.com/louisbranch/ucp-hub/internal/services/commerce/registry"
	"github.com/louisbranch/ucp-hub/internal/services/commerce/sandbox"
	"github.com/louisbranch/ucp-hub/internal/services/commerce/security"
	"github.com/louisbranch/ucp-hub/internal/services/mcp/service"
)

// Defaults applied before the environment, config file, and flags.
const (
	DefaultHost       = "0.0.0.0"
	DefaultPort       = 10101
	DefaultTransport  = "stdio"
	DefaultLogLevel   = "info"
	DefaultServerURL  = "http://localhost:8182"
	DefaultMandateTTL = 300
)

// DefaultEndpoints maps the checkout capability to its REST collection.
func DefaultEndpoints() map[string]string {
	return map[string]string{"dev.ucp.shopping.checkout": "/checkout-sessions"}
}

// DefaultSandboxModules are the trusted Lua libraries enabled out of the box.
func DefaultSandboxModules() []string {
	return []string{"string", "table", "math", "json"}
}

// Config holds hub configuration. Field tags name the environment variable,
// the YAML key, and the TOML key.
type Config struct {
	ConfigPath        string            `env:"UCP_CONFIG_PATH"         yaml:"-"                   toml:"-"`
	Host              string            `env:"UCP_HOST"                yaml:"host"                toml:"host"`
	Port              int               `env:"UCP_PORT"                yaml:"port"                toml:"port"`
	Transport         string            `env:"UCP_TRANSPORT"           yaml:"transport"           toml:"transport"`
	LogLevel          string            `env:"UCP_LOG_LEVEL"           yaml:"log_level"           toml:"log_level"`
	ServerURL         string            `env:"UCP_SERVER_URL"          yaml:"ucp_server_url"      toml:"ucp_server_url"`
	Endpoints         map[string]string `env:"UCP_ENDPOINT_MAP"        yaml:"endpoint_map"        toml:"endpoint_map"        envKeyValSeparator:":" envSeparator:","`
	SandboxModules    []string          `env:"UCP_SANDBOX_MODULES"     yaml:"sandbox_modules"     toml:"sandbox_modules"     envSeparator:","`
	HTTPTimeout       time.Duration     `env:"UCP_HTTP_TIMEOUT"        yaml:"http_timeout"        toml:"http_timeout"`
	MandateTTLSeconds int               `env:"UCP_MANDATE_TTL_SECONDS" yaml:"mandate_ttl_seconds" toml:"mandate_ttl_seconds"`
	AgentProfile      string            `env:"UCP_AGENT_PROFILE"       yaml:"agent_profile"       toml:"agent_profile"`
	MandateAudience   string            `env:"UCP_MANDATE_AUDIENCE"    yaml:"mandate_audience"    toml:"mandate_audience"`
	JournalPath       string            `env:"UCP_JOURNAL_PATH"        yaml:"journal_path"        toml:"journal_path"`
	AllowedHosts      []string          `env:"UCP_ALLOWED_HOSTS"       yaml:"allowed_hosts"       toml:"allowed_hosts"       envSeparator:","`
}

// ParseConfig resolves configuration with precedence flags > env > config
// file > defaults.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{
		Host:              DefaultHost,
		Port:              DefaultPort,
		Transport:         DefaultTransport,
		LogLevel:          DefaultLogLevel,
		ServerURL:         DefaultServerURL,
		SandboxModules:    DefaultSandboxModules(),
		HTTPTimeout:       timeouts.HTTPRequest,
		MandateTTLSeconds: DefaultMandateTTL,
		AgentProfile:      discovery.DefaultAgentProfile,
		MandateAudience:   sandbox.DefaultBeneficiary,
	}

	fs.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "config file (YAML, or TOML by .toml extension)")
	fs.StringVar(&cfg.Host, "host", cfg.Host, "HTTP listen host")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "Transport type: stdio or http")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&cfg.ServerURL, "server-url", cfg.ServerURL, "default merchant URL for discovery refresh")
	fs.Var((*listFlag)(&cfg.SandboxModules), "sandbox-modules", "comma-separated trusted Lua modules")
	fs.DurationVar(&cfg.HTTPTimeout, "http-timeout", cfg.HTTPTimeout, "timeout for each outbound merchant request")
	fs.IntVar(&cfg.MandateTTLSeconds, "mandate-ttl", cfg.MandateTTLSeconds, "payment mandate lifetime in seconds")
	fs.StringVar(&cfg.JournalPath, "journal", cfg.JournalPath, "SQLite file recording dispatches (disabled when empty)")

	err := entrypoint.ParseLayeredConfig(&cfg, fs, args, func(c *Config) entrypoint.ConfigFile {
		if path := strings.TrimSpace(c.ConfigPath); path != "" {
			return entrypoint.ConfigFile{Path: path, Explicit: true}
		}
		return entrypoint.ConfigFile{Path: config.DefaultFile}
	})
	if err != nil {
		return Config{}, err
	}
	if len(cfg.Endpoints) == 0 {
		cfg.Endpoints = DefaultEndpoints()
	}
	return cfg, cfg.Validate()
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d is out of range", c.Port)
	}
	if _, err := service.ParseTransport(c.Transport); err != nil {
		return err
	}
	if _, err := config.ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be positive, got %s", c.HTTPTimeout)
	}
	if c.MandateTTLSeconds <= 0 {
		return fmt.Errorf("mandate ttl must be positive, got %d", c.MandateTTLSeconds)
	}
	for name, path := range c.Endpoints {
		if strings.TrimSpace(name) == "" || !strings.HasPrefix(path, "/") {
			return fmt.Errorf("endpoint %q must map to an absolute path, got %q", name, path)
		}
	}
	return nil
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Run builds the hub and serves MCP until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceMCP, func(ctx context.Context) error {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		// stdout carries the stdio transport, so logs go to stderr.
		logger := config.NewLogger(os.Stderr, level)
		slog.SetDefault(logger)

		h, cleanup, err := newHub(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		logger.Info("ucp hub ready",
			"transport", cfg.Transport,
			"key_id", h.keys.KeyID(),
			"server_url", cfg.ServerURL,
			"sandbox_modules", strings.Join(h.sandbox.Modules(), ","),
		)
		return h.server.Run(ctx)
	})
}

type hub struct {
	keys    *security.KeyManager
	sandbox *sandbox.Sandbox
	server  *service.Server
}

// newHub constructs every hub component. cleanup releases the journal.
func newHub(ctx context.Context, cfg Config, logger *slog.Logger) (*hub, func(), error) {
	cleanup := func() {}

	keys, err := security.NewKeyManager()
	if err != nil {
		return nil, cleanup, fmt.Errorf("generate signing key: %w", err)
	}

	capabilities := registry.New(logger)

	client, err := discovery.NewClient(
		discovery.WithTimeout(cfg.HTTPTimeout),
		discovery.WithAgentProfile(cfg.AgentProfile),
		discovery.WithLogger(logger),
	)
	if err != nil {
		return nil, cleanup, fmt.Errorf("create discovery client: %w", err)
	}

	dispatchOpts := []dispatch.Option{dispatch.WithLogger(logger)}
	var store *journal.Store
	if path := strings.TrimSpace(cfg.JournalPath); path != "" {
		store, err = journal.Open(ctx, path)
		if err != nil {
			return nil, cleanup, fmt.Errorf("open dispatch journal: %w", err)
		}
		cleanup = func() {
			if err := store.Close(); err != nil {
				logger.Warn("close dispatch journal", "error", err)
			}
		}
		dispatchOpts = append(dispatchOpts, dispatch.WithRecorder(store))
	}
	dispatcher := dispatch.New(keys, dispatch.Config{
		Endpoints:    cfg.Endpoints,
		Timeout:      cfg.HTTPTimeout,
		AgentProfile: cfg.AgentProfile,
	}, dispatchOpts...)

	mandates := security.NewMandateIssuer(keys, time.Duration(cfg.MandateTTLSeconds)*time.Second)

	box, err := sandbox.New(sandbox.Dependencies{
		Registry:   capabilities,
		Discovery:  client,
		Dispatcher: dispatcher,
		Mandates:   mandates,
	}, sandbox.Options{
		Modules:     cfg.SandboxModules,
		Beneficiary: cfg.MandateAudience,
		Logger:      logger,
	})
	if err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("create sandbox: %w", err)
	}

	transport, err := service.ParseTransport(cfg.Transport)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	deps := service.Dependencies{
		Registry:  capabilities,
		Discovery: client,
		Sandbox:   box,
		Keys:      keys,
	}
	if store != nil {
		deps.Journal = store
	}
	server, err := service.New(service.Config{
		Transport:    transport,
		HTTPAddr:     cfg.Addr(),
		AllowedHosts: cfg.AllowedHosts,
		DefaultURL:   cfg.ServerURL,
		Logger:       logger,
	}, deps)
	if err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("create mcp server: %w", err)
	}

	return &hub{keys: keys, sandbox: box, server: server}, cleanup, nil
}

// listFlag is a comma-separated flag value backed by a string slice.
type listFlag []string

func (l *listFlag) String() string {
	if l == nil {
		return ""
	}
	return strings.Join(*l, ",")
}

func (l *listFlag) Set(value string) error {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*l = items
	return nil
}
