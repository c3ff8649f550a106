// Package discover implements the operator CLI that fetches and prints a
// merchant's UCP discovery profile.
package discover

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	entrypoint "github.com/louisbranch/ucp-hub/internal/platform/cmd"
	"github.com/louisbranch/ucp-hub/internal/platform/timeouts"
	"github.com/louisbranch/ucp-hub/internal/services/commerce/discovery"
)

// Config holds discovery CLI configuration.
type Config struct {
	URL          string        `env:"UCP_SERVER_URL"`
	Timeout      time.Duration `env:"UCP_HTTP_TIMEOUT"`
	AgentProfile string        `env:"UCP_AGENT_PROFILE"`
	Summary      bool
}

// ParseConfig parses env and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{
		URL:          "http://localhost:8182",
		Timeout:      timeouts.HTTPRequest,
		AgentProfile: discovery.DefaultAgentProfile,
	}
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.URL, "url", cfg.URL, "merchant base URL")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "request timeout")
	fs.StringVar(&cfg.AgentProfile, "agent-profile", cfg.AgentProfile, "UCP-Agent profile sent with the request")
	fs.BoolVar(&cfg.Summary, "summary", false, "print a capability summary instead of the raw profile")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return Config{}, errors.New("url is required")
	}
	return cfg, nil
}

// Run fetches the profile at cfg.URL and writes it to out.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		return errors.New("output is required")
	}
	client, err := discovery.NewClient(
		discovery.WithTimeout(cfg.Timeout),
		discovery.WithAgentProfile(cfg.AgentProfile),
	)
	if err != nil {
		return err
	}

	profile, err := client.Discover(ctx, cfg.URL)
	if err != nil {
		return Describe(err)
	}
	if cfg.Summary {
		return writeSummary(out, cfg.URL, profile)
	}

	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	_, err = fmt.Fprintf(out, "%s\n", data)
	return err
}

// Describe labels a discovery failure as unreachable or non-compliant.
func Describe(err error) error {
	switch {
	case err == nil:
		return nil
	case discovery.IsConformanceError(err):
		return fmt.Errorf("server non-compliant: %w", err)
	case discovery.IsDiscoveryError(err):
		return fmt.Errorf("server unreachable: %w", err)
	default:
		return err
	}
}

func writeSummary(out io.Writer, url string, profile *discovery.Profile) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Fprintf(out, "%s (UCP %s)\n", discovery.URL(url), profile.UCP.Version)
	yellow.Fprintln(out, "Capabilities:")
	if len(profile.UCP.Capabilities) == 0 {
		fmt.Fprintln(out, "  (none)")
	}
	for _, capability := range profile.UCP.Capabilities {
		green.Fprintf(out, "  %s", capability.Name)
		fmt.Fprintf(out, " v%s", capability.Version)
		if capability.Spec != "" {
			fmt.Fprintf(out, " %s", capability.Spec)
		}
		fmt.Fprintln(out)
	}
	handlers := profile.PaymentHandlers()
	if len(handlers) == 0 {
		return nil
	}
	yellow.Fprintln(out, "Payment handlers:")
	for _, handler := range handlers {
		green.Fprintf(out, "  %s", handler.ID)
		_, err := fmt.Fprintf(out, " (%s)\n", handler.Name)
		if err != nil {
			return err
		}
	}
	return nil
}
