package domain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/louisbranch/ucp-hub/internal/services/commerce/discovery"
	"github.com/louisbranch/ucp-hub/internal/services/commerce/registry"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ProfileDiscoverer fetches a merchant's discovery profile.
type ProfileDiscoverer interface {
	Discover(ctx context.Context, baseURL string) (*discovery.Profile, error)
}

// CapabilityStore ingests discovered capabilities.
type CapabilityStore interface {
	Register(capabilities []registry.Capability)
	Len() int
}

// RefreshDiscoveryInput represents the MCP tool input for a discovery refresh.
type RefreshDiscoveryInput struct {
	URL string `json:"url,omitempty" jsonschema:"merchant base URL (defaults to the configured server)"`
}

// RefreshDiscoveryResult represents the MCP tool output for a discovery refresh.
type RefreshDiscoveryResult struct {
	URL          string `json:"url" jsonschema:"merchant base URL that was discovered"`
	Discovered   int    `json:"discovered" jsonschema:"capabilities advertised by the merchant"`
	Capabilities int    `json:"capabilities" jsonschema:"capabilities now known to the hub"`
	Message      string `json:"message" jsonschema:"human readable status"`
}

// RefreshDiscoveryTool defines the MCP tool schema for a discovery refresh.
func RefreshDiscoveryTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "refresh_ucp_discovery",
		Description: "Triggers a fresh discovery against the UCP Merchant URL. This populates the internal registry with deferred tools.",
	}
}

// RefreshDiscoveryHandler discovers a merchant and registers its capabilities.
func RefreshDiscoveryHandler(discoverer ProfileDiscoverer, store CapabilityStore, defaultURL string, logger *slog.Logger) mcp.ToolHandlerFor[RefreshDiscoveryInput, RefreshDiscoveryResult] {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, _ *mcp.CallToolRequest, input RefreshDiscoveryInput) (*mcp.CallToolResult, RefreshDiscoveryResult, error) {
		if discoverer == nil || store == nil {
			return nil, RefreshDiscoveryResult{}, fmt.Errorf("discovery is not configured")
		}
		invocationID := NewInvocationID()
		url := strings.TrimSpace(input.URL)
		if url == "" {
			url = defaultURL
		}

		runCtx, cancel := context.WithTimeout(ctx, refreshCallTimeout)
		defer cancel()

		profile, err := discoverer.Discover(runCtx, url)
		if err != nil {
			logger.WarnContext(ctx, "discovery refresh failed", "invocation_id", invocationID, "url", url, "error", err)
			return nil, RefreshDiscoveryResult{}, discoveryFailure(err)
		}
		capabilities := profile.Capabilities()
		store.Register(capabilities)

		total := store.Len()
		result := RefreshDiscoveryResult{
			URL:          url,
			Discovered:   len(capabilities),
			Capabilities: total,
			Message:      fmt.Sprintf("Successfully discovered %d capabilities from %s. They are now available via tool search.", total, url),
		}
		logger.InfoContext(ctx, "discovery refreshed", "invocation_id", invocationID, "url", url, "capabilities", total)
		return textResult(invocationID, result.Message), result, nil
	}
}

// discoveryFailure keeps unreachable and non-compliant merchants apart.
func discoveryFailure(err error) error {
	switch {
	case discovery.IsConformanceError(err):
		return fmt.Errorf("Discovery failed (server non-compliant): %w", err)
	case discovery.IsDiscoveryError(err):
		return fmt.Errorf("Discovery failed (server unreachable): %w", err)
	default:
		return fmt.Errorf("Discovery failed: %w", err)
	}
}
