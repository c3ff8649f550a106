package service

import (
	"fmt"
	"log/slog"

	"github.com/louisbranch/ucp-hub/internal/services/mcp/domain"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type mcpRegistrationTarget interface {
	AddTool(*mcp.Tool, any) error
	AddResource(*mcp.Resource, mcp.ResourceHandler)
}

func registerCatalogTools(registrar mcpRegistrationTarget, deps Dependencies, defaultURL string, logger *slog.Logger) error {
	if err := registerTool(registrar, domain.ToolSearchTool(), domain.ToolSearchHandler(deps.Registry, logger)); err != nil {
		return err
	}
	return registerTool(registrar, domain.RefreshDiscoveryTool(), domain.RefreshDiscoveryHandler(deps.Discovery, deps.Registry, defaultURL, logger))
}

func registerScriptTools(registrar mcpRegistrationTarget, runner domain.ScriptRunner, logger *slog.Logger) error {
	return registerTool(registrar, domain.ExecuteScriptTool(), domain.ExecuteScriptHandler(runner, logger))
}

func registerKeyResources(registrar mcpRegistrationTarget, keys domain.KeySource) {
	registrar.AddResource(domain.SigningKeyResource(), domain.SigningKeyResourceHandler(keys))
}

func registerJournalResources(registrar mcpRegistrationTarget, journal domain.JournalReader) {
	registrar.AddResource(domain.DispatchJournalResource(), domain.DispatchJournalResourceHandler(journal))
}

func registerTool(registrar mcpRegistrationTarget, tool *mcp.Tool, handler any) error {
	if tool == nil {
		return fmt.Errorf("tool is nil")
	}
	return registrar.AddTool(tool, handler)
}
