package service

import (
	"fmt"

	"github.com/louisbranch/ucp-hub/internal/services/mcp/domain"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type mcpRegistrationModule struct {
	name     string
	register func(mcpRegistrationTarget) error
}

const (
	mcpCatalogToolsModuleName = "catalog-tools"
	mcpScriptToolsModuleName  = "script-tools"
	mcpKeyResourceModuleName  = "key-resources"
	mcpJournalModuleName      = "journal-resources"
)

type mcpServerRegistrationAdapter struct {
	server *mcp.Server
}

func (r mcpServerRegistrationAdapter) AddTool(tool *mcp.Tool, handler any) error {
	return addMCPTool(r.server, tool, handler)
}

func (r mcpServerRegistrationAdapter) AddResource(resource *mcp.Resource, handler mcp.ResourceHandler) {
	r.server.AddResource(resource, handler)
}

type mcpToolRegistrar struct {
	matches func(any) bool
	add     func(*mcp.Server, *mcp.Tool, any)
}

func newMCPToolRegistrar[I any, O any]() mcpToolRegistrar {
	return mcpToolRegistrar{
		matches: func(handler any) bool {
			_, ok := handler.(mcp.ToolHandlerFor[I, O])
			return ok
		},
		add: func(server *mcp.Server, tool *mcp.Tool, handler any) {
			mcp.AddTool(server, tool, handler.(mcp.ToolHandlerFor[I, O]))
		},
	}
}

var mcpToolRegistrars = []mcpToolRegistrar{
	newMCPToolRegistrar[domain.ToolSearchInput, domain.ToolSearchResult](),
	newMCPToolRegistrar[domain.RefreshDiscoveryInput, domain.RefreshDiscoveryResult](),
	newMCPToolRegistrar[domain.ExecuteScriptInput, domain.ExecuteScriptResult](),
}

func addMCPTool(server *mcp.Server, tool *mcp.Tool, handler any) error {
	for _, registrar := range mcpToolRegistrars {
		if registrar.matches(handler) {
			registrar.add(server, tool, handler)
			return nil
		}
	}
	toolName := "<nil>"
	if tool != nil {
		toolName = tool.Name
	}
	return fmt.Errorf("mcp registration adapter does not support handler type %T for tool %q", handler, toolName)
}

func newMCPRegistrationModules(server *Server) []mcpRegistrationModule {
	modules := []mcpRegistrationModule{
		{
			name: mcpCatalogToolsModuleName,
			register: func(registrar mcpRegistrationTarget) error {
				return registerCatalogTools(registrar, server.deps, server.cfg.DefaultURL, server.logger)
			},
		},
		{
			name: mcpScriptToolsModuleName,
			register: func(registrar mcpRegistrationTarget) error {
				return registerScriptTools(registrar, server.deps.Sandbox, server.logger)
			},
		},
		{
			name: mcpKeyResourceModuleName,
			register: func(registrar mcpRegistrationTarget) error {
				registerKeyResources(registrar, server.deps.Keys)
				return nil
			},
		},
	}
	if server.deps.Journal != nil {
		modules = append(modules, mcpRegistrationModule{
			name: mcpJournalModuleName,
			register: func(registrar mcpRegistrationTarget) error {
				registerJournalResources(registrar, server.deps.Journal)
				return nil
			},
		})
	}
	return modules
}
