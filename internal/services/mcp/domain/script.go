package domain

import (
	"context"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// noCodeMessage is returned when execute_script receives no code.
const noCodeMessage = "Error: No code provided."

// ScriptRunner executes orchestration scripts and returns their output.
type ScriptRunner interface {
	Run(ctx context.Context, code string) string
}

// ExecuteScriptInput represents the MCP tool input for script execution.
type ExecuteScriptInput struct {
	Code string `json:"code" jsonschema:"Lua source to execute"`
}

// ExecuteScriptResult represents the MCP tool output for script execution.
type ExecuteScriptResult struct {
	Output string `json:"output" jsonschema:"everything the script printed, followed by a Runtime Error line on failure"`
}

// ExecuteScriptTool defines the MCP tool schema for script execution.
func ExecuteScriptTool() *mcp.Tool {
	return &mcp.Tool{
		Name: "execute_script",
		Description: "Executes a Lua script to orchestrate UCP capabilities. " +
			"The script has access to a 'ucp' table with ucp.discover(url), " +
			"ucp.select_payment_method(name, amount, currency), and ucp.call(tool_name, args). " +
			"Use print to return results.",
	}
}

// ExecuteScriptHandler runs a script in the sandbox. Script failures are
// part of the output, not tool errors.
func ExecuteScriptHandler(runner ScriptRunner, logger *slog.Logger) mcp.ToolHandlerFor[ExecuteScriptInput, ExecuteScriptResult] {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ExecuteScriptInput) (*mcp.CallToolResult, ExecuteScriptResult, error) {
		invocationID := NewInvocationID()
		if strings.TrimSpace(input.Code) == "" {
			return textResult(invocationID, noCodeMessage), ExecuteScriptResult{Output: noCodeMessage}, nil
		}
		runCtx, cancel := context.WithTimeout(ctx, scriptCallTimeout)
		defer cancel()

		output := runner.Run(runCtx, input.Code)
		logger.InfoContext(ctx, "script executed", "invocation_id", invocationID, "bytes", len(output))
		return textResult(invocationID, output), ExecuteScriptResult{Output: output}, nil
	}
}
