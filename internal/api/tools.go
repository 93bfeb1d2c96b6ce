package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"platformctl/internal/orchestrator"
)

func toolDefinitions() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool("platform_status",
			mcp.WithDescription("Current status of every service and the last cleanup"),
		),
		mcp.NewTool("platform_up",
			mcp.WithDescription("Run the orchestration once: network check, cleanup, then all tiers in order"),
		),
		mcp.NewTool("platform_down",
			mcp.WithDescription("Stop all services in reverse tier order"),
		),
		mcp.NewTool("service_restart",
			mcp.WithDescription("Stop a service, wait for the stop to complete, then start it"),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Service name"),
			),
		),
		mcp.NewTool("service_probe",
			mcp.WithDescription("Run one health check against a service"),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Service name"),
			),
		),
		mcp.NewTool("cleanup_run",
			mcp.WithDescription("Apply the retention policies"),
			mcp.WithBoolean("dry_run",
				mcp.Description("Only report what would be removed"),
			),
		),
	}
}

func (s *Server) registerTools() {
	handlers := map[string]server.ToolHandlerFunc{
		"platform_status": s.handleStatus,
		"platform_up":     s.handleUp,
		"platform_down":   s.handleDown,
		"service_restart": s.handleRestart,
		"service_probe":   s.handleProbe,
		"cleanup_run":     s.handleCleanup,
	}
	for _, tool := range toolDefinitions() {
		s.mcpServer.AddTool(tool, handlers[tool.Name])
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.config.Platform.Report())
}

func (s *Server) handleUp(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.config.Platform.Run(ctx)
	if err != nil && errors.Is(err, orchestrator.ErrNetworkUnreachable) {
		return mcp.NewToolResultError(fmt.Sprintf("Run aborted: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"run_id":  result.RunID,
		"summary": result.Report.Summary,
		"changes": result.Changes,
		"report":  result.Report,
	})
}

func (s *Server) handleDown(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.config.Platform.StopAll(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to stop all services: %v", err)), nil
	}
	return mcp.NewToolResultText("All services stopped"), nil
}

func (s *Server) handleRestart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}
	out, err := s.config.Platform.Restart(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to restart service: %v", err)), nil
	}
	return jsonResult(out.State)
}

func (s *Server) handleProbe(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}
	res, err := s.config.Platform.Probe(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to probe service: %v", err)), nil
	}
	return jsonResult(res)
}

func (s *Server) handleCleanup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var runner orchestrator.CleanupRunner
	if req.GetBool("dry_run", false) {
		if s.config.DryRunCleanup == nil {
			return mcp.NewToolResultError("dry runs are not available"), nil
		}
		runner = s.config.DryRunCleanup
	}
	return jsonResult(s.config.Platform.RunCleanup(ctx, runner))
}
