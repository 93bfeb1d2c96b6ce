// Package api exposes platform operations as MCP tools over SSE.
//
// Tools:
//
//	platform_status   current status report
//	platform_up       run the orchestration once
//	platform_down     stop all services in reverse tier order
//	service_restart   stop then start one service
//	service_probe     one health check against one service
//	cleanup_run       apply retention policies (optionally as a dry run)
package api
