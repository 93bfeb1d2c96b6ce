// Package orchestrator runs the platform phase by phase.
//
// A run checks network reachability, applies the cleanup policies and then
// starts services tier by tier in a fixed order:
//
//	external → core → secondary → infrastructure → container
//
// Services inside a tier start concurrently. A tier is joined completely
// before the next one begins, so no service of a later tier observes an
// earlier tier still starting. A failing service is recorded as unhealthy
// and never halts its siblings or later tiers. Only an unreachable network
// aborts a run.
//
// Outcomes are written to the aggregate state by the scheduling goroutine
// after each join, then persisted as a status report. Notifications are
// dispatched off the critical path.
package orchestrator
