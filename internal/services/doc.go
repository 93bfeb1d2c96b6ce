// Package services supervises the lifecycle of individual platform services.
//
// Every configured service is wrapped in one of three variants behind the
// Service interface:
//
//   - ProcessService: a local command spawned through `sh -c` in its own
//     session, tracked by a PID record and an append-only log file.
//   - ComposeService: a container stack driven through docker compose.
//   - ExternalService: something run by someone else; it is only probed.
//
// Start is idempotent. A process or compose service whose port is already
// bound and answers a health check is reported as Skipped and nothing is
// spawned. Otherwise any stale instance is stopped first (fully awaited)
// before the new one is started and probed.
//
// Stop sends SIGTERM to the process group, waits up to the grace period and
// then sends SIGKILL. Missing, unparseable or dead PID records are cleaned up
// silently.
//
// Failures never escape Start: they are recorded in the returned Outcome and
// in the service's RuntimeState.
package services
