// Package orchestrator fans one lookup out to many source tasks, records one
// outcome per task on a run and finalizes the run with an aggregate status.
//
// Tasks run in their own goroutines under a shared ConcurrencyLimiter. Task
// contexts are detached from the caller, so a disconnecting caller never
// cancels in-flight lookups; only the optional run deadline does. A Reaper
// finalizes runs left IN_PROGRESS by a crashed process.
package orchestrator
