// Package deployment holds the domain model of a remote deployment:
// the fully specified deploy options, the polled job with its counters and
// failures, the per-track state machine states, the typed errors of the
// deployment pipeline, and the record persisted after each run.
package deployment
