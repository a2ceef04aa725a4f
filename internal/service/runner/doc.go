// Package runner is the long-running client-side loop.
//
// It keeps the monitored core process alive, emits a periodic liveness
// heartbeat, and invokes the update cycle on a poll interval. Update
// failures of any kind are logged and retried on the next poll; they never
// propagate into the supervision duties.
package runner
