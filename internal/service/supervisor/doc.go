// Package supervisor implements the restart and liveness contracts with the
// external process manager.
//
// After a successful update the updater calls Restart, which either invokes
// the configured service-manager command or terminates and relaunches the
// core process directly. Heartbeat periodically touches a liveness file so
// an external watchdog can detect a hung runner.
package supervisor
