package supervisor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/thelightscope/lightscope-updater/internal/logger"
)

// errNoRestartTarget is returned when neither a restart command nor a core
// command is configured.
var errNoRestartTarget = errors.New("no restart command or core command configured")

// Supervisor owns the restart contract with the external service manager and
// the liveness notification the watchdog observes.
type Supervisor struct {
	// restartCommand is handed to the service manager (e.g. systemctl).
	restartCommand []string
	// coreCommand relaunches the monitored core directly when no service
	// manager is in charge.
	coreCommand []string
	// heartbeatFile is touched periodically to signal liveness.
	heartbeatFile string

	// mu guards the tracked core process.
	mu sync.Mutex
	// coreProcess is the process last launched by StartCore, nil when the
	// core was started externally or has been reaped.
	coreProcess *os.Process
}

// New creates a supervisor with the provided contracts.
func New(restartCommand, coreCommand []string, heartbeatFile string) *Supervisor {
	return &Supervisor{
		restartCommand: restartCommand,
		coreCommand:    coreCommand,
		heartbeatFile:  heartbeatFile,
	}
}

// Restart asks the external process manager to restart the monitored core so
// it picks up a freshly installed artifact. When no service manager command
// is configured, the core processes are terminated and relaunched directly.
func (s *Supervisor) Restart(ctx context.Context) error {
	if len(s.restartCommand) > 0 {
		logger.InfoKV(ctx, "Signaling service manager to restart the core",
			"command", s.restartCommand)

		cmd := exec.CommandContext(ctx, s.restartCommand[0], s.restartCommand[1:]...)
		if output, err := cmd.CombinedOutput(); err != nil {
			logger.ErrorKV(ctx, "Restart command failed",
				"error", err, "output", string(output))

			return err
		}

		return nil
	}

	if len(s.coreCommand) == 0 {
		return errNoRestartTarget
	}

	if err := s.TerminateCore(ctx); err != nil {
		return err
	}

	return s.StartCore(ctx)
}

// HasCore reports whether a core launch command is configured.
func (s *Supervisor) HasCore() bool {
	return len(s.coreCommand) > 0
}

// StartCore launches the monitored core process without waiting for it.
// The launched process is tracked so termination and liveness checks never
// have to guess by name.
func (s *Supervisor) StartCore(ctx context.Context) error {
	if len(s.coreCommand) == 0 {
		return errNoRestartTarget
	}

	logger.InfoKV(ctx, "Starting core process", "command", s.coreCommand)

	cmd := exec.CommandContext(ctx, s.coreCommand[0], s.coreCommand[1:]...)

	if err := cmd.Start(); err != nil {
		return err
	}

	s.mu.Lock()
	s.coreProcess = cmd.Process
	s.mu.Unlock()

	// Reap the child when it exits so it never lingers as a zombie.
	go func() {
		_ = cmd.Wait()

		s.mu.Lock()
		if s.coreProcess == cmd.Process {
			s.coreProcess = nil
		}
		s.mu.Unlock()
	}()

	return nil
}

// TerminateCore kills the core process. The tracked process is always a
// candidate; a scan by executable name is attempted only for a dedicated
// core binary. When the core runs under an interpreter (python3, sh),
// matching by interpreter name would kill unrelated processes, so externally
// started interpreter cores are left to the service manager.
func (s *Supervisor) TerminateCore(ctx context.Context) error {
	if len(s.coreCommand) == 0 {
		return nil
	}

	s.mu.Lock()
	tracked := s.coreProcess
	s.coreProcess = nil
	s.mu.Unlock()

	if tracked != nil {
		logger.InfoKV(ctx, "Terminating tracked core process", "pid", tracked.Pid)

		if err := tracked.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
	}

	if !s.coreIsDedicatedExecutable() {
		return nil
	}

	coreName := filepath.Base(s.coreCommand[0])

	processList, err := ps.Processes()
	if err != nil {
		return err
	}

	thisProcessID := os.Getpid()

	for _, process := range processList {
		processID := process.Pid()
		if processID == thisProcessID || (tracked != nil && processID == tracked.Pid) {
			continue
		}

		if process.Executable() != coreName {
			continue
		}

		runningProcess, err := os.FindProcess(processID)
		if err != nil {
			return err
		}

		logger.InfoKV(ctx, "Terminating core process", "pid", processID, "name", coreName)

		if err = runningProcess.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
	}

	return nil
}

// IsCoreRunning reports whether the core process is alive. The tracked
// process is authoritative; the name scan only applies to a dedicated core
// binary, for the same reason TerminateCore restricts it.
func (s *Supervisor) IsCoreRunning() (bool, error) {
	if len(s.coreCommand) == 0 {
		return false, nil
	}

	s.mu.Lock()
	tracked := s.coreProcess
	s.mu.Unlock()

	if tracked != nil {
		return true, nil
	}

	if !s.coreIsDedicatedExecutable() {
		return false, nil
	}

	coreName := filepath.Base(s.coreCommand[0])

	processList, err := ps.Processes()
	if err != nil {
		return false, err
	}

	thisProcessID := os.Getpid()

	for _, process := range processList {
		if process.Pid() == thisProcessID {
			continue
		}

		if process.Executable() == coreName {
			return true, nil
		}
	}

	return false, nil
}

// coreIsDedicatedExecutable reports whether the core command is a bare
// binary rather than an interpreter invocation with arguments.
func (s *Supervisor) coreIsDedicatedExecutable() bool {
	return len(s.coreCommand) == 1
}

// Heartbeat touches the liveness file on the provided interval until the
// context is canceled. An external watchdog treats a stale file as a hang.
func (s *Supervisor) Heartbeat(ctx context.Context, interval time.Duration) {
	if s.heartbeatFile == "" || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.touchHeartbeat(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.touchHeartbeat(ctx)
		}
	}
}

// touchHeartbeat updates the liveness file's modification time.
func (s *Supervisor) touchHeartbeat(ctx context.Context) {
	now := time.Now()

	if err := os.Chtimes(s.heartbeatFile, now, now); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.WarnKV(ctx, "Heartbeat update failed", "error", err)
			return
		}

		if err = os.WriteFile(s.heartbeatFile, nil, 0o644); err != nil {
			logger.WarnKV(ctx, "Heartbeat creation failed", "error", err)
		}
	}
}
