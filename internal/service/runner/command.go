package runner

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/thelightscope/lightscope-updater/internal/config"
	"github.com/thelightscope/lightscope-updater/internal/domain/release"
	"github.com/thelightscope/lightscope-updater/internal/logger"
	"github.com/thelightscope/lightscope-updater/internal/service/supervisor"
	"github.com/thelightscope/lightscope-updater/internal/service/updater"
)

// updateSource runs one check-then-apply cycle. Satisfied by *updater.Service.
type updateSource interface {
	RunOnce(ctx context.Context) (release.UpdateResult, error)
}

// Options controls the runner polling behavior and configuration.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// PollInterval overrides the update poll interval from the config.
	PollInterval time.Duration
	// NoUpdates supervises the core without ever self-updating.
	NoUpdates bool
}

const (
	// coreCheckInterval is how often the core process liveness is checked.
	coreCheckInterval = 30 * time.Second

	// heartbeatInterval is how often the liveness file is touched.
	heartbeatInterval = 30 * time.Second
)

// Run supervises the monitored core process and polls for updates.
//
// The two duties are deliberately decoupled: a failed update cycle is logged
// and retried on the next poll, and never interferes with keeping the core
// alive.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "lightscope-runner")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	// Long-running daemons log to a rotated file when one is configured;
	// one-shot tools stay on stderr.
	if cfg.LogFile != "" {
		logger.SetLogger(logger.NewWithRotatingFile(logger.Level(), cfg.LogFile))
	}

	pollInterval := cfg.PollInterval
	if opts.PollInterval > 0 {
		pollInterval = opts.PollInterval
	}

	sup := supervisor.New(cfg.RestartCommand, cfg.CoreCommand, cfg.HeartbeatFile)

	go sup.Heartbeat(ctx, heartbeatInterval)

	// A broken update subsystem (missing or unreadable pinned key) must not
	// take the monitored service down; the runner keeps supervising the
	// core and simply cannot self-update until an operator intervenes.
	var source updateSource

	if !opts.NoUpdates {
		service, serviceErr := updater.NewFromConfig(cfg)
		if serviceErr != nil {
			logger.ErrorKV(ctx, "Update subsystem disabled", "error", serviceErr)
		} else {
			source = service
		}
	}

	ensureCoreRunning(ctx, sup)

	logger.InfoKV(ctx, "Runner started",
		"poll_interval", pollInterval.String(),
		"updates_enabled", source != nil)

	updateTicker := time.NewTicker(pollInterval)
	defer updateTicker.Stop()

	coreTicker := time.NewTicker(coreCheckInterval)
	defer coreTicker.Stop()

	var updateInFlight atomic.Bool

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Context canceled, exiting")
			return nil
		case <-coreTicker.C:
			ensureCoreRunning(ctx, sup)
		case <-updateTicker.C:
			startUpdateCycle(ctx, source, &updateInFlight)
		}
	}
}

// ensureCoreRunning relaunches the core process when it is not alive.
// A config without a core command leaves supervision to the service manager.
func ensureCoreRunning(ctx context.Context, sup *supervisor.Supervisor) {
	if !sup.HasCore() {
		return
	}

	running, err := sup.IsCoreRunning()
	if err != nil {
		logger.WarnKV(ctx, "Core liveness check failed", "error", err)
		return
	}

	if running {
		return
	}

	if err = sup.StartCore(ctx); err != nil {
		logger.ErrorKV(ctx, "Core start failed", "error", err)
	}
}

// startUpdateCycle runs one cycle in its own goroutine so a slow download
// never delays core liveness checks. A tick arriving while a cycle is still
// in flight is dropped; the next tick picks up where it left off.
func startUpdateCycle(ctx context.Context, source updateSource, inFlight *atomic.Bool) {
	if source == nil {
		return
	}

	if !inFlight.CompareAndSwap(false, true) {
		logger.Warn(ctx, "Previous update cycle still running, skipping this poll")
		return
	}

	go func() {
		defer inFlight.Store(false)

		runUpdateCycle(ctx, source)
	}()
}

// runUpdateCycle performs one check-then-apply cycle. All failures are
// contained here; the runner loop never sees them.
func runUpdateCycle(ctx context.Context, source updateSource) {
	result, err := source.RunOnce(ctx)
	if err != nil {
		logger.ErrorKV(ctx, "Update cycle failed",
			"result", result.String(), "error", err)

		return
	}

	logger.InfoKV(ctx, "Update cycle completed", "result", result.String())
}
