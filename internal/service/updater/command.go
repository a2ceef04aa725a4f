package updater

import (
	"context"
	"errors"
	"fmt"

	"github.com/thelightscope/lightscope-updater/internal/config"
	"github.com/thelightscope/lightscope-updater/internal/domain/release"
	"github.com/thelightscope/lightscope-updater/internal/logger"
	"github.com/thelightscope/lightscope-updater/internal/repository/state"
	"github.com/thelightscope/lightscope-updater/internal/service/common"
	"github.com/thelightscope/lightscope-updater/internal/service/supervisor"
)

// Options are inputs accepted by the updater entry point.
type Options struct {
	// ConfigPath is the optional path to settings YAML file.
	ConfigPath string
	// CheckOnly skips applying and only reports whether an update exists.
	CheckOnly bool
}

// Run executes one update cycle and is the public entry point for the CLI.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "lightscope-updater")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	service, err := NewFromConfig(cfg)
	if err != nil {
		return err
	}

	actor, err := common.DetectActor()
	if err != nil {
		return err
	}

	ctx = logger.WithKV(ctx, "host", actor.Hostname)

	if opts.CheckOnly {
		result := service.CheckForUpdate(ctx)
		logger.InfoKV(ctx, "Check completed", "status", result.Status.String())

		if result.Status == release.CheckFailed {
			return fmt.Errorf("%w: %w", ErrCheckFailed, result.Reason)
		}

		return nil
	}

	result, err := service.RunOnce(ctx)
	if err != nil {
		logger.ErrorKV(ctx, "Update cycle failed",
			"result", result.String(), "error", err)

		return err
	}

	logger.InfoKV(ctx, "Update cycle completed", "result", result.String())

	return nil
}

// Exit codes of the one-shot CLI. Cron and service-manager callers alert on
// the integrity failures without parsing logs; a transient check failure is
// safe to retry silently.
const (
	// ExitOK: up to date or update applied.
	ExitOK = 0
	// ExitFailure: any failure not covered by a more specific code.
	ExitFailure = 1
	// ExitCheckFailed: the version endpoint could not be fetched or parsed.
	ExitCheckFailed = 2
	// ExitVerificationFailed: hash or signature rejection of the candidate.
	ExitVerificationFailed = 3
	// ExitRolledBack: post-swap integrity check failed, backup restored.
	ExitRolledBack = 4
	// ExitRollbackFailed: backup restore failed too; operator required.
	ExitRollbackFailed = 5
	// ExitInsecureTransport: an endpoint URL was not https.
	ExitInsecureTransport = 6
)

// ExitCode maps an error returned by Run to its exit code. More specific
// failures are matched first: a rolled-back update wraps its verification
// cause, and a failed check wraps the transport error that caused it.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrRollbackFailed):
		return ExitRollbackFailed
	case errors.Is(err, ErrUpdateRolledBack):
		return ExitRolledBack
	case errors.Is(err, ErrVerificationFailed):
		return ExitVerificationFailed
	case errors.Is(err, common.ErrInsecureTransport):
		return ExitInsecureTransport
	case errors.Is(err, ErrCheckFailed):
		return ExitCheckFailed
	default:
		return ExitFailure
	}
}

// NewFromConfig assembles the service with its production collaborators.
func NewFromConfig(cfg *config.Config) (*Service, error) {
	client := common.NewClient(common.WithCallTimeout(cfg.Timeout))
	states := state.NewFileRepository(cfg.StateFile)
	sup := supervisor.New(cfg.RestartCommand, cfg.CoreCommand, cfg.HeartbeatFile)

	return NewService(cfg, client, states, sup)
}
