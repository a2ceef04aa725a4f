package updater

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thelightscope/lightscope-updater/internal/service/common"
)

// TestExitCode maps cycle outcomes to distinguishable exit codes, including
// wrapped causes: a rollback carries its verification cause, and a failed
// check carries the transport error underneath.
func TestExitCode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, ExitOK},
		{"unclassified", errors.New("disk full"), ExitFailure},
		{"check failed", fmt.Errorf("%w: connection refused", ErrCheckFailed), ExitCheckFailed},
		{"verification failed", fmt.Errorf("%w: content hash mismatch", ErrVerificationFailed), ExitVerificationFailed},
		{
			"rolled back wraps verification cause",
			fmt.Errorf("%w: %w", ErrUpdateRolledBack, ErrVerificationFailed),
			ExitRolledBack,
		},
		{
			"rollback failure outranks everything",
			fmt.Errorf("%w: read backup: %w", ErrRollbackFailed, errors.New("no such file")),
			ExitRollbackFailed,
		},
		{
			"insecure transport",
			fmt.Errorf("download artifact: %w", common.ErrInsecureTransport),
			ExitInsecureTransport,
		},
		{
			"insecure transport during check stays security-relevant",
			fmt.Errorf("%w: %w", ErrCheckFailed, common.ErrInsecureTransport),
			ExitInsecureTransport,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tc.want, ExitCode(tc.err))
		})
	}
}

// TestRunOnce_CheckFailureCarriesSentinel ensures an unreachable endpoint
// surfaces as ErrCheckFailed so callers can tell a transient check failure
// from an integrity failure.
func TestRunOnce_CheckFailureCarriesSentinel(t *testing.T) {
	artifact := []byte("ls_version = \"0.0.102\"\n")

	dist := serveRelease(t, "0.0.102", artifact, testSigningKey(t))
	service, _, _ := newTestService(t, dist)

	dist.server.Close()

	_, err := service.RunOnce(context.Background())
	require.ErrorIs(t, err, ErrCheckFailed)
	require.Equal(t, ExitCheckFailed, ExitCode(err))
}
