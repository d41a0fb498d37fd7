package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumsec/tokend/internal/domain/models"
	"github.com/stratumsec/tokend/pkg/constants"
	"github.com/stratumsec/tokend/pkg/logger"
	"github.com/stratumsec/tokend/tests/fakes"
)

func expiredToken(userID string, age time.Duration) *models.IssuedToken {
	tok := models.NewIssuedToken("jti-"+userID+age.String(), userID, "client-1",
		constants.TokenTypeAccess, nil, "rsa-abc12345", time.Minute)
	tok.ExpiresAt = time.Now().UTC().Add(-age)
	return tok
}

func TestSweepRemovesOnlyRowsPastRetention(t *testing.T) {
	tokens := fakes.NewTokenRepository()
	ledger := fakes.NewRevocationRepository()
	ctx := context.Background()

	// Expired two days ago: past the 24h retention, prunable.
	old := expiredToken("user-1", 48*time.Hour)
	require.NoError(t, tokens.Save(ctx, old))
	require.NoError(t, ledger.Insert(ctx, models.NewRevocationEntry(old, constants.RevocationReasonLogout, "")))

	// Expired an hour ago: inside retention, kept.
	recent := expiredToken("user-2", time.Hour)
	require.NoError(t, tokens.Save(ctx, recent))

	// Still live, kept.
	live := models.NewIssuedToken("jti-live", "user-3", "client-1",
		constants.TokenTypeAccess, nil, "rsa-abc12345", time.Hour)
	require.NoError(t, tokens.Save(ctx, live))

	pruner := NewPruner(tokens, ledger, time.Hour, 24*time.Hour, 100, nil, logger.NewNop())
	pruner.Sweep(ctx)

	assert.Equal(t, 2, tokens.Count())
	assert.Nil(t, tokens.Get(old.TokenID))
	assert.NotNil(t, tokens.Get(recent.TokenID))
	assert.NotNil(t, tokens.Get(live.TokenID))
	assert.Equal(t, 0, ledger.Count(), "ledger entry for the long-expired token removed")
}

func TestSweepHonorsBatchSize(t *testing.T) {
	tokens := fakes.NewTokenRepository()
	ledger := fakes.NewRevocationRepository()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		tok := expiredToken("user", 48*time.Hour)
		tok.TokenID = tok.TokenID + string(rune('a'+i))
		require.NoError(t, tokens.Save(ctx, tok))
	}

	pruner := NewPruner(tokens, ledger, time.Hour, 24*time.Hour, 2, nil, logger.NewNop())
	pruner.Sweep(ctx)
	assert.Equal(t, 3, tokens.Count(), "one batch per sweep")

	pruner.Sweep(ctx)
	pruner.Sweep(ctx)
	assert.Equal(t, 0, tokens.Count())
}

func TestRunStopsOnCancel(t *testing.T) {
	pruner := NewPruner(fakes.NewTokenRepository(), fakes.NewRevocationRepository(),
		10*time.Millisecond, time.Hour, 10, nil, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pruner.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("pruner did not stop on cancel")
	}
}

type fakeRotator struct {
	needed       bool
	rotations    int
	cleanups     int
	lastCutoff   time.Time
	rotateErr    error
	cleanupCalls []time.Time
}

func (f *fakeRotator) RotateIfNeeded(context.Context) (bool, error) {
	if f.rotateErr != nil {
		return false, f.rotateErr
	}
	if f.needed {
		f.rotations++
		f.needed = false
		return true, nil
	}
	return false, nil
}

func (f *fakeRotator) CleanupExpiredKeys(_ context.Context, cutoff time.Time) (int64, error) {
	f.cleanups++
	f.lastCutoff = cutoff
	f.cleanupCalls = append(f.cleanupCalls, cutoff)
	return 0, nil
}

func TestRotationSweep(t *testing.T) {
	rotator := &fakeRotator{needed: true}
	sweeper := NewRotationSweeper(rotator, time.Hour, 24*time.Hour, nil, logger.NewNop())

	sweeper.Sweep(context.Background())
	assert.Equal(t, 1, rotator.rotations)
	assert.Equal(t, 1, rotator.cleanups)
	assert.WithinDuration(t, time.Now().UTC().Add(-24*time.Hour), rotator.lastCutoff, time.Minute)

	// Nothing to do on the next sweep.
	sweeper.Sweep(context.Background())
	assert.Equal(t, 1, rotator.rotations)
	assert.Equal(t, 2, rotator.cleanups)
}
