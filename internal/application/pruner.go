// Package application hosts the background jobs around the engine:
// the retention pruner and the scheduled key-rotation sweep.
package application

import (
	"context"
	"time"

	"github.com/stratumsec/tokend/internal/domain/repository"
	"github.com/stratumsec/tokend/internal/infrastructure/monitoring"
	"github.com/stratumsec/tokend/pkg/constants"
	"github.com/stratumsec/tokend/pkg/logger"
)

// Pruner removes expired token records and revocation entries once
// they have outlived the retention window. After an entry is pruned,
// expiry alone rejects the token, so correctness does not depend on
// the ledger keeping expired rows.
type Pruner struct {
	tokens    repository.TokenRepository
	ledger    repository.RevocationRepository
	interval  time.Duration
	retention time.Duration
	batchSize int
	metrics   *monitoring.Metrics
	log       logger.Logger
}

// NewPruner builds the retention pruner. metrics may be nil.
func NewPruner(tokens repository.TokenRepository, ledger repository.RevocationRepository,
	interval, retention time.Duration, batchSize int,
	metrics *monitoring.Metrics, log logger.Logger) *Pruner {
	return &Pruner{
		tokens:    tokens,
		ledger:    ledger,
		interval:  interval,
		retention: retention,
		batchSize: batchSize,
		metrics:   metrics,
		log:       log.WithComponent("pruner"),
	}
}

// Run sweeps on the configured interval until the context is canceled.
func (p *Pruner) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep removes one batch of prunable rows from each store. A failure
// in one store does not stop the other; the next sweep retries.
func (p *Pruner) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-p.retention)

	tokensRemoved, err := p.tokens.DeleteExpiredBefore(ctx, cutoff, p.batchSize)
	if err != nil {
		p.log.Error(ctx, "token prune failed", err)
		p.record("error", constants.TableNameIssuedTokens, 0)
	} else {
		p.record("success", constants.TableNameIssuedTokens, tokensRemoved)
	}

	entriesRemoved, err := p.ledger.DeleteExpiredBefore(ctx, cutoff, p.batchSize)
	if err != nil {
		p.log.Error(ctx, "revocation prune failed", err)
		p.record("error", constants.TableNameRevocationEntries, 0)
		return
	}
	p.record("success", constants.TableNameRevocationEntries, entriesRemoved)

	if tokensRemoved > 0 || entriesRemoved > 0 {
		p.log.Info(ctx, "retention sweep completed",
			logger.Int64("tokens_removed", tokensRemoved),
			logger.Int64("revocations_removed", entriesRemoved),
			logger.Time("cutoff", cutoff),
		)
	}
}

func (p *Pruner) record(result, table string, rows int64) {
	if p.metrics != nil {
		p.metrics.RecordPrune(result, table, rows)
	}
}

// KeyRotator runs the scheduled rotation sweep.
type KeyRotator interface {
	RotateIfNeeded(ctx context.Context) (bool, error)
	CleanupExpiredKeys(ctx context.Context, cutoff time.Time) (int64, error)
}

// RotationSweeper periodically rotates the active signing key once it
// exceeds the configured age and removes long-expired keys.
type RotationSweeper struct {
	keys      KeyRotator
	interval  time.Duration
	retention time.Duration
	metrics   *monitoring.Metrics
	log       logger.Logger
}

// NewRotationSweeper builds the rotation sweeper. metrics may be nil.
func NewRotationSweeper(keys KeyRotator, interval, retention time.Duration,
	metrics *monitoring.Metrics, log logger.Logger) *RotationSweeper {
	return &RotationSweeper{
		keys:      keys,
		interval:  interval,
		retention: retention,
		metrics:   metrics,
		log:       log.WithComponent("rotation_sweeper"),
	}
}

// Run sweeps on the configured interval until the context is canceled.
func (s *RotationSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep rotates if the active key is past its rotation age, then
// removes keys expired longer than the retention window.
func (s *RotationSweeper) Sweep(ctx context.Context) {
	rotated, err := s.keys.RotateIfNeeded(ctx)
	if err != nil {
		s.log.Error(ctx, "rotation sweep failed", err)
		return
	}
	if rotated {
		if s.metrics != nil {
			s.metrics.RecordKeyRotation()
		}
		s.log.Info(ctx, "signing key rotated by sweep")
	}

	cutoff := time.Now().UTC().Add(-s.retention)
	if _, err := s.keys.CleanupExpiredKeys(ctx, cutoff); err != nil {
		s.log.Error(ctx, "expired key cleanup failed", err)
	}
}
