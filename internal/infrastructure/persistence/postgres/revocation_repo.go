package postgres

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stratumsec/tokend/internal/domain/models"
	"github.com/stratumsec/tokend/internal/domain/repository"
	"github.com/stratumsec/tokend/pkg/constants"
	"github.com/stratumsec/tokend/pkg/errors"
	"github.com/stratumsec/tokend/pkg/logger"
)

type pgxRevocationRepository struct {
	pool *pgxpool.Pool
	log  logger.Logger
}

// NewRevocationRepository builds the pgx-backed revocation ledger.
func NewRevocationRepository(pool *pgxpool.Pool, log logger.Logger) repository.RevocationRepository {
	return &pgxRevocationRepository{pool: pool, log: log.WithComponent("revocation_repository")}
}

// Insert appends a ledger entry. ON CONFLICT DO NOTHING keeps repeated
// revocations of the same token idempotent at the storage level.
func (r *pgxRevocationRepository) Insert(ctx context.Context, entry *models.RevocationEntry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO revocation_entries (token_id, user_id, token_type, revoked_at, expires_at, reason, revoked_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (token_id) DO NOTHING`,
		entry.TokenID, entry.UserID, string(entry.TokenType),
		entry.RevokedAt, entry.ExpiresAt, entry.Reason, nullable(entry.RevokedBy))
	if err != nil {
		return errors.ErrStorage.WithCause(err)
	}
	return nil
}

func (r *pgxRevocationRepository) Exists(ctx context.Context, tokenID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM revocation_entries WHERE token_id = $1)`, tokenID).Scan(&exists)
	if err != nil {
		return false, errors.ErrStorage.WithCause(err)
	}
	return exists, nil
}

func (r *pgxRevocationRepository) FindByID(ctx context.Context, tokenID string) (*models.RevocationEntry, error) {
	var entry models.RevocationEntry
	var tokenType string
	var revokedBy *string
	err := r.pool.QueryRow(ctx,
		`SELECT token_id, user_id, token_type, revoked_at, expires_at, reason, revoked_by
		 FROM revocation_entries WHERE token_id = $1`, tokenID).
		Scan(&entry.TokenID, &entry.UserID, &tokenType,
			&entry.RevokedAt, &entry.ExpiresAt, &entry.Reason, &revokedBy)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.ErrTokenNotFound.WithMetadata("token_id", tokenID)
		}
		return nil, errors.ErrStorage.WithCause(err)
	}
	entry.TokenType = constants.TokenType(tokenType)
	if revokedBy != nil {
		entry.RevokedBy = *revokedBy
	}
	return &entry, nil
}

func (r *pgxRevocationRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	start := time.Now()
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM revocation_entries
		 WHERE token_id IN (
		     SELECT token_id FROM revocation_entries WHERE expires_at < $1 LIMIT $2
		 )`, cutoff, limit)
	if err != nil {
		return 0, errors.ErrStorage.WithCause(err)
	}
	if elapsed := time.Since(start); elapsed > slowQueryThreshold {
		r.log.Warn(ctx, "slow query",
			logger.String("query", "prune_revocations"),
			logger.Duration("elapsed", elapsed),
		)
	}
	return tag.RowsAffected(), nil
}
