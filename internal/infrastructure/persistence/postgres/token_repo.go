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

// slowQueryThreshold is the latency beyond which a repository query is
// logged for investigation.
const slowQueryThreshold = 100 * time.Millisecond

type pgxTokenRepository struct {
	pool *pgxpool.Pool
	log  logger.Logger
}

// NewTokenRepository builds the pgx-backed issued-token store.
func NewTokenRepository(pool *pgxpool.Pool, log logger.Logger) repository.TokenRepository {
	return &pgxTokenRepository{pool: pool, log: log.WithComponent("token_repository")}
}

const tokenColumns = `token_id, user_id, client_id, token_type, scopes, signing_key_id,
	issued_at, expires_at, revoked, revoked_at, revocation_reason, last_used_at`

const insertTokenSQL = `
	INSERT INTO issued_tokens (` + tokenColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

func (r *pgxTokenRepository) Save(ctx context.Context, token *models.IssuedToken) error {
	start := time.Now()
	_, err := r.pool.Exec(ctx, insertTokenSQL, tokenArgs(token)...)
	r.observe(ctx, "save_token", start)
	if err != nil {
		return errors.ErrStorage.WithCause(err)
	}
	return nil
}

// SaveBatch writes the whole token set in one transaction so issuance
// is all-or-nothing.
func (r *pgxTokenRepository) SaveBatch(ctx context.Context, tokens []*models.IssuedToken) error {
	if len(tokens) == 0 {
		return nil
	}
	start := time.Now()
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, token := range tokens {
			batch.Queue(insertTokenSQL, tokenArgs(token)...)
		}
		results := tx.SendBatch(ctx, batch)
		defer results.Close()
		for range tokens {
			if _, err := results.Exec(); err != nil {
				return err
			}
		}
		return nil
	})
	r.observe(ctx, "save_token_batch", start)
	if err != nil {
		return errors.ErrStorage.WithCause(err)
	}
	return nil
}

func (r *pgxTokenRepository) FindByID(ctx context.Context, tokenID string) (*models.IssuedToken, error) {
	start := time.Now()
	row := r.pool.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM issued_tokens WHERE token_id = $1`, tokenID)
	token, err := scanToken(row)
	r.observe(ctx, "find_token", start)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.ErrTokenNotFound.WithMetadata("token_id", tokenID)
		}
		return nil, errors.ErrStorage.WithCause(err)
	}
	return token, nil
}

func (r *pgxTokenRepository) FindActiveByUser(ctx context.Context, userID string) ([]*models.IssuedToken, error) {
	start := time.Now()
	rows, err := r.pool.Query(ctx,
		`SELECT `+tokenColumns+` FROM issued_tokens
		 WHERE user_id = $1 AND NOT revoked AND expires_at > now()
		 ORDER BY issued_at`, userID)
	if err != nil {
		return nil, errors.ErrStorage.WithCause(err)
	}
	defer rows.Close()

	var tokens []*models.IssuedToken
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, errors.ErrStorage.WithCause(err)
		}
		tokens = append(tokens, token)
	}
	r.observe(ctx, "find_active_by_user", start)
	if err := rows.Err(); err != nil {
		return nil, errors.ErrStorage.WithCause(err)
	}
	return tokens, nil
}

// Revoke performs the conditional single-use claim: only the caller
// whose UPDATE matches the unrevoked row wins. Concurrent revocations
// of the same token see claimed=false, which refresh rotation maps to
// a token_revoked outcome.
func (r *pgxTokenRepository) Revoke(ctx context.Context, tokenID, reason string, revokedAt time.Time) (bool, error) {
	start := time.Now()
	tag, err := r.pool.Exec(ctx,
		`UPDATE issued_tokens
		 SET revoked = TRUE, revoked_at = $2, revocation_reason = $3
		 WHERE token_id = $1 AND NOT revoked`,
		tokenID, revokedAt, reason)
	r.observe(ctx, "revoke_token", start)
	if err != nil {
		return false, errors.ErrStorage.WithCause(err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	// Distinguish already-revoked from never-issued.
	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM issued_tokens WHERE token_id = $1)`, tokenID).Scan(&exists); err != nil {
		return false, errors.ErrStorage.WithCause(err)
	}
	if !exists {
		return false, errors.ErrTokenNotFound.WithMetadata("token_id", tokenID)
	}
	return false, nil
}

func (r *pgxTokenRepository) TouchLastUsed(ctx context.Context, tokenID string, usedAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE issued_tokens SET last_used_at = $2 WHERE token_id = $1`, tokenID, usedAt)
	if err != nil {
		return errors.ErrStorage.WithCause(err)
	}
	return nil
}

func (r *pgxTokenRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	start := time.Now()
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM issued_tokens
		 WHERE token_id IN (
		     SELECT token_id FROM issued_tokens WHERE expires_at < $1 LIMIT $2
		 )`, cutoff, limit)
	r.observe(ctx, "prune_tokens", start)
	if err != nil {
		return 0, errors.ErrStorage.WithCause(err)
	}
	return tag.RowsAffected(), nil
}

func (r *pgxTokenRepository) observe(ctx context.Context, query string, start time.Time) {
	elapsed := time.Since(start)
	if elapsed > slowQueryThreshold {
		r.log.Warn(ctx, "slow query",
			logger.String("query", query),
			logger.Duration("elapsed", elapsed),
		)
	}
}

func tokenArgs(t *models.IssuedToken) []any {
	scopes := t.Scopes
	if scopes == nil {
		// nil encodes as SQL NULL and the column is NOT NULL.
		scopes = []string{}
	}
	return []any{
		t.TokenID, t.UserID, t.ClientID, string(t.TokenType), scopes, t.SigningKeyID,
		t.IssuedAt, t.ExpiresAt, t.Revoked, t.RevokedAt, nullable(t.RevocationReason), t.LastUsedAt,
	}
}

func scanToken(row pgx.Row) (*models.IssuedToken, error) {
	var t models.IssuedToken
	var tokenType string
	var reason *string
	err := row.Scan(&t.TokenID, &t.UserID, &t.ClientID, &tokenType, &t.Scopes, &t.SigningKeyID,
		&t.IssuedAt, &t.ExpiresAt, &t.Revoked, &t.RevokedAt, &reason, &t.LastUsedAt)
	if err != nil {
		return nil, err
	}
	t.TokenType = constants.TokenType(tokenType)
	if reason != nil {
		t.RevocationReason = *reason
	}
	return &t, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
