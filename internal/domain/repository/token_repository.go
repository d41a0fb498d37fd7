package repository

import (
	"context"
	"time"

	"github.com/stratumsec/tokend/internal/domain/models"
)

// TokenRepository persists issued-token records.
type TokenRepository interface {
	// Save stores one token record.
	Save(ctx context.Context, token *models.IssuedToken) error

	// SaveBatch stores a token set atomically. Either every record is
	// durable or none is; issuance depends on this to never hand out a
	// partially persisted set.
	SaveBatch(ctx context.Context, tokens []*models.IssuedToken) error

	// FindByID returns the record for the given token id, or
	// ErrTokenNotFound.
	FindByID(ctx context.Context, tokenID string) (*models.IssuedToken, error)

	// FindActiveByUser returns every unrevoked, unexpired token of the
	// user. Used by revoke-all.
	FindActiveByUser(ctx context.Context, userID string) ([]*models.IssuedToken, error)

	// Revoke marks the token revoked if and only if it is not already.
	// It returns claimed=true for the caller that performed the state
	// transition and claimed=false when the token was revoked before the
	// call. Refresh rotation relies on this conditional update to make
	// each refresh token single-use under concurrency.
	Revoke(ctx context.Context, tokenID, reason string, revokedAt time.Time) (claimed bool, err error)

	// TouchLastUsed updates the token's last-used timestamp.
	TouchLastUsed(ctx context.Context, tokenID string, usedAt time.Time) error

	// DeleteExpiredBefore removes token records expired before the
	// cutoff, at most limit rows, and returns how many were removed.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}
