// Package repository defines the persistence interfaces of the domain
// layer. Implementations live under internal/infrastructure.
package repository

import (
	"context"
	"time"

	"github.com/stratumsec/tokend/internal/domain/models"
)

// KeyRepository persists signing keys.
type KeyRepository interface {
	// Create stores a freshly generated key.
	Create(ctx context.Context, key *models.SigningKey) error

	// FindByKID returns the key with the given id, expired or not.
	// Returns ErrKeyNotFound when no such key exists.
	FindByKID(ctx context.Context, kid string) (*models.SigningKey, error)

	// FindActive returns the currently active key, or ErrNoActiveKey.
	FindActive(ctx context.Context) (*models.SigningKey, error)

	// FindUnexpired returns every key whose validity window is still
	// open, active or not. Used for JWKS publication.
	FindUnexpired(ctx context.Context, now time.Time) ([]*models.SigningKey, error)

	// Activate promotes the key with the given kid and demotes any
	// previously active key in one transaction. At no point do zero or
	// two active keys become observable. Returns ErrKeyNotFound for an
	// unknown kid and ErrKeyExpired for an expired one.
	Activate(ctx context.Context, kid string) error

	// Deactivate clears the active flag of the given key without
	// promoting a replacement. Used by emergency key revocation, whose
	// caller activates the replacement immediately after.
	Deactivate(ctx context.Context, kid string) error

	// Expire moves the key's validity end to the given instant. Used by
	// emergency key revocation to stop the key verifying immediately.
	Expire(ctx context.Context, kid string, at time.Time) error

	// DeleteExpiredBefore removes keys expired before the cutoff and
	// returns how many were removed.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
