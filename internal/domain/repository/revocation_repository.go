package repository

import (
	"context"
	"time"

	"github.com/stratumsec/tokend/internal/domain/models"
)

// RevocationRepository persists the revocation ledger. The ledger is
// append and lookup only; entries leave it solely through the retention
// sweep.
type RevocationRepository interface {
	// Insert appends a ledger entry. Inserting an entry for an already
	// listed token id is a no-op, keeping revocation idempotent.
	Insert(ctx context.Context, entry *models.RevocationEntry) error

	// Exists reports whether the token id is listed.
	Exists(ctx context.Context, tokenID string) (bool, error)

	// FindByID returns the ledger entry for the token id, or
	// ErrTokenNotFound.
	FindByID(ctx context.Context, tokenID string) (*models.RevocationEntry, error)

	// DeleteExpiredBefore removes entries whose token expiry lies before
	// the cutoff, at most limit rows, and returns how many were removed.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// RevocationCache is the fast-lookup mirror of the ledger. A cache miss
// is authoritative only together with a ledger lookup; a hit is
// authoritative on its own.
type RevocationCache interface {
	// Put marks the token id revoked for the given TTL.
	Put(ctx context.Context, tokenID string, ttl time.Duration) error

	// Contains reports whether the token id is cached as revoked.
	Contains(ctx context.Context, tokenID string) (bool, error)
}
