// This file contains the RevocationEntry model backing the revocation
// ledger.
package models

import (
	"time"

	"github.com/stratumsec/tokend/pkg/constants"
)

// RevocationEntry is one row of the revocation ledger. Entries are
// append-only; they exist from the moment a token is revoked until the
// retention sweep removes them after the underlying token has expired,
// at which point expiry alone rejects the token.
type RevocationEntry struct {
	// TokenID is the jti of the revoked token.
	TokenID string `json:"token_id" db:"token_id"`

	// UserID is the subject the token belonged to.
	UserID string `json:"user_id" db:"user_id"`

	// TokenType is the type of the revoked token.
	TokenType constants.TokenType `json:"token_type" db:"token_type"`

	// RevokedAt is when the revocation was recorded.
	RevokedAt time.Time `json:"revoked_at" db:"revoked_at"`

	// ExpiresAt is the token's own expiry; the ledger entry becomes
	// prunable once this plus the retention window has passed.
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`

	// Reason explains the revocation (rotated, logout, compromised...).
	Reason string `json:"reason" db:"reason"`

	// RevokedBy identifies the principal that requested the revocation.
	RevokedBy string `json:"revoked_by,omitempty" db:"revoked_by"`
}

// NewRevocationEntry builds the ledger entry for a revoked token.
func NewRevocationEntry(token *IssuedToken, reason, revokedBy string) *RevocationEntry {
	return &RevocationEntry{
		TokenID:   token.TokenID,
		UserID:    token.UserID,
		TokenType: token.TokenType,
		RevokedAt: time.Now().UTC(),
		ExpiresAt: token.ExpiresAt,
		Reason:    reason,
		RevokedBy: revokedBy,
	}
}

// IsPrunable reports whether the entry may be removed: the token it
// shadows has been expired for at least the retention window.
func (e *RevocationEntry) IsPrunable(now time.Time, retention time.Duration) bool {
	return now.After(e.ExpiresAt.Add(retention))
}

// RemainingLifetime returns how long the underlying token is still
// unexpired, used as the Redis cache TTL. Zero once expired.
func (e *RevocationEntry) RemainingLifetime(now time.Time) time.Duration {
	if !now.Before(e.ExpiresAt) {
		return 0
	}
	return e.ExpiresAt.Sub(now)
}
