// This file contains the IssuedToken model tracking every minted JWT
// from issuance through revocation.
package models

import (
	"strings"
	"time"

	"github.com/stratumsec/tokend/pkg/constants"
)

// IssuedToken is the durable record of one minted token. The signed JWT
// itself is never stored; the record carries the metadata needed for
// revocation, introspection and pruning.
type IssuedToken struct {
	// TokenID is the jti claim, unique per minted token.
	TokenID string `json:"token_id" db:"token_id"`

	// UserID is the subject the token was minted for.
	UserID string `json:"user_id" db:"user_id"`

	// ClientID identifies the requesting client application.
	ClientID string `json:"client_id" db:"client_id"`

	// TokenType is ACCESS, REFRESH or IDENTITY.
	TokenType constants.TokenType `json:"token_type" db:"token_type"`

	// Scopes are the granted scopes, space-joined in the JWT scope claim.
	Scopes []string `json:"scopes" db:"scopes"`

	// SigningKeyID is the kid of the key that signed this token.
	SigningKeyID string `json:"signing_key_id" db:"signing_key_id"`

	// IssuedAt mirrors the iat claim.
	IssuedAt time.Time `json:"issued_at" db:"issued_at"`

	// ExpiresAt mirrors the exp claim.
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`

	// Revoked is monotonic: once set it never clears.
	Revoked bool `json:"revoked" db:"revoked"`

	// RevokedAt is when the token was revoked, nil while live.
	RevokedAt *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`

	// RevocationReason explains why the token was revoked.
	RevocationReason string `json:"revocation_reason,omitempty" db:"revocation_reason"`

	// LastUsedAt is touched on successful validation. Best effort; a
	// failed touch never fails the validation itself.
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}

// NewIssuedToken creates the record for one freshly minted token.
func NewIssuedToken(tokenID, userID, clientID string, tokenType constants.TokenType, scopes []string, signingKeyID string, ttl time.Duration) *IssuedToken {
	now := time.Now().UTC()
	return &IssuedToken{
		TokenID:      tokenID,
		UserID:       userID,
		ClientID:     clientID,
		TokenType:    tokenType,
		Scopes:       scopes,
		SigningKeyID: signingKeyID,
		IssuedAt:     now,
		ExpiresAt:    now.Add(ttl),
	}
}

// IsExpired reports whether the token's lifetime has passed.
func (t *IssuedToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsActive reports whether the token is neither revoked nor expired.
func (t *IssuedToken) IsActive(now time.Time) bool {
	return !t.Revoked && !t.IsExpired(now)
}

// ScopeString returns the scopes space-joined for the scope claim.
func (t *IssuedToken) ScopeString() string {
	return strings.Join(t.Scopes, " ")
}

// HasScope reports whether the token carries the given scope.
func (t *IssuedToken) HasScope(scope string) bool {
	for _, s := range t.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// RemainingLifetime returns how long until expiry, zero if already past.
func (t *IssuedToken) RemainingLifetime(now time.Time) time.Duration {
	if t.IsExpired(now) {
		return 0
	}
	return t.ExpiresAt.Sub(now)
}
