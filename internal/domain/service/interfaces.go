// Package service implements the token lifecycle engine: issuance,
// validation, introspection, refresh rotation and revocation.
package service

import (
	"context"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stratumsec/tokend/internal/application/dto"
)

// TokenEngine is the domain service behind every token operation.
//
// Expected verification outcomes (expired, revoked, bad signature)
// travel as ValidationResult values; errors are reserved for storage
// and configuration faults.
type TokenEngine interface {
	// IssueTokens mints an access/refresh (and optionally identity)
	// token set. All records are durable before the set is returned.
	IssueTokens(ctx context.Context, req *dto.TokenRequest) (*dto.TokenResponse, error)

	// ValidateToken runs the ordered validation pipeline over a
	// presented token.
	ValidateToken(ctx context.Context, req *dto.ValidationRequest) (*dto.ValidationResult, error)

	// IntrospectToken validates with mandatory claim disclosure.
	IntrospectToken(ctx context.Context, token string) (*dto.ValidationResult, error)

	// RefreshTokens rotates a refresh token: the presented token is
	// revoked (single-use) and a fresh set is minted. An expected
	// failure returns a non-nil ValidationResult and no response.
	RefreshTokens(ctx context.Context, req *dto.RefreshRequest) (*dto.TokenResponse, *dto.ValidationResult, error)

	// RevokeToken revokes one token. Idempotent.
	RevokeToken(ctx context.Context, req *dto.RevocationRequest) error

	// RevokeAllUserTokens revokes every live token of a user and
	// returns how many were revoked.
	RevokeAllUserTokens(ctx context.Context, req *dto.BulkRevocationRequest) (int, error)
}

// TokenSigner abstracts the JWT codec the engine signs and verifies
// with. Implemented by the crypto package.
type TokenSigner interface {
	// Session pins the active signing key for one issuance call.
	Session(ctx context.Context) (SigningSession, error)

	// PeekUnverified decodes header and claims without verification.
	PeekUnverified(token string) (kid string, claims jwt.MapClaims, err error)

	// VerifySignature checks the signature against the key named in the
	// token header, without validating temporal claims.
	VerifySignature(ctx context.Context, token string) (jwt.MapClaims, error)
}

// SigningSession signs claim sets with one pinned key.
type SigningSession interface {
	KID() string
	Sign(claims jwt.MapClaims) (string, error)
}
