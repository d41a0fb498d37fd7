// Package dto defines the request and response shapes exchanged between
// the HTTP surface and the domain services.
package dto

import (
	"time"

	"github.com/stratumsec/tokend/pkg/constants"
)

// TokenRequest asks the engine to mint a token set.
type TokenRequest struct {
	UserID   string   `json:"user_id" binding:"required"`
	ClientID string   `json:"client_id" binding:"required"`
	Scopes   []string `json:"scopes"`

	// Audience overrides the configured aud claim when set.
	Audience string `json:"audience,omitempty"`

	// Subject overrides the sub claim when set; user_id stays UserID.
	Subject string `json:"subject,omitempty"`

	// IncludeIdentityToken requests an identity token alongside the
	// access/refresh pair.
	IncludeIdentityToken bool `json:"include_identity_token"`

	// Profile supplies the identity token's profile claims. Ignored
	// unless IncludeIdentityToken is set.
	Profile *ProfileClaims `json:"profile,omitempty"`

	// CustomClaims are caller-supplied scalar claims embedded in the
	// access token. Validated against the closed claim model.
	CustomClaims map[string]any `json:"custom_claims,omitempty"`
}

// ProfileClaims are the OIDC-style claims carried by identity tokens.
type ProfileClaims struct {
	Email   string   `json:"email,omitempty"`
	Name    string   `json:"name,omitempty"`
	Picture string   `json:"picture,omitempty"`
	Roles   []string `json:"roles,omitempty"`
}

// TokenResponse is a minted token set.
type TokenResponse struct {
	AccessToken   string    `json:"access_token"`
	RefreshToken  string    `json:"refresh_token"`
	IdentityToken string    `json:"identity_token,omitempty"`
	TokenType     string    `json:"token_type"`
	ExpiresIn     int64     `json:"expires_in"`
	Scopes        []string  `json:"scopes,omitempty"`
	IssuedAt      time.Time `json:"issued_at"`
}

// ValidationRequest asks the engine to validate a presented token.
type ValidationRequest struct {
	Token string `json:"token" binding:"required"`

	// ExpectedAudience, when set, must match one aud entry.
	ExpectedAudience string `json:"expected_audience,omitempty"`

	// ExpectedIssuer, when set, must match the iss claim.
	ExpectedIssuer string `json:"expected_issuer,omitempty"`

	// RequiredScopes must all be present in the scope claim.
	RequiredScopes []string `json:"required_scopes,omitempty"`

	// IncludeTokenInfo requests claim disclosure on a valid result.
	IncludeTokenInfo bool `json:"include_token_info,omitempty"`

	// CheckRevocation controls the revocation ledger lookup. Unset means
	// true; callers opt out explicitly for latency-critical paths that
	// tolerate the revocation window.
	CheckRevocation *bool `json:"check_revocation,omitempty"`
}

// ShouldCheckRevocation resolves the tri-state CheckRevocation field.
func (r *ValidationRequest) ShouldCheckRevocation() bool {
	return r.CheckRevocation == nil || *r.CheckRevocation
}

// ValidationResult is the tagged outcome of validation. Expected
// verification failures set Valid=false with an ErrorCode; they are
// never transported as errors. The principal claims of a valid token
// appear at the top level, RFC 7662 style; TokenInfo carries the full
// disclosure when the caller asked for it.
type ValidationResult struct {
	Valid            bool                `json:"valid"`
	Active           bool                `json:"active"`
	UserID           string              `json:"user_id,omitempty"`
	ClientID         string              `json:"client_id,omitempty"`
	Scopes           []string            `json:"scopes,omitempty"`
	IssuedAt         *time.Time          `json:"issued_at,omitempty"`
	ExpiresAt        *time.Time          `json:"expires_at,omitempty"`
	ErrorCode        constants.ErrorCode `json:"error,omitempty"`
	ErrorDescription string              `json:"error_description,omitempty"`
	TokenInfo        *TokenInfo          `json:"token_info,omitempty"`
}

// Invalid builds a failed validation result.
func Invalid(code constants.ErrorCode, description string) *ValidationResult {
	return &ValidationResult{Valid: false, ErrorCode: code, ErrorDescription: description}
}

// TokenInfo is the disclosed claim set of a valid token.
type TokenInfo struct {
	TokenID   string              `json:"token_id"`
	UserID    string              `json:"user_id"`
	ClientID  string              `json:"client_id"`
	TokenType constants.TokenType `json:"token_type"`
	Scopes    []string            `json:"scopes,omitempty"`
	Issuer    string              `json:"issuer"`
	Audience  []string            `json:"audience,omitempty"`
	IssuedAt  time.Time           `json:"issued_at"`
	ExpiresAt time.Time           `json:"expires_at"`
	Claims    map[string]any      `json:"claims,omitempty"`
}

// RefreshRequest asks the engine to rotate a refresh token.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// RevocationRequest asks the engine to revoke one token.
type RevocationRequest struct {
	Token     string `json:"token" binding:"required"`
	Reason    string `json:"reason,omitempty"`
	RevokedBy string `json:"revoked_by,omitempty"`
}

// BulkRevocationRequest asks the engine to revoke every live token of a
// user.
type BulkRevocationRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	Reason    string `json:"reason,omitempty"`
	RevokedBy string `json:"revoked_by,omitempty"`
}

// BulkRevocationResponse reports how many tokens a bulk revocation hit.
type BulkRevocationResponse struct {
	RevokedCount int `json:"revoked_count"`
}

// JWK is one JSON Web Key entry of the published key set.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSDocument is the published key set.
type JWKSDocument struct {
	Keys []JWK `json:"keys"`
}
