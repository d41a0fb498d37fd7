// Package constants defines system-wide constants for the tokend service.
// This package provides type-safe constant definitions used across all modules.
package constants

import "time"

// ================================================================================
// Token Type Constants
// ================================================================================

// TokenType represents the type of a minted token.
type TokenType string

const (
	// TokenTypeAccess represents a short-lived access token.
	TokenTypeAccess TokenType = "ACCESS"

	// TokenTypeRefresh represents a long-lived refresh token.
	TokenTypeRefresh TokenType = "REFRESH"

	// TokenTypeIdentity represents an identity token carrying profile claims.
	TokenTypeIdentity TokenType = "IDENTITY"
)

// BearerTokenType is the token_type value returned to HTTP callers.
const BearerTokenType = "Bearer"

// ================================================================================
// JWT Constants
// ================================================================================

// SigningAlgorithm identifies the JWS algorithm used for token signatures.
type SigningAlgorithm string

const (
	// AlgorithmRS256 is RSA signature with SHA-256, the only algorithm
	// currently minted.
	AlgorithmRS256 SigningAlgorithm = "RS256"
)

// JWT claim keys used beyond the registered set.
const (
	ClaimKeyScope     = "scope"
	ClaimKeyClientID  = "client_id"
	ClaimKeyUserID    = "user_id"
	ClaimKeyTokenType = "token_type"
	ClaimKeyEmail     = "email"
	ClaimKeyName      = "name"
	ClaimKeyPicture   = "picture"
	ClaimKeyRoles     = "roles"
	ClaimKeyIDToken   = "with_id_token"
)

// HeaderKeyID is the JWS header parameter carrying the signing key id.
const HeaderKeyID = "kid"

// ================================================================================
// Lifetime Defaults
// ================================================================================

const (
	// AccessTokenDefaultTTL is the default access token lifetime (15 minutes).
	AccessTokenDefaultTTL = 900 * time.Second

	// RefreshTokenDefaultTTL is the default refresh token lifetime (7 days).
	RefreshTokenDefaultTTL = 604800 * time.Second

	// IdentityTokenDefaultTTL mirrors the access token lifetime.
	IdentityTokenDefaultTTL = AccessTokenDefaultTTL

	// KeyValidityDefault is how long a freshly generated signing key may
	// verify tokens (90 days).
	KeyValidityDefault = 90 * 24 * time.Hour

	// KeyRotationDefaultInterval is how old an active key may grow before
	// the rotation sweep replaces it (30 days).
	KeyRotationDefaultInterval = 30 * 24 * time.Hour

	// PruneDefaultInterval is how often the retention sweep runs.
	PruneDefaultInterval = 1 * time.Hour

	// PruneDefaultRetention is how long expired token and revocation rows
	// are kept past their own expiry for auditing.
	PruneDefaultRetention = 24 * time.Hour

	// JWKSCacheTTL bounds staleness of the published key set between
	// rotations; rotation invalidates the cache explicitly.
	JWKSCacheTTL = 1 * time.Hour

	// ActiveKeyCacheTTL bounds staleness of the cached active signing key.
	ActiveKeyCacheTTL = 1 * time.Minute
)

// RSAKeySizeDefault is the modulus size for new signing keys.
const RSAKeySizeDefault = 2048

// KeyIDPrefix prefixes every generated key id.
const KeyIDPrefix = "rsa-"

// ================================================================================
// Error Code Constants
// ================================================================================

// ErrorCode is the machine-readable code surfaced to callers.
type ErrorCode string

const (
	// ErrCodeTokenExpired indicates the token's expiry has passed.
	ErrCodeTokenExpired ErrorCode = "token_expired"

	// ErrCodeTokenRevoked indicates the token id is present in the
	// revocation ledger.
	ErrCodeTokenRevoked ErrorCode = "token_revoked"

	// ErrCodeInvalidSignature indicates signature verification failed.
	ErrCodeInvalidSignature ErrorCode = "invalid_signature"

	// ErrCodeKeyNotFound indicates the token references an unknown signing key.
	ErrCodeKeyNotFound ErrorCode = "key_not_found"

	// ErrCodeKeyExpired indicates the referenced signing key has passed its
	// verification validity horizon.
	ErrCodeKeyExpired ErrorCode = "key_expired"

	// ErrCodeMissingToken indicates no token was supplied.
	ErrCodeMissingToken ErrorCode = "missing_token"

	// ErrCodeInvalidRequest indicates a malformed request or token.
	ErrCodeInvalidRequest ErrorCode = "invalid_request"

	// ErrCodeInvalidAudience indicates the aud claim did not match the
	// caller's expectation.
	ErrCodeInvalidAudience ErrorCode = "invalid_audience"

	// ErrCodeInvalidIssuer indicates the iss claim did not match the
	// caller's expectation.
	ErrCodeInvalidIssuer ErrorCode = "invalid_issuer"

	// ErrCodeInsufficientScope indicates the token lacks a required scope.
	ErrCodeInsufficientScope ErrorCode = "insufficient_scope"

	// ErrCodeNoActiveKey indicates signing was attempted before any key
	// was activated. A configuration fault, not a per-request condition.
	ErrCodeNoActiveKey ErrorCode = "no_active_key"

	// ErrCodeKeyGenerationFailure indicates the cryptographic primitive
	// could not produce a key pair.
	ErrCodeKeyGenerationFailure ErrorCode = "key_generation_failure"

	// ErrCodeStorageFailure indicates a durable store operation failed.
	ErrCodeStorageFailure ErrorCode = "storage_failure"

	// ErrCodeNotFound indicates a referenced record does not exist.
	ErrCodeNotFound ErrorCode = "not_found"
)

// ================================================================================
// Revocation Reasons
// ================================================================================

const (
	// RevocationReasonRotated marks a refresh token consumed by rotation.
	RevocationReasonRotated = "rotated"

	// RevocationReasonRequested marks an explicit single-token revocation
	// without a stated reason.
	RevocationReasonRequested = "requested"

	// RevocationReasonLogout marks tokens revoked by a logout-everywhere call.
	RevocationReasonLogout = "logout"

	// RevocationReasonCompromised marks tokens revoked in response to a
	// suspected compromise.
	RevocationReasonCompromised = "compromised"
)

// ================================================================================
// Audit Event Types
// ================================================================================

// AuditEventType classifies auditable lifecycle events.
type AuditEventType string

const (
	// EventTypeTokenIssued represents token issuance events.
	EventTypeTokenIssued AuditEventType = "token_issued"

	// EventTypeTokenRefreshed represents refresh rotation events.
	EventTypeTokenRefreshed AuditEventType = "token_refreshed"

	// EventTypeTokenRevoked represents token revocation events.
	EventTypeTokenRevoked AuditEventType = "token_revoked"

	// EventTypeRefreshReuse represents presentation of an already rotated
	// refresh token, a security-relevant event.
	EventTypeRefreshReuse AuditEventType = "refresh_token_reuse"

	// EventTypeKeyGenerated represents signing key generation events.
	EventTypeKeyGenerated AuditEventType = "key_generated"

	// EventTypeKeyRotated represents signing key rotation events.
	EventTypeKeyRotated AuditEventType = "key_rotated"

	// EventTypeKeyRevoked represents emergency key revocation events.
	EventTypeKeyRevoked AuditEventType = "key_revoked"
)

// ================================================================================
// Database Table Names
// ================================================================================

const (
	// TableNameSigningKeys is the signing key store table.
	TableNameSigningKeys = "signing_keys"

	// TableNameIssuedTokens is the token metadata table.
	TableNameIssuedTokens = "issued_tokens"

	// TableNameRevocationEntries is the revocation ledger table.
	TableNameRevocationEntries = "revocation_entries"
)

// RevocationCacheKeyPrefix prefixes revoked token ids in Redis.
const RevocationCacheKeyPrefix = "tokend:revoked:"

// ================================================================================
// Context Keys
// ================================================================================

// ContextKey represents keys used in context.Context.
type ContextKey string

const (
	// ContextKeyRequestID is the key for the per-request id in context.
	ContextKeyRequestID ContextKey = "request_id"
)

// ================================================================================
// Claim Bag Limits
// ================================================================================

const (
	// MaxAdditionalClaims bounds the number of caller-supplied custom claims.
	MaxAdditionalClaims = 32

	// MaxClaimValueBytes bounds the serialized size of one custom claim value.
	MaxClaimValueBytes = 4096
)
