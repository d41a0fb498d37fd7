// Package models defines the domain models for the tokend service.
// This file contains the SigningKey model with its lifecycle logic.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stratumsec/tokend/pkg/constants"
)

// SigningKey represents one RSA key pair in the key store. The private
// key is held only in its encrypted PEM form; decryption happens inside
// the key manager and decrypted material never leaves it.
type SigningKey struct {
	// KID is the key identifier carried in JWS headers and JWKS entries.
	KID string `json:"kid" gorm:"column:kid;primaryKey"`

	// PublicKeyPEM is the PEM-encoded public key, safe to publish.
	PublicKeyPEM string `json:"public_key_pem" gorm:"column:public_key_pem;type:text;not null"`

	// EncryptedPrivateKey is the AES-GCM-encrypted private key PEM,
	// base64 encoded. Never logged, never serialized to callers.
	EncryptedPrivateKey string `json:"-" gorm:"column:encrypted_private_key;type:text;not null"`

	// Algorithm is the JWS algorithm this key signs with.
	Algorithm constants.SigningAlgorithm `json:"algorithm" gorm:"column:algorithm;not null"`

	// Active reports whether this key signs newly minted tokens. At most
	// one key is active at any time; activation is transactional.
	Active bool `json:"active" gorm:"column:active;not null;index"`

	// CreatedAt is when the key pair was generated.
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;not null"`

	// ExpiresAt is the end of the verification validity window. Rotated
	// keys keep verifying until this instant.
	ExpiresAt time.Time `json:"expires_at" gorm:"column:expires_at;not null;index"`
}

// TableName tells gorm which table backs this model.
func (SigningKey) TableName() string { return constants.TableNameSigningKeys }

// NewKID generates a fresh key identifier.
func NewKID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return constants.KeyIDPrefix + id[:8]
}

// IsExpired reports whether the key's validity window has closed.
func (k *SigningKey) IsExpired(now time.Time) bool {
	return !now.Before(k.ExpiresAt)
}

// CanSign reports whether the key may sign new tokens.
func (k *SigningKey) CanSign(now time.Time) bool {
	return k.Active && !k.IsExpired(now)
}

// CanVerify reports whether the key may verify token signatures.
// Inactive keys still verify until they expire.
func (k *SigningKey) CanVerify(now time.Time) bool {
	return !k.IsExpired(now)
}

// Age returns how long ago the key was generated.
func (k *SigningKey) Age(now time.Time) time.Duration {
	return now.Sub(k.CreatedAt)
}
