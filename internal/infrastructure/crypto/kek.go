// Package crypto implements the signing-key lifecycle: key generation,
// encryption at rest, activation, rotation and JWT signing/verification.
package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	vault "github.com/hashicorp/vault/api"

	"github.com/stratumsec/tokend/internal/config"
	"github.com/stratumsec/tokend/pkg/errors"
)

// KEKProvider supplies the key-encryption key protecting private signing
// keys at rest.
type KEKProvider interface {
	// KEK returns the 32-byte key-encryption key.
	KEK(ctx context.Context) ([]byte, error)
}

// staticKEK derives the KEK from a configured secret. Fallback for
// deployments without Vault.
type staticKEK struct {
	key [32]byte
}

// NewStaticKEK derives a KEK from the configured encryption secret.
func NewStaticKEK(secret string) (KEKProvider, error) {
	if secret == "" {
		return nil, errors.ErrInvalidRequest("encryption secret must not be empty")
	}
	return &staticKEK{key: sha256.Sum256([]byte(secret))}, nil
}

func (s *staticKEK) KEK(_ context.Context) ([]byte, error) {
	return s.key[:], nil
}

// vaultKEK fetches the KEK from a Vault KV v2 mount.
type vaultKEK struct {
	client    *vault.Client
	mountPath string
	keyName   string
}

// NewVaultKEK builds a KEK provider backed by Vault KV v2.
func NewVaultKEK(cfg *config.VaultConfig) (KEKProvider, error) {
	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address
	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, errors.ErrStorage.WithCause(err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	return &vaultKEK{client: client, mountPath: cfg.MountPath, keyName: cfg.KeyName}, nil
}

func (v *vaultKEK) KEK(ctx context.Context) ([]byte, error) {
	secret, err := v.client.KVv2(v.mountPath).Get(ctx, v.keyName)
	if err != nil {
		return nil, errors.ErrStorage.WithCause(err)
	}
	raw, ok := secret.Data["key"].(string)
	if !ok || raw == "" {
		return nil, errors.ErrStorage.WithCause(fmt.Errorf("vault secret %s/%s has no key field", v.mountPath, v.keyName))
	}
	kek, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, errors.ErrStorage.WithCause(err)
	}
	if len(kek) != 32 {
		return nil, errors.ErrStorage.WithCause(fmt.Errorf("vault KEK must be 32 bytes, got %d", len(kek)))
	}
	return kek, nil
}

// NewKEKProvider picks Vault or the static fallback per configuration.
func NewKEKProvider(cfg *config.Config) (KEKProvider, error) {
	if cfg.Vault.Enabled {
		return NewVaultKEK(&cfg.Vault)
	}
	return NewStaticKEK(cfg.Keys.EncryptionSecret)
}

// encrypt seals plaintext with AES-256-GCM under the KEK. The nonce is
// prepended to the ciphertext and the whole blob is base64 encoded.
func encrypt(kek, plaintext []byte) (string, error) {
	block, err := aes.NewCipher(kek)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// decrypt reverses encrypt.
func decrypt(kek []byte, encoded string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
