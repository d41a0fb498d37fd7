package crypto

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/stratumsec/tokend/internal/domain/models"
	"github.com/stratumsec/tokend/internal/domain/repository"
	"github.com/stratumsec/tokend/pkg/constants"
	"github.com/stratumsec/tokend/pkg/errors"
	"github.com/stratumsec/tokend/pkg/logger"
)

const (
	cacheKeyActive = "active_signing_key"
	cacheKeyJWKS   = "jwks_document"
)

// SigningKey couples a decrypted private key with its kid for signing.
type SigningKey struct {
	KID        string
	PrivateKey *rsa.PrivateKey
}

// KeyManager owns the signing-key lifecycle. It is safe for concurrent
// use; the active key and the JWKS document are cached with short TTLs
// and invalidated on every activation.
type KeyManager struct {
	repo     repository.KeyRepository
	kek      KEKProvider
	log      logger.Logger
	cache    *gocache.Cache
	keySize  int
	validity time.Duration
	rotation time.Duration
}

// NewKeyManager builds a KeyManager.
func NewKeyManager(repo repository.KeyRepository, kek KEKProvider, log logger.Logger, keySize int, validity, rotation time.Duration) *KeyManager {
	return &KeyManager{
		repo:     repo,
		kek:      kek,
		log:      log.WithComponent("key_manager"),
		cache:    gocache.New(constants.ActiveKeyCacheTTL, 10*time.Minute),
		keySize:  keySize,
		validity: validity,
		rotation: rotation,
	}
}

// GenerateKeyPair generates a fresh RSA key pair, encrypts the private
// key under the KEK and persists the record inactive. Activation is a
// separate, explicit step.
func (m *KeyManager) GenerateKeyPair(ctx context.Context) (*models.SigningKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, m.keySize)
	if err != nil {
		return nil, errors.ErrKeyGenerationFailure.WithCause(err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, errors.ErrKeyGenerationFailure.WithCause(err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	kek, err := m.kek.KEK(ctx)
	if err != nil {
		return nil, err
	}
	encrypted, err := encrypt(kek, privPEM)
	if err != nil {
		return nil, errors.ErrKeyGenerationFailure.WithCause(err)
	}

	now := time.Now().UTC()
	key := &models.SigningKey{
		KID:                 models.NewKID(),
		PublicKeyPEM:        string(pubPEM),
		EncryptedPrivateKey: encrypted,
		Algorithm:           constants.AlgorithmRS256,
		Active:              false,
		CreatedAt:           now,
		ExpiresAt:           now.Add(m.validity),
	}
	if err := m.repo.Create(ctx, key); err != nil {
		return nil, err
	}

	m.log.Info(ctx, "signing key generated",
		logger.String("kid", key.KID),
		logger.Time("expires_at", key.ExpiresAt),
	)
	return key, nil
}

// ActivateKeyPair promotes the given key to active and demotes the
// previous one in a single transaction, then drops the caches so the
// next signing call observes the new key.
func (m *KeyManager) ActivateKeyPair(ctx context.Context, kid string) error {
	if err := m.repo.Activate(ctx, kid); err != nil {
		return err
	}
	m.invalidateCaches()
	m.log.Info(ctx, "signing key activated", logger.String("kid", kid))
	return nil
}

// ActiveSigningKey returns the active key with its decrypted private
// material, from cache when fresh. Returns ErrNoActiveKey when rotation
// has never been run; the hot path never provisions keys itself.
func (m *KeyManager) ActiveSigningKey(ctx context.Context) (*SigningKey, error) {
	if cached, ok := m.cache.Get(cacheKeyActive); ok {
		return cached.(*SigningKey), nil
	}

	record, err := m.repo.FindActive(ctx)
	if err != nil {
		return nil, err
	}
	if record.IsExpired(time.Now().UTC()) {
		return nil, errors.ErrKeyExpired.WithMetadata("kid", record.KID)
	}

	priv, err := m.decryptPrivateKey(ctx, record)
	if err != nil {
		return nil, err
	}
	key := &SigningKey{KID: record.KID, PrivateKey: priv}
	m.cache.Set(cacheKeyActive, key, constants.ActiveKeyCacheTTL)
	return key, nil
}

// VerificationKey resolves the public key for the given kid. Inactive
// keys resolve until their own expiry, so tokens signed before a
// rotation keep verifying.
func (m *KeyManager) VerificationKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	record, err := m.repo.FindByKID(ctx, kid)
	if err != nil {
		return nil, err
	}
	if record.IsExpired(time.Now().UTC()) {
		return nil, errors.ErrKeyExpired.WithMetadata("kid", kid)
	}
	return parsePublicKeyPEM(record.PublicKeyPEM)
}

// Rotate generates a fresh key pair and activates it. The previous
// active key keeps verifying until its own expiry.
func (m *KeyManager) Rotate(ctx context.Context) (*models.SigningKey, error) {
	key, err := m.GenerateKeyPair(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.ActivateKeyPair(ctx, key.KID); err != nil {
		return nil, err
	}
	m.log.Info(ctx, "signing key rotated", logger.String("kid", key.KID))
	return key, nil
}

// RotateIfNeeded rotates when the active key is older than the
// configured rotation interval. Returns whether a rotation happened.
func (m *KeyManager) RotateIfNeeded(ctx context.Context) (bool, error) {
	record, err := m.repo.FindActive(ctx)
	if err != nil {
		return false, err
	}
	if record.Age(time.Now().UTC()) < m.rotation {
		return false, nil
	}
	if _, err := m.Rotate(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// EmergencyRevoke takes a compromised key out of service immediately:
// it stops signing AND verifying, and a replacement is generated and
// activated in the same call.
func (m *KeyManager) EmergencyRevoke(ctx context.Context, kid string) (*models.SigningKey, error) {
	now := time.Now().UTC()
	if err := m.repo.Deactivate(ctx, kid); err != nil {
		return nil, err
	}
	if err := m.repo.Expire(ctx, kid, now); err != nil {
		return nil, err
	}
	m.invalidateCaches()
	m.log.Warn(ctx, "signing key revoked for compromise", logger.String("kid", kid))

	return m.Rotate(ctx)
}

// Bootstrap provisions and activates the first key pair when no active
// key exists. Idempotent: with an active key present it does nothing.
func (m *KeyManager) Bootstrap(ctx context.Context) (*models.SigningKey, bool, error) {
	record, err := m.repo.FindActive(ctx)
	if err == nil {
		return record, false, nil
	}
	if !errors.ErrNoActiveKey.Is(err) {
		return nil, false, err
	}
	key, err := m.Rotate(ctx)
	if err != nil {
		return nil, false, err
	}
	return key, true, nil
}

// CleanupExpiredKeys removes keys whose validity ended before the
// cutoff. Tokens signed by them are rejected by kid resolution already.
func (m *KeyManager) CleanupExpiredKeys(ctx context.Context, cutoff time.Time) (int64, error) {
	removed, err := m.repo.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		m.log.Info(ctx, "expired signing keys removed", logger.Int64("count", removed))
	}
	return removed, nil
}

func (m *KeyManager) decryptPrivateKey(ctx context.Context, record *models.SigningKey) (*rsa.PrivateKey, error) {
	kek, err := m.kek.KEK(ctx)
	if err != nil {
		return nil, err
	}
	privPEM, err := decrypt(kek, record.EncryptedPrivateKey)
	if err != nil {
		return nil, errors.ErrStorage.WithCause(err).WithMetadata("kid", record.KID)
	}
	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, errors.ErrStorage.WithMetadata("kid", record.KID)
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

func (m *KeyManager) invalidateCaches() {
	m.cache.Delete(cacheKeyActive)
	m.cache.Delete(cacheKeyJWKS)
}

func parsePublicKeyPEM(pubPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pubPEM))
	if block == nil {
		return nil, errors.ErrStorage.WithCause(errPEMDecode)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errors.ErrStorage.WithCause(err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.ErrStorage.WithCause(errNotRSA)
	}
	return pub, nil
}
