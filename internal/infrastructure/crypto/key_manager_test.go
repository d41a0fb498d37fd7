package crypto_test

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumsec/tokend/internal/domain/models"
	"github.com/stratumsec/tokend/internal/infrastructure/crypto"
	"github.com/stratumsec/tokend/pkg/constants"
	"github.com/stratumsec/tokend/pkg/errors"
	"github.com/stratumsec/tokend/pkg/logger"
	"github.com/stratumsec/tokend/tests/fakes"
)

func newManager(t *testing.T) (*crypto.KeyManager, *fakes.KeyRepository) {
	t.Helper()
	repo := fakes.NewKeyRepository()
	kek, err := crypto.NewStaticKEK("key-manager-test")
	require.NoError(t, err)
	manager := crypto.NewKeyManager(repo, kek, logger.NewNop(), 2048, 90*24*time.Hour, 30*24*time.Hour)
	return manager, repo
}

func TestGenerateKeyPair(t *testing.T) {
	manager, _ := newManager(t)
	ctx := context.Background()

	key, err := manager.GenerateKeyPair(ctx)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key.KID, constants.KeyIDPrefix))
	assert.False(t, key.Active, "generated keys start inactive")
	assert.Equal(t, constants.AlgorithmRS256, key.Algorithm)
	assert.WithinDuration(t, key.CreatedAt.Add(90*24*time.Hour), key.ExpiresAt, time.Second)
	assert.Contains(t, key.PublicKeyPEM, "BEGIN PUBLIC KEY")
	assert.NotContains(t, key.EncryptedPrivateKey, "PRIVATE KEY",
		"private material must be encrypted at rest")
}

func TestActivationDemotesPreviousKey(t *testing.T) {
	manager, repo := newManager(t)
	ctx := context.Background()

	first, err := manager.GenerateKeyPair(ctx)
	require.NoError(t, err)
	require.NoError(t, manager.ActivateKeyPair(ctx, first.KID))

	second, err := manager.GenerateKeyPair(ctx)
	require.NoError(t, err)
	require.NoError(t, manager.ActivateKeyPair(ctx, second.KID))

	active, err := repo.FindActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.KID, active.KID)

	demoted, err := repo.FindByKID(ctx, first.KID)
	require.NoError(t, err)
	assert.False(t, demoted.Active)
}

func TestActivateUnknownKey(t *testing.T) {
	manager, _ := newManager(t)
	err := manager.ActivateKeyPair(context.Background(), "rsa-missing0")
	require.Error(t, err)
	assert.True(t, errors.ErrKeyNotFound.Is(err))
}

func TestActivateExpiredKeyRefused(t *testing.T) {
	manager, repo := newManager(t)
	ctx := context.Background()

	key, err := manager.GenerateKeyPair(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.Expire(ctx, key.KID, time.Now().UTC().Add(-time.Minute)))

	err = manager.ActivateKeyPair(ctx, key.KID)
	require.Error(t, err)
	assert.True(t, errors.ErrKeyExpired.Is(err))
}

func TestActiveSigningKeyWithoutRotation(t *testing.T) {
	manager, _ := newManager(t)
	_, err := manager.ActiveSigningKey(context.Background())
	require.Error(t, err)
	assert.True(t, errors.ErrNoActiveKey.Is(err))
}

func TestVerificationKeyResolution(t *testing.T) {
	manager, repo := newManager(t)
	ctx := context.Background()

	key, err := manager.Rotate(ctx)
	require.NoError(t, err)

	pub, err := manager.VerificationKey(ctx, key.KID)
	require.NoError(t, err)
	assert.NotNil(t, pub)

	_, err = manager.VerificationKey(ctx, "rsa-unknown0")
	require.Error(t, err)
	assert.True(t, errors.ErrKeyNotFound.Is(err))

	require.NoError(t, repo.Expire(ctx, key.KID, time.Now().UTC().Add(-time.Second)))
	_, err = manager.VerificationKey(ctx, key.KID)
	require.Error(t, err)
	assert.True(t, errors.ErrKeyExpired.Is(err))
}

func TestRotateIfNeeded(t *testing.T) {
	manager, repo := newManager(t)
	ctx := context.Background()

	fresh, err := manager.Rotate(ctx)
	require.NoError(t, err)

	rotated, err := manager.RotateIfNeeded(ctx)
	require.NoError(t, err)
	assert.False(t, rotated, "a fresh key is below the rotation age")

	// Age the active key past the rotation interval.
	aged := &models.SigningKey{
		KID:                 models.NewKID(),
		PublicKeyPEM:        fresh.PublicKeyPEM,
		EncryptedPrivateKey: fresh.EncryptedPrivateKey,
		Algorithm:           constants.AlgorithmRS256,
		Active:              false,
		CreatedAt:           time.Now().UTC().Add(-40 * 24 * time.Hour),
		ExpiresAt:           time.Now().UTC().Add(50 * 24 * time.Hour),
	}
	require.NoError(t, repo.Create(ctx, aged))
	require.NoError(t, repo.Activate(ctx, aged.KID))

	rotated, err = manager.RotateIfNeeded(ctx)
	require.NoError(t, err)
	assert.True(t, rotated)

	active, err := repo.FindActive(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, aged.KID, active.KID)
}

func TestEmergencyRevoke(t *testing.T) {
	manager, repo := newManager(t)
	ctx := context.Background()

	compromised, err := manager.Rotate(ctx)
	require.NoError(t, err)

	replacement, err := manager.EmergencyRevoke(ctx, compromised.KID)
	require.NoError(t, err)
	assert.NotEqual(t, compromised.KID, replacement.KID)

	// The compromised key neither signs nor verifies anymore.
	_, err = manager.VerificationKey(ctx, compromised.KID)
	require.Error(t, err)
	assert.True(t, errors.ErrKeyExpired.Is(err))

	active, err := repo.FindActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, replacement.KID, active.KID)
}

func TestBootstrapIsIdempotent(t *testing.T) {
	manager, _ := newManager(t)
	ctx := context.Background()

	key, created, err := manager.Bootstrap(ctx)
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, key)

	again, created, err := manager.Bootstrap(ctx)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, key.KID, again.KID)
}

func TestCleanupExpiredKeys(t *testing.T) {
	manager, repo := newManager(t)
	ctx := context.Background()

	old, err := manager.GenerateKeyPair(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.Expire(ctx, old.KID, time.Now().UTC().Add(-48*time.Hour)))
	_, err = manager.Rotate(ctx)
	require.NoError(t, err)

	removed, err := manager.CleanupExpiredKeys(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.Equal(t, 1, repo.Count())
}

func TestJWKSDocument(t *testing.T) {
	manager, _ := newManager(t)
	ctx := context.Background()

	first, err := manager.Rotate(ctx)
	require.NoError(t, err)
	second, err := manager.Rotate(ctx)
	require.NoError(t, err)

	doc, err := manager.JWKSDocument(ctx)
	require.NoError(t, err)
	require.Len(t, doc.Keys, 2, "inactive but unexpired keys stay published")

	kids := map[string]bool{}
	for _, key := range doc.Keys {
		kids[key.Kid] = true
		assert.Equal(t, "RSA", key.Kty)
		assert.Equal(t, "sig", key.Use)
		assert.Equal(t, "RS256", key.Alg)
		assert.NotContains(t, key.N, "=", "base64url without padding")

		n, err := base64.RawURLEncoding.DecodeString(key.N)
		require.NoError(t, err)
		assert.NotEqual(t, byte(0), n[0], "leading zero byte stripped")
		e, err := base64.RawURLEncoding.DecodeString(key.E)
		require.NoError(t, err)
		assert.NotEmpty(t, e)
	}
	assert.True(t, kids[first.KID])
	assert.True(t, kids[second.KID])
}

func TestJWKSInvalidatedByRotation(t *testing.T) {
	manager, _ := newManager(t)
	ctx := context.Background()

	_, err := manager.Rotate(ctx)
	require.NoError(t, err)
	doc, err := manager.JWKSDocument(ctx)
	require.NoError(t, err)
	require.Len(t, doc.Keys, 1)

	// Rotation must drop the cached document immediately.
	next, err := manager.Rotate(ctx)
	require.NoError(t, err)
	doc, err = manager.JWKSDocument(ctx)
	require.NoError(t, err)
	require.Len(t, doc.Keys, 2)

	found := false
	for _, key := range doc.Keys {
		if key.Kid == next.KID {
			found = true
		}
	}
	assert.True(t, found)
}

func TestJWKSEmptyStore(t *testing.T) {
	manager, _ := newManager(t)
	_, err := manager.JWKSDocument(context.Background())
	require.Error(t, err)
}

func TestCodecSignAndVerify(t *testing.T) {
	manager, _ := newManager(t)
	ctx := context.Background()
	_, err := manager.Rotate(ctx)
	require.NoError(t, err)

	codec := crypto.NewCodec(manager)
	session, err := codec.Session(ctx)
	require.NoError(t, err)

	now := time.Now().UTC()
	signed, err := session.Sign(jwt.MapClaims{
		"iss": "test",
		"sub": "user-1",
		"jti": "jti-1",
		"iat": now.Unix(),
		"exp": now.Add(time.Minute).Unix(),
	})
	require.NoError(t, err)

	kid, peeked, err := codec.PeekUnverified(signed)
	require.NoError(t, err)
	assert.Equal(t, session.KID(), kid)
	assert.Equal(t, "jti-1", peeked["jti"])

	claims, err := codec.VerifySignature(ctx, signed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims["sub"])
}

func TestCodecRejectsTamperedToken(t *testing.T) {
	manager, _ := newManager(t)
	ctx := context.Background()
	_, err := manager.Rotate(ctx)
	require.NoError(t, err)

	codec := crypto.NewCodec(manager)
	session, err := codec.Session(ctx)
	require.NoError(t, err)
	signed, err := session.Sign(jwt.MapClaims{"jti": "jti-1", "sub": "user-1"})
	require.NoError(t, err)

	tampered := signed[:len(signed)-3] + "abc"
	_, err = codec.VerifySignature(ctx, tampered)
	require.Error(t, err)
	assert.Equal(t, constants.ErrCodeInvalidSignature, errors.CodeOf(err))
}

func TestCodecPeekRejectsGarbage(t *testing.T) {
	manager, _ := newManager(t)
	codec := crypto.NewCodec(manager)

	_, _, err := codec.PeekUnverified("garbage")
	assert.Error(t, err)
}
