package crypto

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	stderrors "errors"
	"math/big"
	"time"

	"github.com/stratumsec/tokend/internal/application/dto"
	"github.com/stratumsec/tokend/pkg/constants"
	"github.com/stratumsec/tokend/pkg/errors"
)

var (
	errPEMDecode = stderrors.New("malformed PEM block")
	errNotRSA    = stderrors.New("public key is not RSA")
)

// JWKSDocument renders the public material of every unexpired key as a
// JSON Web Key Set. The document is cached until the TTL lapses or a
// rotation invalidates it, and validated before serving so a malformed
// entry can never be published.
func (m *KeyManager) JWKSDocument(ctx context.Context) (*dto.JWKSDocument, error) {
	if cached, ok := m.cache.Get(cacheKeyJWKS); ok {
		return cached.(*dto.JWKSDocument), nil
	}

	records, err := m.repo.FindUnexpired(ctx, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	doc := &dto.JWKSDocument{Keys: make([]dto.JWK, 0, len(records))}
	for _, record := range records {
		pub, err := parsePublicKeyPEM(record.PublicKeyPEM)
		if err != nil {
			return nil, err
		}
		doc.Keys = append(doc.Keys, rsaToJWK(record.KID, string(record.Algorithm), pub))
	}

	if err := validateJWKS(doc); err != nil {
		return nil, err
	}
	m.cache.Set(cacheKeyJWKS, doc, constants.JWKSCacheTTL)
	return doc, nil
}

// rsaToJWK converts an RSA public key to its JWK representation.
// Modulus and exponent are big-endian, leading zero bytes stripped,
// base64url encoded without padding.
func rsaToJWK(kid, alg string, pub *rsa.PublicKey) dto.JWK {
	return dto.JWK{
		Kty: "RSA",
		Use: "sig",
		Kid: kid,
		Alg: alg,
		N:   base64.RawURLEncoding.EncodeToString(stripLeadingZero(pub.N.Bytes())),
		E:   base64.RawURLEncoding.EncodeToString(stripLeadingZero(big.NewInt(int64(pub.E)).Bytes())),
	}
}

func stripLeadingZero(b []byte) []byte {
	for len(b) > 1 && b[0] == 0 {
		b = b[1:]
	}
	return b
}

// validateJWKS rejects a document that would confuse verifiers: no
// keys at all, or an entry with missing fields.
func validateJWKS(doc *dto.JWKSDocument) error {
	if len(doc.Keys) == 0 {
		return errors.ErrNoActiveKey
	}
	for _, key := range doc.Keys {
		if key.Kty != "RSA" || key.Use != "sig" || key.Kid == "" || key.Alg == "" || key.N == "" || key.E == "" {
			return errors.ErrStorage.WithMetadata("kid", key.Kid)
		}
	}
	return nil
}
