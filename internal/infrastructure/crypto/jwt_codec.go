package crypto

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stratumsec/tokend/internal/domain/service"
	"github.com/stratumsec/tokend/pkg/constants"
	"github.com/stratumsec/tokend/pkg/errors"
)

// Codec signs and verifies JWTs against the key manager's key material.
type Codec struct {
	keys *KeyManager
}

// NewCodec builds a Codec over the given key manager.
func NewCodec(keys *KeyManager) *Codec {
	return &Codec{keys: keys}
}

// NewTokenSigner adapts the codec to the domain signer interface.
func NewTokenSigner(keys *KeyManager) service.TokenSigner {
	return signerAdapter{codec: NewCodec(keys)}
}

type signerAdapter struct {
	codec *Codec
}

func (a signerAdapter) Session(ctx context.Context) (service.SigningSession, error) {
	return a.codec.Session(ctx)
}

func (a signerAdapter) PeekUnverified(token string) (string, jwt.MapClaims, error) {
	return a.codec.PeekUnverified(token)
}

func (a signerAdapter) VerifySignature(ctx context.Context, token string) (jwt.MapClaims, error) {
	return a.codec.VerifySignature(ctx, token)
}

// Session resolves the active signing key once. Every token of one
// issuance call is signed inside the same session so a rotation racing
// the call cannot produce a mixed-key token set. Returns ErrNoActiveKey
// when rotation has never been run.
func (c *Codec) Session(ctx context.Context) (*SigningSession, error) {
	key, err := c.keys.ActiveSigningKey(ctx)
	if err != nil {
		return nil, err
	}
	return &SigningSession{key: key}, nil
}

// SigningSession signs claims with one pinned key.
type SigningSession struct {
	key *SigningKey
}

// KID returns the pinned key's id.
func (s *SigningSession) KID() string { return s.key.KID }

// Sign serializes the claims into an RS256 JWT signed by the pinned
// key, with the key id in the header.
func (s *SigningSession) Sign(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header[constants.HeaderKeyID] = s.key.KID
	signed, err := token.SignedString(s.key.PrivateKey)
	if err != nil {
		return "", errors.ErrKeyGenerationFailure.WithCause(err)
	}
	return signed, nil
}

// PeekUnverified decodes the token without verifying its signature,
// exposing the kid header and the claim set. Callers use this for
// revocation lookup and key resolution before any cryptography runs;
// nothing peeked may be trusted until VerifySignature succeeds.
func (c *Codec) PeekUnverified(tokenString string) (kid string, claims jwt.MapClaims, err error) {
	parser := jwt.NewParser()
	claims = jwt.MapClaims{}
	token, _, err := parser.ParseUnverified(tokenString, claims)
	if err != nil {
		return "", nil, errors.ErrInvalidRequest("malformed token").WithCause(err)
	}
	kid, _ = token.Header[constants.HeaderKeyID].(string)
	if kid == "" {
		return "", nil, errors.ErrInvalidRequest("token header has no kid")
	}
	if _, ok := claims["jti"].(string); !ok {
		return "", nil, errors.ErrInvalidRequest("token has no jti claim")
	}
	return kid, claims, nil
}

// VerifySignature checks the token's signature against the key named in
// its header. Temporal claims are deliberately NOT validated here; the
// caller performs the expiry check so outcome ordering stays explicit.
func (c *Codec) VerifySignature(ctx context.Context, tokenString string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		kid, _ := token.Header[constants.HeaderKeyID].(string)
		if kid == "" {
			return nil, fmt.Errorf("token header has no kid")
		}
		return c.keys.VerificationKey(ctx, kid)
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		// Key resolution failures surface through the keyfunc; keep
		// their codes instead of collapsing them into invalid_signature.
		var appErr *errors.Error
		if stderrors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, errors.New(constants.ErrCodeInvalidSignature, 401, "token signature verification failed").WithCause(err)
	}
	return claims, nil
}
