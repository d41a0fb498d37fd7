package service

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/stratumsec/tokend/internal/application/dto"
	"github.com/stratumsec/tokend/internal/domain/models"
	"github.com/stratumsec/tokend/internal/domain/repository"
	"github.com/stratumsec/tokend/internal/infrastructure/audit"
	"github.com/stratumsec/tokend/internal/infrastructure/monitoring"
	"github.com/stratumsec/tokend/pkg/constants"
	"github.com/stratumsec/tokend/pkg/errors"
	"github.com/stratumsec/tokend/pkg/logger"
)

// Config carries the issuance parameters of the engine.
type Config struct {
	Issuer      string
	Audience    string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	IdentityTTL time.Duration
}

type tokenEngine struct {
	cfg     Config
	signer  TokenSigner
	tokens  repository.TokenRepository
	ledger  repository.RevocationRepository
	cache   repository.RevocationCache
	audit   audit.Publisher
	metrics *monitoring.Metrics
	log     logger.Logger
}

// NewTokenEngine wires the token lifecycle engine. cache and metrics
// may be nil; the ledger alone is authoritative for revocation.
func NewTokenEngine(cfg Config, signer TokenSigner, tokens repository.TokenRepository,
	ledger repository.RevocationRepository, cache repository.RevocationCache,
	publisher audit.Publisher, metrics *monitoring.Metrics, log logger.Logger) TokenEngine {
	return &tokenEngine{
		cfg:     cfg,
		signer:  signer,
		tokens:  tokens,
		ledger:  ledger,
		cache:   cache,
		audit:   publisher,
		metrics: metrics,
		log:     log.WithComponent("token_engine"),
	}
}

// ================================================================================
// Issuance
// ================================================================================

func (e *tokenEngine) IssueTokens(ctx context.Context, req *dto.TokenRequest) (*dto.TokenResponse, error) {
	start := time.Now()
	if req.UserID == "" {
		return nil, errors.ErrInvalidRequest("user_id must not be empty")
	}
	if req.ClientID == "" {
		return nil, errors.ErrInvalidRequest("client_id must not be empty")
	}
	if err := models.ValidateCustomClaims(req.CustomClaims); err != nil {
		return nil, err
	}

	resp, records, err := e.mint(ctx, req)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordIssue("error", nil, time.Since(start))
		}
		return nil, err
	}

	if e.metrics != nil {
		types := make([]string, len(records))
		for i, r := range records {
			types[i] = string(r.TokenType)
		}
		e.metrics.RecordIssue("success", types, time.Since(start))
	}
	event := audit.NewEvent(constants.EventTypeTokenIssued)
	event.UserID = req.UserID
	event.ClientID = req.ClientID
	event.TokenID = records[0].TokenID
	e.audit.Publish(ctx, event)

	return resp, nil
}

// mint signs and persists one token set. The active key is pinned once
// for the whole set, and every record is durable before the response
// exists; a storage failure means no tokens were handed out.
func (e *tokenEngine) mint(ctx context.Context, req *dto.TokenRequest) (*dto.TokenResponse, []*models.IssuedToken, error) {
	session, err := e.signer.Session(ctx)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	scope := strings.Join(req.Scopes, " ")
	aud := e.cfg.Audience
	if req.Audience != "" {
		aud = req.Audience
	}
	sub := req.UserID
	if req.Subject != "" {
		sub = req.Subject
	}

	accessID := uuid.NewString()
	accessClaims := e.baseClaims(accessID, sub, aud, now, e.cfg.AccessTTL)
	accessClaims[constants.ClaimKeyScope] = scope
	accessClaims[constants.ClaimKeyClientID] = req.ClientID
	accessClaims[constants.ClaimKeyUserID] = req.UserID
	accessClaims[constants.ClaimKeyTokenType] = string(constants.TokenTypeAccess)
	for k, v := range req.CustomClaims {
		accessClaims[k] = v
	}
	accessToken, err := session.Sign(accessClaims)
	if err != nil {
		return nil, nil, err
	}

	refreshID := uuid.NewString()
	refreshClaims := e.baseClaims(refreshID, sub, aud, now, e.cfg.RefreshTTL)
	refreshClaims[constants.ClaimKeyScope] = scope
	refreshClaims[constants.ClaimKeyClientID] = req.ClientID
	refreshClaims[constants.ClaimKeyUserID] = req.UserID
	refreshClaims[constants.ClaimKeyTokenType] = string(constants.TokenTypeRefresh)
	// Rotation re-mints the identity token only when the original
	// issuance included one; the refresh token carries that fact.
	refreshClaims[constants.ClaimKeyIDToken] = req.IncludeIdentityToken
	refreshToken, err := session.Sign(refreshClaims)
	if err != nil {
		return nil, nil, err
	}

	records := []*models.IssuedToken{
		models.NewIssuedToken(accessID, req.UserID, req.ClientID, constants.TokenTypeAccess, req.Scopes, session.KID(), e.cfg.AccessTTL),
		models.NewIssuedToken(refreshID, req.UserID, req.ClientID, constants.TokenTypeRefresh, req.Scopes, session.KID(), e.cfg.RefreshTTL),
	}

	var identityToken string
	if req.IncludeIdentityToken {
		identityID := uuid.NewString()
		identityClaims := e.baseClaims(identityID, sub, req.ClientID, now, e.cfg.IdentityTTL)
		identityClaims[constants.ClaimKeyUserID] = req.UserID
		identityClaims[constants.ClaimKeyClientID] = req.ClientID
		identityClaims[constants.ClaimKeyTokenType] = string(constants.TokenTypeIdentity)
		if req.Profile != nil {
			if req.Profile.Email != "" {
				identityClaims[constants.ClaimKeyEmail] = req.Profile.Email
			}
			if req.Profile.Name != "" {
				identityClaims[constants.ClaimKeyName] = req.Profile.Name
			}
			if req.Profile.Picture != "" {
				identityClaims[constants.ClaimKeyPicture] = req.Profile.Picture
			}
			if len(req.Profile.Roles) > 0 {
				identityClaims[constants.ClaimKeyRoles] = strings.Join(req.Profile.Roles, " ")
			}
		}
		identityToken, err = session.Sign(identityClaims)
		if err != nil {
			return nil, nil, err
		}
		records = append(records,
			models.NewIssuedToken(identityID, req.UserID, req.ClientID, constants.TokenTypeIdentity, req.Scopes, session.KID(), e.cfg.IdentityTTL))
	}

	if err := e.tokens.SaveBatch(ctx, records); err != nil {
		return nil, nil, err
	}

	return &dto.TokenResponse{
		AccessToken:   accessToken,
		RefreshToken:  refreshToken,
		IdentityToken: identityToken,
		TokenType:     constants.BearerTokenType,
		ExpiresIn:     int64(e.cfg.AccessTTL.Seconds()),
		Scopes:        req.Scopes,
		IssuedAt:      now,
	}, records, nil
}

func (e *tokenEngine) baseClaims(jti, sub, aud string, now time.Time, ttl time.Duration) jwt.MapClaims {
	return jwt.MapClaims{
		"iss": e.cfg.Issuer,
		"sub": sub,
		"aud": aud,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"jti": jti,
	}
}

// ================================================================================
// Validation
// ================================================================================

func (e *tokenEngine) ValidateToken(ctx context.Context, req *dto.ValidationRequest) (*dto.ValidationResult, error) {
	start := time.Now()
	result, err := e.validate(ctx, req)
	if e.metrics != nil {
		outcome := "error"
		if err == nil {
			outcome = "valid"
			if !result.Valid {
				outcome = string(result.ErrorCode)
			}
		}
		e.metrics.RecordValidation(outcome, time.Since(start))
	}
	return result, err
}

func (e *tokenEngine) IntrospectToken(ctx context.Context, token string) (*dto.ValidationResult, error) {
	return e.ValidateToken(ctx, &dto.ValidationRequest{Token: token, IncludeTokenInfo: true})
}

// validate runs the ordered pipeline. Each step short-circuits:
// revocation lookup, key resolution, signature, expiry, then the
// caller's audience/issuer/scope expectations.
func (e *tokenEngine) validate(ctx context.Context, req *dto.ValidationRequest) (*dto.ValidationResult, error) {
	if req.Token == "" {
		return dto.Invalid(constants.ErrCodeMissingToken, "no token supplied"), nil
	}

	_, unverified, err := e.signer.PeekUnverified(req.Token)
	if err != nil {
		return dto.Invalid(constants.ErrCodeInvalidRequest, "malformed token"), nil
	}
	jti, _ := unverified["jti"].(string)

	if req.ShouldCheckRevocation() {
		revoked, err := e.isRevoked(ctx, jti)
		if err != nil {
			return nil, err
		}
		if revoked {
			return dto.Invalid(constants.ErrCodeTokenRevoked, "token has been revoked"), nil
		}
	}

	claims, err := e.signer.VerifySignature(ctx, req.Token)
	if err != nil {
		switch errors.CodeOf(err) {
		case constants.ErrCodeKeyNotFound:
			return dto.Invalid(constants.ErrCodeInvalidSignature, "token signed by unknown key"), nil
		case constants.ErrCodeKeyExpired:
			return dto.Invalid(constants.ErrCodeKeyExpired, "signing key has expired"), nil
		case constants.ErrCodeInvalidSignature:
			return dto.Invalid(constants.ErrCodeInvalidSignature, "signature verification failed"), nil
		default:
			return nil, err
		}
	}

	now := time.Now().UTC()
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return dto.Invalid(constants.ErrCodeInvalidRequest, "token has no expiry"), nil
	}
	if !now.Before(exp.Time) {
		return dto.Invalid(constants.ErrCodeTokenExpired, "token has expired"), nil
	}

	if req.ExpectedIssuer != "" {
		iss, _ := claims.GetIssuer()
		if iss != req.ExpectedIssuer {
			return dto.Invalid(constants.ErrCodeInvalidIssuer, "issuer mismatch"), nil
		}
	}
	if req.ExpectedAudience != "" {
		aud, _ := claims.GetAudience()
		if !containsString(aud, req.ExpectedAudience) {
			return dto.Invalid(constants.ErrCodeInvalidAudience, "audience mismatch"), nil
		}
	}
	if len(req.RequiredScopes) > 0 {
		granted := scopesFromClaims(claims)
		for _, required := range req.RequiredScopes {
			if !containsString(granted, required) {
				return dto.Invalid(constants.ErrCodeInsufficientScope, "token lacks scope "+required), nil
			}
		}
	}

	// Usage tracking must never fail a valid token.
	if err := e.tokens.TouchLastUsed(ctx, jti, now); err != nil {
		e.log.Warn(ctx, "last-used update failed",
			logger.String("jti", jti))
	}

	// A token that survived the pipeline is live: not revoked, not
	// expired. Valid and Active diverge only for callers that skipped
	// the revocation lookup.
	result := &dto.ValidationResult{Valid: true, Active: req.ShouldCheckRevocation()}
	result.UserID, _ = claims[constants.ClaimKeyUserID].(string)
	result.ClientID, _ = claims[constants.ClaimKeyClientID].(string)
	result.Scopes = scopesFromClaims(claims)
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		result.IssuedAt = &iat.Time
	}
	result.ExpiresAt = &exp.Time
	if req.IncludeTokenInfo {
		result.TokenInfo = tokenInfoFromClaims(jti, claims)
	}
	return result, nil
}

// isRevoked consults the cache first; a cache fault degrades to the
// ledger instead of failing the validation.
func (e *tokenEngine) isRevoked(ctx context.Context, jti string) (bool, error) {
	if e.cache != nil {
		hit, err := e.cache.Contains(ctx, jti)
		if err != nil {
			e.log.Warn(ctx, "revocation cache lookup failed, falling back to ledger",
				logger.String("jti", jti))
		} else if hit {
			return true, nil
		}
	}
	return e.ledger.Exists(ctx, jti)
}

// ================================================================================
// Refresh rotation
// ================================================================================

func (e *tokenEngine) RefreshTokens(ctx context.Context, req *dto.RefreshRequest) (*dto.TokenResponse, *dto.ValidationResult, error) {
	vres, err := e.validate(ctx, &dto.ValidationRequest{Token: req.RefreshToken, IncludeTokenInfo: true})
	if err != nil {
		return nil, nil, err
	}
	if !vres.Valid {
		// A rotated refresh token presented again fails here on the
		// ledger lookup; that reuse is as security-relevant as losing
		// the rotation race below.
		if vres.ErrorCode == constants.ErrCodeTokenRevoked {
			e.reportRefreshReuse(ctx, req.RefreshToken)
		}
		e.recordRefresh(string(vres.ErrorCode))
		return nil, vres, nil
	}
	info := vres.TokenInfo
	if info.TokenType != constants.TokenTypeRefresh {
		e.recordRefresh("wrong_type")
		return nil, dto.Invalid(constants.ErrCodeInvalidRequest, "token is not a refresh token"), nil
	}

	record, err := e.tokens.FindByID(ctx, info.TokenID)
	if err != nil {
		if errors.ErrTokenNotFound.Is(err) {
			return nil, dto.Invalid(constants.ErrCodeInvalidRequest, "refresh token has no issuance record"), nil
		}
		return nil, nil, err
	}

	// Single-use claim. Exactly one of two racing refreshes wins the
	// conditional update; the loser observes token_revoked.
	now := time.Now().UTC()
	claimed, err := e.tokens.Revoke(ctx, record.TokenID, constants.RevocationReasonRotated, now)
	if err != nil {
		return nil, nil, err
	}
	if !claimed {
		event := audit.NewEvent(constants.EventTypeRefreshReuse)
		event.UserID = record.UserID
		event.ClientID = record.ClientID
		event.TokenID = record.TokenID
		e.audit.Publish(ctx, event)
		e.recordRefresh("token_revoked")
		return nil, dto.Invalid(constants.ErrCodeTokenRevoked, "refresh token already rotated"), nil
	}

	entry := models.NewRevocationEntry(record, constants.RevocationReasonRotated, record.UserID)
	if err := e.ledger.Insert(ctx, entry); err != nil {
		// The token is already revoked in the store; failing here keeps
		// the system closed rather than handing out a new set.
		return nil, nil, err
	}
	e.cachePut(ctx, entry)

	// The signature was verified above; the claim set can be decoded
	// again without re-verifying to read the identity-token marker and
	// the original audience/subject, so the rotated set mirrors them.
	withIdentity := false
	var audience, subject string
	if _, claims, perr := e.signer.PeekUnverified(req.RefreshToken); perr == nil {
		if v, ok := claims[constants.ClaimKeyIDToken].(bool); ok {
			withIdentity = v
		}
		audience, _ = claims["aud"].(string)
		subject, _ = claims["sub"].(string)
	}
	resp, _, err := e.mint(ctx, &dto.TokenRequest{
		UserID:               record.UserID,
		ClientID:             record.ClientID,
		Scopes:               record.Scopes,
		Audience:             audience,
		Subject:              subject,
		IncludeIdentityToken: withIdentity,
	})
	if err != nil {
		return nil, nil, err
	}

	event := audit.NewEvent(constants.EventTypeTokenRefreshed)
	event.UserID = record.UserID
	event.ClientID = record.ClientID
	event.TokenID = record.TokenID
	e.audit.Publish(ctx, event)
	e.recordRefresh("success")

	return resp, nil, nil
}

// reportRefreshReuse publishes the security event for a revoked refresh
// token presented for rotation. The claims are decoded unverified; the
// token already failed validation and the event is advisory.
func (e *tokenEngine) reportRefreshReuse(ctx context.Context, token string) {
	_, claims, err := e.signer.PeekUnverified(token)
	if err != nil {
		return
	}
	if tokenType, _ := claims[constants.ClaimKeyTokenType].(string); tokenType != string(constants.TokenTypeRefresh) {
		return
	}
	event := audit.NewEvent(constants.EventTypeRefreshReuse)
	event.UserID, _ = claims[constants.ClaimKeyUserID].(string)
	event.ClientID, _ = claims[constants.ClaimKeyClientID].(string)
	event.TokenID, _ = claims["jti"].(string)
	e.audit.Publish(ctx, event)
	e.log.Warn(ctx, "revoked refresh token presented again",
		logger.String("jti", event.TokenID),
		logger.String("user_id", event.UserID),
	)
}

func (e *tokenEngine) recordRefresh(result string) {
	if e.metrics != nil {
		e.metrics.RecordRefresh(result)
	}
}

// ================================================================================
// Revocation
// ================================================================================

func (e *tokenEngine) RevokeToken(ctx context.Context, req *dto.RevocationRequest) error {
	if req.Token == "" {
		return errors.ErrMissingToken
	}
	// Accept either a signed token or a bare token id.
	tokenID := req.Token
	if _, claims, err := e.signer.PeekUnverified(req.Token); err == nil {
		if jti, ok := claims["jti"].(string); ok {
			tokenID = jti
		}
	}

	record, err := e.tokens.FindByID(ctx, tokenID)
	if err != nil {
		return err
	}

	reason := req.Reason
	if reason == "" {
		reason = constants.RevocationReasonRequested
	}

	claimed, err := e.tokens.Revoke(ctx, record.TokenID, reason, time.Now().UTC())
	if err != nil {
		return err
	}

	// Ledger insert is idempotent; re-revocation converges to success.
	entry := models.NewRevocationEntry(record, reason, req.RevokedBy)
	if err := e.ledger.Insert(ctx, entry); err != nil {
		return err
	}
	e.cachePut(ctx, entry)

	if claimed {
		if e.metrics != nil {
			e.metrics.RecordRevocation(reason)
		}
		event := audit.NewEvent(constants.EventTypeTokenRevoked)
		event.UserID = record.UserID
		event.ClientID = record.ClientID
		event.TokenID = record.TokenID
		event.Reason = reason
		event.Actor = req.RevokedBy
		e.audit.Publish(ctx, event)
	}
	return nil
}

func (e *tokenEngine) RevokeAllUserTokens(ctx context.Context, req *dto.BulkRevocationRequest) (int, error) {
	if req.UserID == "" {
		return 0, errors.ErrInvalidRequest("user_id must not be empty")
	}
	reason := req.Reason
	if reason == "" {
		reason = constants.RevocationReasonLogout
	}

	live, err := e.tokens.FindActiveByUser(ctx, req.UserID)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	revoked := 0
	for _, record := range live {
		claimed, err := e.tokens.Revoke(ctx, record.TokenID, reason, now)
		if err != nil {
			return revoked, err
		}
		entry := models.NewRevocationEntry(record, reason, req.RevokedBy)
		if err := e.ledger.Insert(ctx, entry); err != nil {
			return revoked, err
		}
		e.cachePut(ctx, entry)
		if claimed {
			revoked++
			if e.metrics != nil {
				e.metrics.RecordRevocation(reason)
			}
		}
	}

	event := audit.NewEvent(constants.EventTypeTokenRevoked)
	event.UserID = req.UserID
	event.Reason = reason
	event.Actor = req.RevokedBy
	e.audit.Publish(ctx, event)

	e.log.Info(ctx, "user tokens revoked",
		logger.String("user_id", req.UserID),
		logger.Int("count", revoked),
		logger.String("reason", reason),
	)
	return revoked, nil
}

func (e *tokenEngine) cachePut(ctx context.Context, entry *models.RevocationEntry) {
	if e.cache == nil {
		return
	}
	ttl := entry.RemainingLifetime(time.Now().UTC())
	if err := e.cache.Put(ctx, entry.TokenID, ttl); err != nil {
		e.log.Warn(ctx, "revocation cache write failed",
			logger.String("jti", entry.TokenID))
	}
}

// ================================================================================
// Claim helpers
// ================================================================================

// wellKnownClaims are excluded from the custom-claim section of
// disclosed token info.
var wellKnownClaims = map[string]struct{}{
	"iss": {}, "sub": {}, "aud": {}, "exp": {}, "iat": {}, "nbf": {}, "jti": {},
	constants.ClaimKeyScope:     {},
	constants.ClaimKeyClientID:  {},
	constants.ClaimKeyUserID:    {},
	constants.ClaimKeyTokenType: {},
	constants.ClaimKeyIDToken:   {},
}

func tokenInfoFromClaims(jti string, claims jwt.MapClaims) *dto.TokenInfo {
	info := &dto.TokenInfo{TokenID: jti}
	info.UserID, _ = claims[constants.ClaimKeyUserID].(string)
	info.ClientID, _ = claims[constants.ClaimKeyClientID].(string)
	if tokenType, ok := claims[constants.ClaimKeyTokenType].(string); ok {
		info.TokenType = constants.TokenType(tokenType)
	}
	info.Scopes = scopesFromClaims(claims)
	info.Issuer, _ = claims.GetIssuer()
	if aud, err := claims.GetAudience(); err == nil {
		info.Audience = aud
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		info.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	custom := make(map[string]any)
	for k, v := range claims {
		if _, known := wellKnownClaims[k]; !known {
			custom[k] = v
		}
	}
	if len(custom) > 0 {
		info.Claims = custom
	}
	return info
}

func scopesFromClaims(claims jwt.MapClaims) []string {
	scope, _ := claims[constants.ClaimKeyScope].(string)
	if scope == "" {
		return nil
	}
	return strings.Fields(scope)
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
