package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumsec/tokend/internal/application/dto"
	"github.com/stratumsec/tokend/internal/config"
	"github.com/stratumsec/tokend/internal/domain/service"
	"github.com/stratumsec/tokend/internal/infrastructure/audit"
	"github.com/stratumsec/tokend/internal/infrastructure/crypto"
	"github.com/stratumsec/tokend/internal/interfaces/http/handlers"
	"github.com/stratumsec/tokend/pkg/constants"
	"github.com/stratumsec/tokend/pkg/logger"
	"github.com/stratumsec/tokend/tests/fakes"
)

type apiFixture struct {
	router *gin.Engine
	keys   *crypto.KeyManager
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.NewNop()

	keyRepo := fakes.NewKeyRepository()
	kek, err := crypto.NewStaticKEK("handler-test")
	require.NoError(t, err)
	keys := crypto.NewKeyManager(keyRepo, kek, log, 2048, 90*24*time.Hour, 30*24*time.Hour)
	_, err = keys.Rotate(context.Background())
	require.NoError(t, err)

	engine := service.NewTokenEngine(service.Config{
		Issuer:      "https://auth.test",
		Audience:    "test-clients",
		AccessTTL:   constants.AccessTokenDefaultTTL,
		RefreshTTL:  constants.RefreshTokenDefaultTTL,
		IdentityTTL: constants.IdentityTokenDefaultTTL,
	}, crypto.NewTokenSigner(keys),
		fakes.NewTokenRepository(), fakes.NewRevocationRepository(), fakes.NewRevocationCache(),
		audit.NewKafkaPublisher(&config.KafkaConfig{Enabled: false}, log), nil, log)

	tokenHandler := handlers.NewTokenHandler(engine)
	jwksHandler := handlers.NewJWKSHandler(keys, log)

	router := gin.New()
	router.POST("/oauth/token", tokenHandler.Issue)
	router.POST("/oauth/validate", tokenHandler.Validate)
	router.POST("/oauth/introspect", tokenHandler.Introspect)
	router.POST("/oauth/refresh", tokenHandler.Refresh)
	router.POST("/oauth/revoke", tokenHandler.Revoke)
	router.POST("/oauth/revoke-all", tokenHandler.RevokeAll)
	router.GET("/.well-known/jwks.json", jwksHandler.GetJWKS)

	return &apiFixture{router: router, keys: keys}
}

func (f *apiFixture) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) issue(t *testing.T) *dto.TokenResponse {
	t.Helper()
	rec := f.post(t, "/oauth/token", dto.TokenRequest{
		UserID:   "user-1",
		ClientID: "client-1",
		Scopes:   []string{"read"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp dto.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return &resp
}

func TestIssueEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.issue(t)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(900), resp.ExpiresIn)
}

func TestIssueEndpointRejectsMissingFields(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.post(t, "/oauth/token", gin.H{"client_id": "client-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid_request", body["error"])
}

func TestValidateEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	issued := f.issue(t)

	rec := f.post(t, "/oauth/validate", dto.ValidationRequest{
		Token:            issued.AccessToken,
		IncludeTokenInfo: true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result dto.ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Valid)
	require.NotNil(t, result.TokenInfo)
	assert.Equal(t, "user-1", result.TokenInfo.UserID)
}

func TestTokenEndpointsWireFields(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.post(t, "/oauth/token", dto.TokenRequest{
		UserID:   "user-1",
		ClientID: "client-1",
		Scopes:   []string{"read"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var issued map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))
	assert.Contains(t, issued, "issued_at")
	assert.Equal(t, []any{"read"}, issued["scopes"])

	token, _ := issued["access_token"].(string)
	rec = f.post(t, "/oauth/validate", dto.ValidationRequest{Token: token})
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, true, body["active"])
	assert.Equal(t, "user-1", body["user_id"])
	assert.Equal(t, "client-1", body["client_id"])
	assert.Equal(t, []any{"read"}, body["scopes"])
	assert.Contains(t, body, "issued_at")
	assert.Contains(t, body, "expires_at")

	rec = f.post(t, "/oauth/validate", dto.ValidationRequest{Token: "junk"})
	require.Equal(t, http.StatusOK, rec.Code)
	body = map[string]any{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, false, body["active"])
	assert.Equal(t, "invalid_request", body["error"])
	assert.NotContains(t, body, "error_code")
}

func TestValidateEndpointReportsInvalidTokens(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.post(t, "/oauth/validate", dto.ValidationRequest{Token: "not-a-token"})
	require.Equal(t, http.StatusOK, rec.Code, "expected outcomes are answered, not errored")

	var result dto.ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Valid)
	assert.Equal(t, constants.ErrCodeInvalidRequest, result.ErrorCode)
}

func TestIntrospectEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	issued := f.issue(t)

	rec := f.post(t, "/oauth/introspect", gin.H{"token": issued.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)

	var result dto.ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Valid)
	require.NotNil(t, result.TokenInfo, "introspection always discloses claims")
	assert.Equal(t, constants.TokenTypeAccess, result.TokenInfo.TokenType)
}

func TestRefreshEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	issued := f.issue(t)

	rec := f.post(t, "/oauth/refresh", dto.RefreshRequest{RefreshToken: issued.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp dto.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEqual(t, issued.RefreshToken, resp.RefreshToken)

	// The consumed refresh token is rejected with 401 on reuse.
	rec = f.post(t, "/oauth/refresh", dto.RefreshRequest{RefreshToken: issued.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "token_revoked", body["error"])
}

func TestRevokeEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	issued := f.issue(t)

	rec := f.post(t, "/oauth/revoke", dto.RevocationRequest{
		Token:  issued.AccessToken,
		Reason: "compromised",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.post(t, "/oauth/validate", dto.ValidationRequest{Token: issued.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	var result dto.ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, constants.ErrCodeTokenRevoked, result.ErrorCode)

	// Unknown tokens are a 404.
	rec = f.post(t, "/oauth/revoke", dto.RevocationRequest{Token: "no-such-token"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRevokeAllEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.issue(t)
	f.issue(t)

	rec := f.post(t, "/oauth/revoke-all", dto.BulkRevocationRequest{UserID: "user-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dto.BulkRevocationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 4, resp.RevokedCount)
}

func TestJWKSEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc dto.JWKSDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Len(t, doc.Keys, 1)
	key := doc.Keys[0]
	assert.Equal(t, "RSA", key.Kty)
	assert.Equal(t, "sig", key.Use)
	assert.NotEmpty(t, key.N)
	assert.NotEmpty(t, key.E)

	assert.NotContains(t, rec.Body.String(), "PRIVATE",
		"published key set must not leak private material")
}
