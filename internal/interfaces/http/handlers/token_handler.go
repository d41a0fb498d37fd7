// Package handlers provides HTTP request handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stratumsec/tokend/internal/application/dto"
	"github.com/stratumsec/tokend/internal/domain/service"
	"github.com/stratumsec/tokend/pkg/errors"
)

// TokenHandler serves the token lifecycle endpoints.
type TokenHandler struct {
	engine service.TokenEngine
}

// NewTokenHandler creates a new TokenHandler.
func NewTokenHandler(engine service.TokenEngine) *TokenHandler {
	return &TokenHandler{engine: engine}
}

// Issue handles POST /oauth/token.
func (h *TokenHandler) Issue(c *gin.Context) {
	var req dto.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": "invalid_request", "error_description": err.Error()})
		return
	}

	resp, err := h.engine.IssueTokens(c.Request.Context(), &req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Validate handles POST /oauth/validate.
func (h *TokenHandler) Validate(c *gin.Context) {
	var req dto.ValidationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": "invalid_request", "error_description": err.Error()})
		return
	}

	result, err := h.engine.ValidateToken(c.Request.Context(), &req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	// Expected verification failures are 200s with valid=false; the
	// transport outcome is "the question was answered".
	c.JSON(http.StatusOK, result)
}

// Introspect handles POST /oauth/introspect.
func (h *TokenHandler) Introspect(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": "invalid_request", "error_description": err.Error()})
		return
	}

	result, err := h.engine.IntrospectToken(c.Request.Context(), req.Token)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Refresh handles POST /oauth/refresh.
func (h *TokenHandler) Refresh(c *gin.Context) {
	var req dto.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": "invalid_request", "error_description": err.Error()})
		return
	}

	resp, vres, err := h.engine.RefreshTokens(c.Request.Context(), &req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if vres != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": string(vres.ErrorCode), "error_description": vres.ErrorDescription})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Revoke handles POST /oauth/revoke.
func (h *TokenHandler) Revoke(c *gin.Context) {
	var req dto.RevocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": "invalid_request", "error_description": err.Error()})
		return
	}

	if err := h.engine.RevokeToken(c.Request.Context(), &req); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RevokeAll handles POST /oauth/revoke-all.
func (h *TokenHandler) RevokeAll(c *gin.Context) {
	var req dto.BulkRevocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": "invalid_request", "error_description": err.Error()})
		return
	}

	count, err := h.engine.RevokeAllUserTokens(c.Request.Context(), &req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.BulkRevocationResponse{RevokedCount: count})
}

func abortWithError(c *gin.Context, err error) {
	if e, ok := errors.AsError(err); ok {
		c.AbortWithStatusJSON(e.HTTPStatus(), errors.ToResponse(e))
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, errors.ToResponse(err))
}
