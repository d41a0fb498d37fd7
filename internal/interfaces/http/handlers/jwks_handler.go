package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stratumsec/tokend/internal/infrastructure/crypto"
	"github.com/stratumsec/tokend/pkg/logger"
)

// JWKSHandler serves the published key set.
type JWKSHandler struct {
	keys *crypto.KeyManager
	log  logger.Logger
}

// NewJWKSHandler creates a new JWKSHandler.
func NewJWKSHandler(keys *crypto.KeyManager, log logger.Logger) *JWKSHandler {
	return &JWKSHandler{keys: keys, log: log}
}

// GetJWKS handles GET /.well-known/jwks.json.
func (h *JWKSHandler) GetJWKS(c *gin.Context) {
	doc, err := h.keys.JWKSDocument(c.Request.Context())
	if err != nil {
		h.log.Error(c.Request.Context(), "jwks rendering failed", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "server_error", "error_description": "key set unavailable"})
		return
	}
	c.Header("Cache-Control", "public, max-age=300")
	c.JSON(http.StatusOK, doc)
}
