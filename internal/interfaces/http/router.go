// Package http wires the gin router and HTTP server around the token
// engine.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stratumsec/tokend/internal/config"
	"github.com/stratumsec/tokend/internal/interfaces/http/handlers"
	"github.com/stratumsec/tokend/pkg/constants"
	"github.com/stratumsec/tokend/pkg/logger"
)

// Router owns the gin engine and the HTTP server lifecycle.
type Router struct {
	engine        *gin.Engine
	cfg           *config.Config
	log           logger.Logger
	tokenHandler  *handlers.TokenHandler
	jwksHandler   *handlers.JWKSHandler
	healthHandler *handlers.HealthHandler
	server        *http.Server
}

// NewRouter creates the router.
func NewRouter(
	cfg *config.Config,
	log logger.Logger,
	tokenHandler *handlers.TokenHandler,
	jwksHandler *handlers.JWKSHandler,
	healthHandler *handlers.HealthHandler,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	return &Router{
		engine:        gin.New(),
		cfg:           cfg,
		log:           log,
		tokenHandler:  tokenHandler,
		jwksHandler:   jwksHandler,
		healthHandler: healthHandler,
	}
}

// SetupRoutes registers middleware and routes.
func (r *Router) SetupRoutes() {
	r.engine.Use(gin.Recovery())
	r.engine.Use(requestID())
	r.engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	r.engine.GET("/health/live", r.healthHandler.Liveness)
	r.engine.GET("/health/ready", r.healthHandler.Readiness)
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.engine.GET("/.well-known/jwks.json", r.jwksHandler.GetJWKS)

	oauth := r.engine.Group("/oauth")
	{
		oauth.POST("/token", r.tokenHandler.Issue)
		oauth.POST("/validate", r.tokenHandler.Validate)
		oauth.POST("/introspect", r.tokenHandler.Introspect)
		oauth.POST("/refresh", r.tokenHandler.Refresh)
		oauth.POST("/revoke", r.tokenHandler.Revoke)
		oauth.POST("/revoke-all", r.tokenHandler.RevokeAll)
	}

	if r.cfg.Server.EnablePprof {
		pprof.Register(r.engine)
	}
}

// Engine exposes the gin engine, used by tests.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// Start runs the HTTP server until the listener fails.
func (r *Router) Start() error {
	r.server = &http.Server{
		Addr:         r.cfg.Server.Addr(),
		Handler:      r.engine,
		ReadTimeout:  time.Duration(r.cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(r.cfg.Server.WriteTimeout) * time.Second,
	}
	r.log.Info(context.Background(), "http server listening",
		logger.String("addr", r.cfg.Server.Addr()))
	if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (r *Router) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	return r.server.Shutdown(ctx)
}

// requestID tags every request with an id for log correlation.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		ctx := context.WithValue(c.Request.Context(), constants.ContextKeyRequestID, id)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
