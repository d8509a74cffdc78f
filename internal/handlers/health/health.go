// Package health serves the liveness and readiness probes.
package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/prepline/backend/internal/gormw"
	"github.com/prepline/backend/internal/token"
)

var (
	logger = log.With().Str("component", "health").Logger()
)

type Handlers struct {
	db      *gormw.DB
	revoked token.RevocationCache
}

func NewHandlers(db *gormw.DB, revoked token.RevocationCache) *Handlers {
	return &Handlers{
		db:      db,
		revoked: revoked,
	}
}

func (h *Handlers) RegisterHandlers(rg *gin.RouterGroup) {
	rg.GET("/health", h.handleHealth)
	rg.GET("/db_cache_health", h.handleDBCacheHealth)
}

func (h *Handlers) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// handleDBCacheHealth runs a lightweight SELECT 1 against the database and a
// probe lookup against the revocation cache. 200 when all checks pass,
// 503 otherwise.
func (h *Handlers) handleDBCacheHealth(c *gin.Context) {
	status := http.StatusOK
	checks := gin.H{}

	if err := h.db.Exec("SELECT 1").Error; err != nil {
		logger.Error().Err(err).Msg("Database health check failed")
		checks["database"] = "error"
		status = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if _, err := h.revoked.IsRevoked("health-probe"); err != nil {
		logger.Error().Err(err).Msg("Revocation cache health check failed")
		checks["cache"] = "error"
		status = http.StatusServiceUnavailable
	} else {
		checks["cache"] = "ok"
	}

	if status == http.StatusOK {
		checks["status"] = "ok"
	} else {
		checks["status"] = "degraded"
	}

	c.JSON(status, checks)
}
