package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"messenger-service/internal/telemetry"
)

// RegisterDebugRoutes mounts operator-only endpoints behind the DEBUG_ROUTES
// flag. The audit endpoint pushes a synthetic INFO event through the full
// audit pipeline so the bus wiring can be checked on a running instance
// without touching conversation state.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), "INFO", "audit self-test", requestIDFromContext(c), userIDFromContext(c))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
