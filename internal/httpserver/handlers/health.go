package handlers

import (
	"net/http"

	"github.com/homestead-systems/assistant-core/internal/breaker"
	"github.com/homestead-systems/assistant-core/internal/connstate"
)

// HealthHandler reports liveness plus C1's connection status and C3's
// breaker state, the way the teacher's HealthHandler reports Postgres pool
// liveness. camera may be nil when no camera service is configured.
func HealthHandler(manager *connstate.Manager, camera *breaker.CameraClient) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := manager.Status()
		components := map[string]string{"document_store": status.String()}
		if camera != nil {
			components["camera"] = camera.BreakerState().String()
		}

		if status != connstate.Connected {
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status":     "unhealthy",
				"components": components,
			})
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":     "healthy",
			"components": components,
		})
	}
}
