package handlers

import (
	"net/http"

	"github.com/gluk-w/codelive/internal/database"
)

// HealthCheck reports database connectivity plus the current value of each
// named gauge (connections, rooms, terminals, runs).
func HealthCheck(gauges map[string]func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbStatus := "disconnected"
		if database.Ping() {
			dbStatus = "connected"
		}

		status := "healthy"
		if dbStatus != "connected" {
			status = "unhealthy"
		}

		body := map[string]interface{}{
			"status":   status,
			"database": dbStatus,
		}
		for name, read := range gauges {
			body[name] = read()
		}
		writeJSON(w, http.StatusOK, body)
	}
}
