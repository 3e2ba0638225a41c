package handlers

import (
	"net/http"

	"github.com/DoubleG2s/agente-ia-contabilidade/internal/http/respond"
)

// Health GET /health
func Health(app, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"app":     app,
			"version": version,
		})
	}
}
