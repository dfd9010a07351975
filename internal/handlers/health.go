package handlers

import "net/http"

// Healthz is a liveness endpoint.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
