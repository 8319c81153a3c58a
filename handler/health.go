package handler

import "net/http"

// Healthz handles GET /healthz: process liveness, no dependency checks.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "ledgercored"})
}

// Ready reports readiness; pingRedis is nil-safe for deployments without
// a configured cache backend.
func Ready(pingRedis func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pingRedis != nil {
			if err := pingRedis(); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "reason": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "service": "ledgercored"})
	}
}
