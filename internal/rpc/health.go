package rpc

import "net/http"

// HealthCheck reports liveness; used by the load balancer / orchestrator.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
