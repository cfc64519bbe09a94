package api

import (
	"net/http"
	"time"

	"cvrptw/internal/buildinfo"
)

// DebugHandler handles GET /debug/info: build, host and effective
// configuration with secrets reduced to presence flags.
func (s *Server) DebugHandler(w http.ResponseWriter, r *http.Request) {
	c := s.Cfg
	writeJSON(w, http.StatusOK, map[string]any{
		"build":  buildinfo.Info(),
		"host":   buildinfo.Host(r.Context()),
		"time":   time.Now().UTC().Format(time.RFC3339),
		"config": c,
		"secrets": map[string]bool{
			"HAS_DATABASE_URL": c.DatabaseURL != "",
			"HAS_REDIS_URL":    c.RedisURL != "",
			"HAS_ADMIN_TOKEN":  c.AdminToken != "",
		},
	})
}
