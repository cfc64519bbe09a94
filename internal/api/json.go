package api

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"cvrptw/internal/instance"
	"cvrptw/internal/runner"
	"cvrptw/internal/store"
	"cvrptw/internal/vrp"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeError maps err onto a problem status. Unexpected errors are logged
// and reported as 500.
func writeError(w http.ResponseWriter, r *http.Request, title string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, runner.ErrInvalidConfig),
		errors.Is(err, instance.ErrFormat),
		errors.Is(err, vrp.ErrInvalidInstance):
		status = http.StatusBadRequest
	case errors.Is(err, runner.ErrQueueFull):
		status = http.StatusServiceUnavailable
	default:
		log.WithError(err).WithFields(log.Fields{"method": r.Method, "path": r.URL.Path}).Error("api: " + title)
	}
	writeProblem(w, status, title, err.Error(), r.URL.Path)
}
