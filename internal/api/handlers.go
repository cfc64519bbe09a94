package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"cvrptw/internal/instance"
	"cvrptw/internal/model"
	"cvrptw/internal/opt"
	"cvrptw/internal/pbo"
	"cvrptw/internal/solver"
)

const maxInstanceBytes = 8 << 20

// CreateInstanceHandler handles POST /v1/instances. The body is either a
// JSON document or Solomon text, chosen by Content-Type.
func (s *Server) CreateInstanceHandler(w http.ResponseWriter, r *http.Request) {
	inst, err := instance.Decode(http.MaxBytesReader(w, r.Body, maxInstanceBytes), r.Header.Get("Content-Type"))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeProblem(w, http.StatusRequestEntityTooLarge, "Instance too large", err.Error(), r.URL.Path)
			return
		}
		writeProblem(w, http.StatusBadRequest, "Invalid instance", err.Error(), r.URL.Path)
		return
	}
	sum, err := s.Store.CreateInstance(r.Context(), inst)
	if err != nil {
		writeError(w, r, "Create instance failed", err)
		return
	}
	w.Header().Set("Location", "/v1/instances/"+sum.ID)
	writeJSON(w, http.StatusCreated, sum)
}

// InstanceHandler handles GET /v1/instances/{id}
func (s *Server) InstanceHandler(w http.ResponseWriter, r *http.Request) {
	inst, sum, err := s.Store.GetInstance(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, "Instance not found", err)
		return
	}
	writeJSON(w, http.StatusOK, model.InstanceOut{InstanceSummary: sum, Document: instance.FromInstance(inst)})
}

// CreateRunHandler handles POST /v1/runs. Submissions share one token
// bucket; callers over the rate get 429.
func (s *Server) CreateRunHandler(w http.ResponseWriter, r *http.Request) {
	if s.Limiter != nil {
		res := s.Limiter.Reserve()
		if d := res.Delay(); !res.OK() || d > 0 {
			res.Cancel()
			w.Header().Set("Retry-After", retryAfter(d))
			writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "run submission rate exceeded", r.URL.Path)
			return
		}
	}
	var req model.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if req.InstanceID == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid run request", "instanceId is required", r.URL.Path)
		return
	}
	cfg, err := runConfig(s.Cfg.Pipeline, req.Config)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid run request", err.Error(), r.URL.Path)
		return
	}
	run, err := s.Runner.Submit(r.Context(), req.InstanceID, cfg)
	if err != nil {
		writeError(w, r, "Submit run failed", err)
		return
	}
	w.Header().Set("Location", "/v1/runs/"+run.ID)
	writeJSON(w, http.StatusAccepted, run)
}

// RunsHandler handles GET /v1/runs?status=&cursor=&limit=
func (s *Server) RunsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := q.Get("status")
	if err := validateRunStatus(status); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid query", err.Error(), r.URL.Path)
		return
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid query", err.Error(), r.URL.Path)
		return
	}
	items, next, err := s.Store.ListRuns(r.Context(), status, q.Get("cursor"), limit)
	if err != nil {
		writeError(w, r, "List runs failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// RunHandler handles GET /v1/runs/{id}
func (s *Server) RunHandler(w http.ResponseWriter, r *http.Request) {
	run, err := s.Store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, "Run not found", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ConfigHandler returns the pipeline defaults runs are merged over.
func (s *Server) ConfigHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"defaults":     s.Cfg.Pipeline,
		"solver":       s.Cfg.Solver.Backend,
		"constructors": []string{opt.ConstructorCluster, opt.ConstructorSavings},
		"strategies":   []pbo.Strategy{pbo.MTZ, pbo.Induction},
		"backends":     []string{solver.BackendGophersat, solver.BackendExec},
	})
}

// SubscriptionsHandler handles POST and GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req model.SubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateSubscriptionRequest(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid subscription", err.Error(), r.URL.Path)
			return
		}
		sub, err := s.Store.CreateSubscription(r.Context(), req)
		if err != nil {
			writeError(w, r, "Create subscription failed", err)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		limit, err := parseLimit(r.URL.Query().Get("limit"))
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid query", err.Error(), r.URL.Path)
			return
		}
		items, next, err := s.Store.ListSubscriptions(r.Context(), r.URL.Query().Get("cursor"), limit)
		if err != nil {
			writeError(w, r, "List subscriptions failed", err)
			return
		}
		// secrets are write-only
		for i := range items {
			items[i].Secret = ""
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DeleteSubscription(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, "Delete subscription failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WebhookDeliveriesHandler handles GET /v1/admin/webhook-deliveries
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := q.Get("status")
	if err := validateDeliveryStatus(status); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid query", err.Error(), r.URL.Path)
		return
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid query", err.Error(), r.URL.Path)
		return
	}
	items, next, err := s.Store.ListWebhookDeliveries(r.Context(), status, q.Get("cursor"), limit)
	if err != nil {
		writeError(w, r, "List deliveries failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// WebhookDeliveryRetryHandler handles POST /v1/admin/webhook-deliveries/{id}/retry
func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.RetryWebhookDelivery(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, "Retry delivery failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": 1})
}

// StageMetricsHandler handles GET /v1/admin/stage-metrics?instance=name and
// returns the latest report of each stage keyed by "constructor/stage".
func (s *Server) StageMetricsHandler(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("instance")
	if name == "" {
		writeProblem(w, http.StatusBadRequest, "Missing instance", "instance query parameter is required", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"instance": name, "stages": opt.StageMetrics(name)})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler checks the store and broker connections when they can be
// pinged.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	type pinger interface{ Ping(ctx context.Context) error }
	for name, dep := range map[string]any{"store": s.Store, "broker": s.Broker} {
		pg, ok := dep.(pinger)
		if !ok {
			continue
		}
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		err := pg.Ping(ctx)
		cancel()
		if err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", name+": "+err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// retryAfter rounds d up to whole seconds, at least one.
func retryAfter(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
