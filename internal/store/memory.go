package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"cvrptw/internal/model"
	"cvrptw/internal/opt"
	"cvrptw/internal/vrp"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu        sync.Mutex
	instances map[string]memInstance
	runs      map[string]*model.Run
	runOrder  []string
	subs      []model.Subscription
	// Webhooks queue state
	deliveries map[string]*memDelivery
	delOrder   []string
	dedup      map[string]string // event|url|key -> delivery id
}

type memInstance struct {
	inst    *vrp.Instance
	summary model.InstanceSummary
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	DeliveredAt   *time.Time
}

func NewMemory() *Memory {
	return &Memory{
		instances:  map[string]memInstance{},
		runs:       map[string]*model.Run{},
		deliveries: map[string]*memDelivery{},
		dedup:      map[string]string{},
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func summarize(id string, inst *vrp.Instance, created time.Time) model.InstanceSummary {
	return model.InstanceSummary{
		ID:          id,
		Name:        inst.Name(),
		Vehicles:    inst.Vehicles(),
		Capacity:    inst.Capacity(),
		Customers:   inst.Size() - 1,
		MinVehicles: inst.MinVehicles(),
		CreatedAt:   created,
	}
}

func (m *Memory) CreateInstance(ctx context.Context, inst *vrp.Instance) (model.InstanceSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	sum := summarize(id, inst, time.Now().UTC())
	m.instances[id] = memInstance{inst: inst, summary: sum}
	return sum, nil
}

func (m *Memory) GetInstance(ctx context.Context, id string) (*vrp.Instance, model.InstanceSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.instances[id]
	if !ok {
		return nil, model.InstanceSummary{}, fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	return in.inst, in.summary, nil
}

func (m *Memory) CreateRun(ctx context.Context, instanceID string, cfg opt.Config) (model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.instances[instanceID]; !ok {
		return model.Run{}, fmt.Errorf("instance %s: %w", instanceID, ErrNotFound)
	}
	r := &model.Run{
		ID:         uuid.New().String(),
		InstanceID: instanceID,
		Status:     model.RunQueued,
		Config:     cfg,
		Stages:     []opt.StageReport{},
		CreatedAt:  time.Now().UTC(),
	}
	m.runs[r.ID] = r
	m.runOrder = append(m.runOrder, r.ID)
	return copyRun(r), nil
}

func copyRun(r *model.Run) model.Run {
	out := *r
	out.Stages = slices.Clone(r.Stages)
	return out
}

func (m *Memory) GetRun(ctx context.Context, id string) (model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return model.Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return copyRun(r), nil
}

func (m *Memory) ListRuns(ctx context.Context, status, cursor string, limit int) ([]model.Run, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	start := 0
	if cursor != "" {
		if i := slices.Index(m.runOrder, cursor); i >= 0 {
			start = i + 1
		}
	}
	out := []model.Run{}
	next := ""
	for _, id := range m.runOrder[start:] {
		r := m.runs[id]
		if status != "" && r.Status != status {
			continue
		}
		if len(out) == limit {
			next = out[len(out)-1].ID
			break
		}
		out = append(out, copyRun(r))
	}
	return out, next, nil
}

func (m *Memory) StartRun(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	now := time.Now().UTC()
	r.Status = model.RunRunning
	r.StartedAt = &now
	return nil
}

func (m *Memory) AddRunStage(ctx context.Context, id string, st opt.StageReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	r.Stages = append(r.Stages, st)
	return nil
}

func (m *Memory) FinishRun(ctx context.Context, id string, rep *opt.Report, runErr error) (model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return model.Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	now := time.Now().UTC()
	r.FinishedAt = &now
	r.Report = rep
	if runErr != nil {
		r.Status = model.RunFailed
		r.Error = runErr.Error()
	} else {
		r.Status = model.RunSucceeded
	}
	return copyRun(r), nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: slices.Clone(req.Events), Secret: req.Secret, CreatedAt: time.Now().UTC()}
	m.subs = append(m.subs, s)
	return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs {
		if slices.Contains(s.Events, eventType) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	start := 0
	if cursor != "" {
		for i := range m.subs {
			if m.subs[i].ID == cursor {
				start = i + 1
				break
			}
		}
	}
	end := min(start+limit, len(m.subs))
	items := slices.Clone(m.subs[start:end])
	if items == nil {
		items = []model.Subscription{}
	}
	next := ""
	if end < len(m.subs) {
		next = m.subs[end-1].ID
	}
	return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := slices.IndexFunc(m.subs, func(s model.Subscription) bool { return s.ID == id })
	if i < 0 {
		return fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	m.subs = slices.Delete(m.subs, i, i+1)
	return nil
}

// EnqueueWebhook drops a payload already queued for the same event and URL
// and returns the id of the existing delivery.
func (m *Memory) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := eventType + "|" + url + "|" + computeDedupKey(payload)
	if id, ok := m.dedup[key]; ok {
		return id, nil
	}
	id := uuid.New().String()
	m.deliveries[id] = &memDelivery{
		WebhookDelivery: WebhookDelivery{ID: id, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: DeliveryPending},
		NextAttemptAt:   time.Now(),
	}
	m.delOrder = append(m.delOrder, id)
	m.dedup[key] = id
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.delOrder {
		d := m.deliveries[id]
		if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttemptAt.After(now) {
			out = append(out, d.WebhookDelivery)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return fmt.Errorf("delivery %s: %w", id, ErrNotFound)
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = DeliveryDelivered
		now := time.Now()
		d.DeliveredAt = &now
		return nil
	}
	d.Status = DeliveryRetry
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = time.Now().Add(time.Minute)
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return fmt.Errorf("delivery %s: %w", id, ErrNotFound)
	}
	d.Attempts++
	d.Status = DeliveryFailed
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]model.Delivery, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	start := 0
	if cursor != "" {
		if i := slices.Index(m.delOrder, cursor); i >= 0 {
			start = i + 1
		}
	}
	out := []model.Delivery{}
	next := ""
	for _, id := range m.delOrder[start:] {
		d := m.deliveries[id]
		if status != "" && d.Status != status {
			continue
		}
		if len(out) == limit {
			next = out[len(out)-1].ID
			break
		}
		item := model.Delivery{
			ID: d.ID, SubscriptionID: d.SubscriptionID, EventType: d.EventType, URL: d.URL, Status: d.Status,
			Attempts: d.Attempts, LastError: d.LastError, ResponseCode: d.ResponseCode, LatencyMs: d.LatencyMs,
		}
		if d.Status == DeliveryPending || d.Status == DeliveryRetry {
			at := d.NextAttemptAt
			item.NextAttemptAt = &at
		}
		out = append(out, item)
	}
	return out, next, nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return fmt.Errorf("delivery %s: %w", id, ErrNotFound)
	}
	d.Status = DeliveryPending
	d.NextAttemptAt = time.Now()
	return nil
}
