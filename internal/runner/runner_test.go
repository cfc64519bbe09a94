package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvrptw/internal/model"
	"cvrptw/internal/opt"
	"cvrptw/internal/solver"
	"cvrptw/internal/store"
	"cvrptw/internal/vrp"
	"cvrptw/internal/webhooks"
)

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Publish(evt model.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func lineInstance(t *testing.T) *vrp.Instance {
	t.Helper()
	cs := []vrp.Customer{{ID: 0, DueDate: 10000}}
	for i := 1; i <= 3; i++ {
		cs = append(cs, vrp.Customer{ID: i, Pos: vrp.Point{X: float64(10 * i)}, Demand: i, DueDate: 10000})
	}
	inst, err := vrp.NewInstance("line", 3, 100, cs)
	require.NoError(t, err)
	return inst
}

func newRunner(t *testing.T, queue int) (*Runner, *store.Memory, *recorder, string) {
	t.Helper()
	m := store.NewMemory()
	sum, err := m.CreateInstance(context.Background(), lineInstance(t))
	require.NoError(t, err)
	r := New(m, &solver.Gophersat{}, solver.BackendGophersat, 1, queue)
	rec := &recorder{}
	r.Events = rec
	r.Webhooks = webhooks.NewPublisher(m)
	return r, m, rec, sum.ID
}

func testConfig() opt.Config {
	seed := int64(1)
	cfg := opt.DefaultConfig()
	cfg.Seed = &seed
	cfg.K = 2
	cfg.BudgetSeconds = 30
	return cfg
}

func TestExecuteSucceeds(t *testing.T) {
	ctx := context.Background()
	r, m, rec, instID := newRunner(t, 4)
	_, err := m.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://hook", Events: []string{model.EventRunCompleted}})
	require.NoError(t, err)

	run, err := r.Submit(ctx, instID, testConfig())
	require.NoError(t, err)
	assert.Equal(t, model.RunQueued, run.Status)

	require.NoError(t, r.Execute(ctx, run.ID))
	got, err := m.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunSucceeded, got.Status)
	require.NotNil(t, got.Report)
	assert.Equal(t, 60, got.Report.Cost)
	require.Len(t, got.Report.Routes, 1)
	assert.ElementsMatch(t, []int{1, 2, 3}, got.Report.Routes[0])
	assert.Len(t, got.Stages, 4)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.FinishedAt)

	assert.Equal(t, []string{
		model.EventStageCompleted, model.EventStageCompleted, model.EventStageCompleted, model.EventStageCompleted,
		model.EventRunCompleted,
	}, rec.types())

	due, err := m.FetchDueWebhookDeliveries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, model.EventRunCompleted, due[0].EventType)
}

func TestExecuteReportsFailure(t *testing.T) {
	ctx := context.Background()
	r, m, rec, instID := newRunner(t, 4)
	cfg := testConfig()
	cfg.Vehicles = 9

	run, err := r.Submit(ctx, instID, cfg)
	require.NoError(t, err)
	assert.ErrorIs(t, r.Execute(ctx, run.ID), opt.ErrNoFeasibleVehicleCount)

	got, err := m.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, got.Status)
	assert.Contains(t, got.Error, "construct")
	assert.Nil(t, got.Report)
	assert.Equal(t, []string{model.EventRunFailed}, rec.types())
}

func TestSubmitValidates(t *testing.T) {
	ctx := context.Background()
	r, _, _, instID := newRunner(t, 4)
	cfg := testConfig()
	cfg.Strategy = "flow"
	_, err := r.Submit(ctx, instID, cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = r.Submit(ctx, "missing", testConfig())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSubmitQueueFull(t *testing.T) {
	ctx := context.Background()
	r, m, _, instID := newRunner(t, 1)
	_, err := r.Submit(ctx, instID, testConfig())
	require.NoError(t, err)
	run, err := r.Submit(ctx, instID, testConfig())
	assert.ErrorIs(t, err, ErrQueueFull)

	got, err := m.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, got.Status)
}

func TestRunWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r, m, _, instID := newRunner(t, 4)
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	run, err := r.Submit(ctx, instID, testConfig())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, err := m.GetRun(ctx, run.ID)
		return err == nil && got.Done()
	}, 30*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not stop")
	}
}

func TestResume(t *testing.T) {
	ctx := context.Background()
	r, m, _, instID := newRunner(t, 4)
	stale, err := m.CreateRun(ctx, instID, testConfig())
	require.NoError(t, err)
	require.NoError(t, m.StartRun(ctx, stale.ID))
	waiting, err := m.CreateRun(ctx, instID, testConfig())
	require.NoError(t, err)

	require.NoError(t, r.Resume(ctx))
	got, err := m.GetRun(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, got.Status)
	assert.Contains(t, got.Error, "restart")

	select {
	case id := <-r.queue:
		assert.Equal(t, waiting.ID, id)
	default:
		t.Fatal("queued run was not resumed")
	}
}
