package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvrptw/internal/model"
	"cvrptw/internal/opt"
	"cvrptw/internal/vrp"
)

func testInstance(t *testing.T) *vrp.Instance {
	t.Helper()
	cs := []vrp.Customer{{ID: 0, DueDate: 1000}}
	for i := 1; i <= 3; i++ {
		cs = append(cs, vrp.Customer{ID: i, Pos: vrp.Point{X: float64(10 * i)}, Demand: 2, DueDate: 1000, ServiceTime: 5})
	}
	inst, err := vrp.NewInstance("line3", 2, 10, cs)
	require.NoError(t, err)
	return inst
}

func TestMemoryInstances(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	inst := testInstance(t)
	sum, err := m.CreateInstance(ctx, inst)
	require.NoError(t, err)
	assert.Equal(t, "line3", sum.Name)
	assert.Equal(t, 3, sum.Customers)
	assert.Equal(t, 1, sum.MinVehicles)

	got, gotSum, err := m.GetInstance(ctx, sum.ID)
	require.NoError(t, err)
	assert.Same(t, inst, got)
	assert.Equal(t, sum, gotSum)

	_, _, err = m.GetInstance(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRunLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.CreateRun(ctx, "missing", opt.DefaultConfig())
	assert.ErrorIs(t, err, ErrNotFound)

	sum, err := m.CreateInstance(ctx, testInstance(t))
	require.NoError(t, err)
	run, err := m.CreateRun(ctx, sum.ID, opt.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, model.RunQueued, run.Status)
	assert.False(t, run.Done())

	require.NoError(t, m.StartRun(ctx, run.ID))
	require.NoError(t, m.AddRunStage(ctx, run.ID, opt.StageReport{Stage: opt.StageConstruct, Cost: 90}))
	mid, err := m.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunRunning, mid.Status)
	require.NotNil(t, mid.StartedAt)
	require.Len(t, mid.Stages, 1)

	// callers get copies
	mid.Stages[0].Cost = 1
	again, err := m.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 90, again.Stages[0].Cost)

	done, err := m.FinishRun(ctx, run.ID, nil, errors.New("refine: solver timed out"))
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, done.Status)
	assert.Equal(t, "refine: solver timed out", done.Error)
	assert.True(t, done.Done())

	assert.ErrorIs(t, m.StartRun(ctx, "missing"), ErrNotFound)
	assert.ErrorIs(t, m.AddRunStage(ctx, "missing", opt.StageReport{}), ErrNotFound)
}

func TestMemoryListRunsPaging(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	sum, err := m.CreateInstance(ctx, testInstance(t))
	require.NoError(t, err)
	var ids []string
	for i := 0; i < 5; i++ {
		r, err := m.CreateRun(ctx, sum.ID, opt.DefaultConfig())
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}
	_, err = m.FinishRun(ctx, ids[1], &opt.Report{Cost: 10}, nil)
	require.NoError(t, err)

	page, next, err := m.ListRuns(ctx, "", "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[1], next)

	page, next, err = m.ListRuns(ctx, "", next, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[2], ids[3]}, []string{page[0].ID, page[1].ID})

	page, next, err = m.ListRuns(ctx, "", next, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Empty(t, next)

	done, _, err := m.ListRuns(ctx, model.RunSucceeded, "", 0)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, ids[1], done[0].ID)
}

func TestMemorySubscriptions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a, err := m.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://a", Events: []string{model.EventRunCompleted}})
	require.NoError(t, err)
	_, err = m.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://b", Events: []string{model.EventRunFailed, model.EventRunCompleted}})
	require.NoError(t, err)

	subs, err := m.GetSubscriptionsForEvent(ctx, model.EventRunCompleted)
	require.NoError(t, err)
	assert.Len(t, subs, 2)
	subs, err = m.GetSubscriptionsForEvent(ctx, model.EventRunFailed)
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	page, next, err := m.ListSubscriptions(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, a.ID, next)

	require.NoError(t, m.DeleteSubscription(ctx, a.ID))
	assert.ErrorIs(t, m.DeleteSubscription(ctx, a.ID), ErrNotFound)
	subs, err = m.GetSubscriptionsForEvent(ctx, model.EventRunCompleted)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestMemoryWebhookQueue(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id, err := m.EnqueueWebhook(ctx, "sub", model.EventRunCompleted, "http://a", "s", []byte(`{"id":"evt_1"}`))
	require.NoError(t, err)
	dup, err := m.EnqueueWebhook(ctx, "sub", model.EventRunCompleted, "http://a", "s", []byte(`{"id":"evt_1"}`))
	require.NoError(t, err)
	assert.Equal(t, id, dup, "same event to the same url is queued once")

	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	later := time.Now().Add(time.Hour)
	require.NoError(t, m.MarkWebhookDelivery(ctx, id, false, &later, "500", 500, 12))
	due, err = m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	items, _, err := m.ListWebhookDeliveries(ctx, DeliveryRetry, "", 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Attempts)
	assert.Equal(t, 500, items[0].ResponseCode)
	require.NotNil(t, items[0].NextAttemptAt)

	require.NoError(t, m.RetryWebhookDelivery(ctx, id))
	due, err = m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)

	require.NoError(t, m.FailWebhookDelivery(ctx, id, "gone", 410, 3))
	items, _, err = m.ListWebhookDeliveries(ctx, DeliveryFailed, "", 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Nil(t, items[0].NextAttemptAt)

	assert.ErrorIs(t, m.RetryWebhookDelivery(ctx, "missing"), ErrNotFound)
}
