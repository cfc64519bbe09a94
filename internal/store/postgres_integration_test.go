//go:build postgres_integration

package store

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvrptw/internal/model"
	"cvrptw/internal/opt"
)

func TestPostgresRoundTrip(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	ctx := context.Background()
	p, err := NewPostgres(dsn)
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, p.Ping(ctx))
	require.NoError(t, p.Migrate(ctx))
	require.NoError(t, p.Migrate(ctx), "migrations are applied once")

	inst := testInstance(t)
	sum, err := p.CreateInstance(ctx, inst)
	require.NoError(t, err)
	got, gotSum, err := p.GetInstance(ctx, sum.ID)
	require.NoError(t, err)
	assert.Equal(t, inst.Customers(), got.Customers())
	assert.Equal(t, sum.Name, gotSum.Name)

	run, err := p.CreateRun(ctx, sum.ID, opt.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, p.StartRun(ctx, run.ID))
	require.NoError(t, p.AddRunStage(ctx, run.ID, opt.StageReport{Stage: opt.StageConstruct, Cost: 90}))
	done, err := p.FinishRun(ctx, run.ID, &opt.Report{Cost: 80, Routes: [][]int{{1, 2}}}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.RunSucceeded, done.Status)
	require.Len(t, done.Stages, 1)
	assert.Equal(t, 80, done.Report.Cost)

	_, err = p.GetRun(ctx, "not-a-uuid")
	assert.True(t, errors.Is(err, ErrNotFound))

	sub, err := p.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://example.invalid/hook", Events: []string{model.EventRunCompleted}})
	require.NoError(t, err)
	subs, err := p.GetSubscriptionsForEvent(ctx, model.EventRunCompleted)
	require.NoError(t, err)
	assert.NotEmpty(t, subs)

	id1, err := p.EnqueueWebhook(ctx, sub.ID, model.EventRunCompleted, sub.URL, "", []byte(`{"id":"evt_`+run.ID+`"}`))
	require.NoError(t, err)
	id2, err := p.EnqueueWebhook(ctx, sub.ID, model.EventRunCompleted, sub.URL, "", []byte(`{"id":"evt_`+run.ID+`"}`))
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	require.NoError(t, p.DeleteSubscription(ctx, sub.ID))
}
