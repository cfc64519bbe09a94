package api

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvrptw/internal/model"
)

func receive(t *testing.T, ch chan model.Event) model.Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		require.True(t, ok, "channel closed")
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return model.Event{}
}

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("r1")
	other := b.Subscribe("r2")

	b.Publish(model.Event{ID: "e1", Type: model.EventStageCompleted, RunID: "r1", Data: map[string]any{"x": 1}})
	got := receive(t, ch)
	assert.Equal(t, "e1", got.ID)
	assert.Equal(t, 1, got.Data.(map[string]any)["x"])
	assert.Empty(t, other)

	b.Unsubscribe("r1", ch)
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
	// a second unsubscribe is a no-op
	b.Unsubscribe("r1", ch)
	b.Publish(model.Event{ID: "e2", RunID: "r1"})
	b.Unsubscribe("r2", other)
}

func TestBrokerDropsWhenFull(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("r1")
	defer b.Unsubscribe("r1", ch)
	for i := 0; i < cap(ch)+5; i++ {
		b.Publish(model.Event{RunID: "r1"})
	}
	assert.Len(t, ch, cap(ch))
}

func TestRedisBroker(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := NewRedisBroker("redis://" + mr.Addr())
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	ch := b.Subscribe("r1")
	b.Publish(model.Event{ID: "e1", Type: model.EventRunCompleted, RunID: "r1", Data: map[string]any{"cost": 60}})
	got := receive(t, ch)
	assert.Equal(t, "e1", got.ID)
	assert.Equal(t, model.EventRunCompleted, got.Type)
	// payloads come back as decoded JSON
	assert.Equal(t, 60.0, got.Data.(map[string]any)["cost"])

	b.Unsubscribe("r1", ch)
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisBrokerBadURL(t *testing.T) {
	_, err := NewRedisBroker("not-a-url")
	assert.Error(t, err)
}
