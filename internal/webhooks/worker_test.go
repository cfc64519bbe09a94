package webhooks

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvrptw/internal/model"
	"cvrptw/internal/store"
)

type recordStore struct {
	*store.Memory
	mu    sync.Mutex
	marks []markRec
	fails []string
}

type markRec struct {
	ID      string
	Success bool
	Code    int
	LastErr string
}

func (r *recordStore) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.marks = append(r.marks, markRec{ID: id, Success: success, Code: responseCode, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.MarkWebhookDelivery(ctx, id, success, nextAttemptAt, lastError, responseCode, latencyMs)
}

func (r *recordStore) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.fails = append(r.fails, id)
	r.mu.Unlock()
	return r.Memory.FailWebhookDelivery(ctx, id, lastError, responseCode, latencyMs)
}

func TestWorkerDeliversSigned(t *testing.T) {
	var gotSig, gotTS, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignature)
		gotTS = r.Header.Get(HeaderTimestamp)
		gotType = r.Header.Get(HeaderEventType)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := NewWorker(rs, 3)
	w.HTTP = srv.Client()
	_, err := rs.Memory.EnqueueWebhook(context.Background(), "", model.EventRunCompleted, srv.URL, "secret", []byte(`{"id":"evt1"}`))
	require.NoError(t, err)

	w.processOnce()

	assert.Equal(t, model.EventRunCompleted, gotType)
	ts, err := strconv.ParseInt(gotTS, 10, 64)
	require.NoError(t, err)
	assert.True(t, Verify("secret", ts, gotBody, gotSig, time.Minute))
	require.Len(t, rs.marks, 1)
	assert.True(t, rs.marks[0].Success)

	// nothing left to send
	w.processOnce()
	assert.Len(t, rs.marks, 1)
}

func TestWorkerRetriesThenFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := NewWorker(rs, 2)
	w.HTTP = srv.Client()
	id, err := rs.Memory.EnqueueWebhook(context.Background(), "", model.EventRunFailed, srv.URL, "", []byte(`{}`))
	require.NoError(t, err)

	w.processOnce()
	require.Len(t, rs.marks, 1)
	assert.False(t, rs.marks[0].Success)
	assert.Equal(t, 500, rs.marks[0].Code)
	assert.Equal(t, "status 500", rs.marks[0].LastErr)

	// skip the backoff
	require.NoError(t, rs.Memory.RetryWebhookDelivery(context.Background(), id))
	w.processOnce()
	assert.Equal(t, []string{id}, rs.fails)

	items, _, err := rs.Memory.ListWebhookDeliveries(context.Background(), store.DeliveryFailed, "", 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Attempts)
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, time.Second, nextBackoff(-1))
	assert.Equal(t, 8*time.Second, nextBackoff(3))
	assert.Equal(t, 1024*time.Second, nextBackoff(40))
}

func TestVerify(t *testing.T) {
	body := []byte(`{"id":"evt"}`)
	now := time.Now().Unix()
	sig := Sign("k", now, body)
	assert.True(t, Verify("k", now, body, sig, time.Minute))
	assert.False(t, Verify("other", now, body, sig, time.Minute))
	assert.False(t, Verify("k", now, []byte(`{}`), sig, time.Minute))
	assert.False(t, Verify("k", now-3600, body, Sign("k", now-3600, body), time.Minute))
	assert.True(t, Verify("k", now-3600, body, Sign("k", now-3600, body), 0))
	assert.False(t, Verify("k", now, body, "zz", 0))
}

func TestPublisherEmit(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	_, err := m.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://a", Events: []string{model.EventRunCompleted}})
	require.NoError(t, err)
	_, err = m.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://b", Events: []string{model.EventRunFailed}})
	require.NoError(t, err)

	p := NewPublisher(m)
	n, err := p.Emit(ctx, model.Event{ID: "evt_1", Type: model.EventRunCompleted, RunID: "r1", TS: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	due, err := m.FetchDueWebhookDeliveries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "http://a", due[0].URL)
	assert.Contains(t, string(due[0].Payload), `"runId":"r1"`)

	n, err = p.Emit(ctx, model.Event{ID: "evt_2", Type: model.EventStageCompleted})
	require.NoError(t, err)
	assert.Zero(t, n)
}
