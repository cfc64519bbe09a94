package store

import (
	"context"
	"errors"
	"time"

	"cvrptw/internal/model"
	"cvrptw/internal/opt"
	"cvrptw/internal/vrp"
)

// Store is the persistence interface used by the API server and run workers.
type Store interface {
	// Instances
	CreateInstance(ctx context.Context, inst *vrp.Instance) (model.InstanceSummary, error)
	GetInstance(ctx context.Context, id string) (*vrp.Instance, model.InstanceSummary, error)

	// Runs
	CreateRun(ctx context.Context, instanceID string, cfg opt.Config) (model.Run, error)
	GetRun(ctx context.Context, id string) (model.Run, error)
	ListRuns(ctx context.Context, status, cursor string, limit int) ([]model.Run, string, error)
	StartRun(ctx context.Context, id string) error
	AddRunStage(ctx context.Context, id string, st opt.StageReport) error
	// FinishRun marks the run succeeded when runErr is nil and failed otherwise.
	FinishRun(ctx context.Context, id string, rep *opt.Report, runErr error) (model.Run, error)

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error)
	DeleteSubscription(ctx context.Context, id string) error

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]model.Delivery, string, error)
	RetryWebhookDelivery(ctx context.Context, id string) error
}

var ErrNotFound = errors.New("not found")

const defaultLimit = 100

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultLimit
	}
	return limit
}
