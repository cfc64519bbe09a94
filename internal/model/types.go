package model

import (
	"encoding/json"
	"time"

	"cvrptw/internal/instance"
	"cvrptw/internal/opt"
)

// Run statuses.
const (
	RunQueued    = "queued"
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Event types published on the run broker and as webhooks.
const (
	EventStageCompleted = "run.stage.completed"
	EventRunCompleted   = "run.completed"
	EventRunFailed      = "run.failed"
)

// EventTypes lists the event types a subscription may ask for.
var EventTypes = []string{EventStageCompleted, EventRunCompleted, EventRunFailed}

type InstanceSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Vehicles    int       `json:"vehicles"`
	Capacity    int       `json:"capacity"`
	Customers   int       `json:"customers"`
	MinVehicles int       `json:"minVehicles"`
	CreatedAt   time.Time `json:"createdAt"`
}

type InstanceOut struct {
	InstanceSummary
	Document instance.Document `json:"document"`
}

// RunRequest submits a pipeline run. Config is merged over the server
// defaults, so it only needs the fields that differ.
type RunRequest struct {
	InstanceID string          `json:"instanceId"`
	Config     json.RawMessage `json:"config,omitempty"`
}

type Run struct {
	ID         string            `json:"id"`
	InstanceID string            `json:"instanceId"`
	Status     string            `json:"status"`
	Config     opt.Config        `json:"config"`
	Stages     []opt.StageReport `json:"stages"`
	Report     *opt.Report       `json:"report,omitempty"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	StartedAt  *time.Time        `json:"startedAt,omitempty"`
	FinishedAt *time.Time        `json:"finishedAt,omitempty"`
}

// Done reports whether the run reached a final status.
func (r Run) Done() bool { return r.Status == RunSucceeded || r.Status == RunFailed }

type SubscriptionRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

type Subscription struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Secret    string    `json:"secret,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Delivery is the admin view of a queued webhook.
type Delivery struct {
	ID             string     `json:"id"`
	SubscriptionID string     `json:"subscriptionId,omitempty"`
	EventType      string     `json:"eventType"`
	URL            string     `json:"url"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	NextAttemptAt  *time.Time `json:"nextAttemptAt,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
	ResponseCode   int        `json:"responseCode,omitempty"`
	LatencyMs      int        `json:"latencyMs,omitempty"`
}

// Event is the envelope of run events on the broker and in webhook bodies.
type Event struct {
	ID    string    `json:"id"`
	Type  string    `json:"type"`
	RunID string    `json:"runId"`
	TS    time.Time `json:"ts"`
	Data  any       `json:"data"`
}
