package api

import (
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strconv"

	"cvrptw/internal/model"
	"cvrptw/internal/opt"
	"cvrptw/internal/store"
)

func validateSubscriptionRequest(req *model.SubscriptionRequest) error {
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) URL: %q", req.URL)
	}
	if len(req.Events) == 0 {
		return fmt.Errorf("events must not be empty (allowed: %v)", model.EventTypes)
	}
	for _, e := range req.Events {
		if !slices.Contains(model.EventTypes, e) {
			return fmt.Errorf("unknown event type: %s (allowed: %v)", e, model.EventTypes)
		}
	}
	return nil
}

// runConfig overlays the request config on defaults. Fields the request
// leaves out keep their default values.
func runConfig(defaults opt.Config, raw json.RawMessage) (opt.Config, error) {
	cfg := defaults
	if len(raw) == 0 || string(raw) == "null" {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return opt.Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func validateRunStatus(status string) error {
	switch status {
	case "", model.RunQueued, model.RunRunning, model.RunSucceeded, model.RunFailed:
		return nil
	}
	return fmt.Errorf("invalid status: %s", status)
}

func validateDeliveryStatus(status string) error {
	switch status {
	case "", store.DeliveryPending, store.DeliveryRetry, store.DeliveryDelivered, store.DeliveryFailed:
		return nil
	}
	return fmt.Errorf("invalid status: %s", status)
}

func parseLimit(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer: %q", v)
	}
	return n, nil
}
