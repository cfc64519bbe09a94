package webhooks

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"cvrptw/internal/model"
	"cvrptw/internal/store"
)

type Publisher struct {
	Store store.Store
}

func NewPublisher(s store.Store) *Publisher {
	return &Publisher{Store: s}
}

// Emit queues evt for every subscription to its type and returns how many
// deliveries were queued.
func (p *Publisher) Emit(ctx context.Context, evt model.Event) (int, error) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, evt.Type)
	if err != nil {
		return 0, fmt.Errorf("webhooks: subscriptions for %s: %w", evt.Type, err)
	}
	if len(subs) == 0 {
		return 0, nil
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return 0, fmt.Errorf("webhooks: encode %s: %w", evt.Type, err)
	}
	n := 0
	for _, s := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, s.ID, evt.Type, s.URL, s.Secret, body); err != nil {
			log.WithError(err).WithFields(log.Fields{"subscription": s.ID, "event": evt.Type}).Warn("webhooks: enqueue failed")
			continue
		}
		n++
	}
	return n, nil
}
