package api

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"cvrptw/internal/config"
	"cvrptw/internal/runner"
	"cvrptw/internal/store"
	"cvrptw/internal/webhooks"
)

type Server struct {
	Store   store.Store
	Runner  *runner.Runner
	Pub     *webhooks.Publisher
	Broker  EventBroker
	Cfg     config.Config
	Limiter *rate.Limiter
}

// NewServer wires the service from cfg. Without DATABASE_URL runs and
// instances live in memory; without REDIS_URL run events stay in process.
func NewServer(ctx context.Context, cfg config.Config) (*Server, error) {
	var s store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.DBMigrate {
			if err := sp.Migrate(ctx); err != nil {
				_ = sp.Close()
				return nil, err
			}
		}
		s = sp
	}

	var broker EventBroker = NewBroker()
	if cfg.RedisURL != "" {
		rb, err := NewRedisBroker(cfg.RedisURL)
		if err != nil {
			log.WithError(err).Warn("api: redis broker unavailable, using in-process broker")
		} else {
			broker = rb
		}
	}

	sv, err := cfg.NewSolver()
	if err != nil {
		return nil, err
	}
	pub := webhooks.NewPublisher(s)
	rn := runner.New(s, sv, cfg.Solver.Backend, cfg.RunWorkers, cfg.RunQueue)
	rn.Webhooks = pub
	rn.Events = broker

	return &Server{
		Store:   s,
		Runner:  rn,
		Pub:     pub,
		Broker:  broker,
		Cfg:     cfg,
		Limiter: rate.NewLimiter(rate.Limit(cfg.RateRPS), cfg.RateBurst),
	}, nil
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.Cfg.WebhookMaxAttempts)
}

// Close releases the store and broker connections.
func (s *Server) Close() error {
	var errs []error
	if c, ok := s.Broker.(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}
	if c, ok := s.Store.(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
