package store

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"

	"cvrptw/internal/instance"
	"cvrptw/internal/model"
	"cvrptw/internal/opt"
	"cvrptw/internal/vrp"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// Migrate applies the embedded migrations that are not recorded in
// schema_migrations yet, in file name order.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (name text PRIMARY KEY, applied_at timestamptz NOT NULL DEFAULT now())`); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		var done bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name=$1)`, name).Scan(&done); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
		if done {
			continue
		}
		body, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migrate %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migrate %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
		log.WithField("migration", name).Info("store: applied migration")
	}
	return nil
}

// validID reports whether id can be compared against a uuid column. Other
// strings cannot name a row.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (p *Postgres) CreateInstance(ctx context.Context, inst *vrp.Instance) (model.InstanceSummary, error) {
	var buf bytes.Buffer
	if err := instance.Write(&buf, inst); err != nil {
		return model.InstanceSummary{}, err
	}
	sum := summarize(uuid.New().String(), inst, time.Now().UTC())
	_, err := p.db.ExecContext(ctx, `INSERT INTO instances (id, name, vehicles, capacity, customers, min_vehicles, solomon, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		sum.ID, sum.Name, sum.Vehicles, sum.Capacity, sum.Customers, sum.MinVehicles, buf.String(), sum.CreatedAt)
	if err != nil {
		return model.InstanceSummary{}, fmt.Errorf("create instance: %w", err)
	}
	return sum, nil
}

func (p *Postgres) GetInstance(ctx context.Context, id string) (*vrp.Instance, model.InstanceSummary, error) {
	if !validID(id) {
		return nil, model.InstanceSummary{}, fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	var text string
	var sum model.InstanceSummary
	err := p.db.QueryRowContext(ctx, `SELECT id::text, name, vehicles, capacity, customers, min_vehicles, solomon, created_at FROM instances WHERE id=$1`, id).
		Scan(&sum.ID, &sum.Name, &sum.Vehicles, &sum.Capacity, &sum.Customers, &sum.MinVehicles, &text, &sum.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.InstanceSummary{}, fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, model.InstanceSummary{}, fmt.Errorf("get instance: %w", err)
	}
	inst, err := instance.Parse(strings.NewReader(text))
	if err != nil {
		return nil, model.InstanceSummary{}, fmt.Errorf("instance %s: stored text: %w", id, err)
	}
	return inst, sum, nil
}

func (p *Postgres) CreateRun(ctx context.Context, instanceID string, cfg opt.Config) (model.Run, error) {
	if !validID(instanceID) {
		return model.Run{}, fmt.Errorf("instance %s: %w", instanceID, ErrNotFound)
	}
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM instances WHERE id=$1)`, instanceID).Scan(&exists); err != nil {
		return model.Run{}, fmt.Errorf("create run: %w", err)
	}
	if !exists {
		return model.Run{}, fmt.Errorf("instance %s: %w", instanceID, ErrNotFound)
	}
	r := model.Run{ID: uuid.New().String(), InstanceID: instanceID, Status: model.RunQueued, Config: cfg, Stages: []opt.StageReport{}, CreatedAt: time.Now().UTC()}
	cb, err := json.Marshal(cfg)
	if err != nil {
		return model.Run{}, err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO runs (id, instance_id, status, config, created_at) VALUES ($1,$2,$3,$4,$5)`,
		r.ID, instanceID, r.Status, string(cb), r.CreatedAt)
	if err != nil {
		return model.Run{}, fmt.Errorf("create run: %w", err)
	}
	return r, nil
}

const runColumns = `id::text, instance_id::text, status, config, stages, report, COALESCE(error,''), created_at, started_at, finished_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanRun(row rowScanner) (model.Run, error) {
	var r model.Run
	var cfg, stages, report []byte
	var started, finished sql.NullTime
	if err := row.Scan(&r.ID, &r.InstanceID, &r.Status, &cfg, &stages, &report, &r.Error, &r.CreatedAt, &started, &finished); err != nil {
		return r, err
	}
	if err := json.Unmarshal(cfg, &r.Config); err != nil {
		return r, fmt.Errorf("run %s config: %w", r.ID, err)
	}
	if err := json.Unmarshal(stages, &r.Stages); err != nil {
		return r, fmt.Errorf("run %s stages: %w", r.ID, err)
	}
	if len(report) > 0 {
		r.Report = &opt.Report{}
		if err := json.Unmarshal(report, r.Report); err != nil {
			return r, fmt.Errorf("run %s report: %w", r.ID, err)
		}
	}
	if started.Valid {
		r.StartedAt = &started.Time
	}
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return r, nil
}

func (p *Postgres) GetRun(ctx context.Context, id string) (model.Run, error) {
	if !validID(id) {
		return model.Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	r, err := scanRun(p.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return r, err
}

func (p *Postgres) ListRuns(ctx context.Context, status, cursor string, limit int) ([]model.Run, string, error) {
	limit = clampLimit(limit)
	q := `SELECT ` + runColumns + ` FROM runs WHERE ($1 = '' OR status = $1) AND ($2 = '' OR id::text > $2) ORDER BY id LIMIT $3`
	rows, err := p.db.QueryContext(ctx, q, status, cursor, limit)
	if err != nil {
		return nil, "", fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	out := []model.Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (p *Postgres) execRun(ctx context.Context, id, q string, args ...any) error {
	if !validID(id) {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	res, err := p.db.ExecContext(ctx, q, append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) StartRun(ctx context.Context, id string) error {
	return p.execRun(ctx, id, `UPDATE runs SET status=$2, started_at=now() WHERE id=$1`, model.RunRunning)
}

func (p *Postgres) AddRunStage(ctx context.Context, id string, st opt.StageReport) error {
	b, err := json.Marshal([]opt.StageReport{st})
	if err != nil {
		return err
	}
	return p.execRun(ctx, id, `UPDATE runs SET stages = stages || $2::jsonb WHERE id=$1`, string(b))
}

func (p *Postgres) FinishRun(ctx context.Context, id string, rep *opt.Report, runErr error) (model.Run, error) {
	status, msg := model.RunSucceeded, ""
	if runErr != nil {
		status, msg = model.RunFailed, runErr.Error()
	}
	var report any
	if rep != nil {
		b, err := json.Marshal(rep)
		if err != nil {
			return model.Run{}, err
		}
		report = string(b)
	}
	if err := p.execRun(ctx, id, `UPDATE runs SET status=$2, report=$3::jsonb, error=$4, finished_at=now() WHERE id=$1`, status, report, nullIfEmpty(msg)); err != nil {
		return model.Run{}, err
	}
	return p.GetRun(ctx, id)
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	s := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: req.Events, Secret: req.Secret, CreatedAt: time.Now().UTC()}
	ev, _ := json.Marshal(req.Events)
	_, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, url, events, secret, created_at) VALUES ($1,$2,$3,$4,$5)`,
		s.ID, s.URL, string(ev), nullIfEmpty(s.Secret), s.CreatedAt)
	if err != nil {
		return model.Subscription{}, fmt.Errorf("create subscription: %w", err)
	}
	return s, nil
}

func scanSubscriptions(rows *sql.Rows) ([]model.Subscription, error) {
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var ev []byte
		if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev, &s.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(ev, &s.Events); err != nil {
			return nil, fmt.Errorf("subscription %s events: %w", s.ID, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	want, _ := json.Marshal([]string{eventType})
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events, created_at FROM subscriptions WHERE events @> $1::jsonb`, string(want))
	if err != nil {
		return nil, fmt.Errorf("subscriptions for %s: %w", eventType, err)
	}
	return scanSubscriptions(rows)
}

func (p *Postgres) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
	limit = clampLimit(limit)
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events, created_at FROM subscriptions WHERE ($1 = '' OR id::text > $1) ORDER BY id LIMIT $2`, cursor, limit)
	if err != nil {
		return nil, "", fmt.Errorf("list subscriptions: %w", err)
	}
	out, err := scanSubscriptions(rows)
	if err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
	if !validID(id) {
		return fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	dk := computeDedupKey(payload)
	var got string
	err := p.db.QueryRowContext(ctx, `INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,0,now(),$8)
        ON CONFLICT (event_type, url, dedup_key) DO UPDATE SET updated_at = webhook_deliveries.updated_at
        RETURNING id::text`, id, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), string(payload), DeliveryPending, dk).Scan(&got)
	if err != nil {
		return "", fmt.Errorf("enqueue webhook: %w", err)
	}
	return got, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ($1,$2) AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $3`, DeliveryPending, DeliveryRetry, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch deliveries: %w", err)
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if success {
		_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status=$2, delivered_at=now(), updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`,
			id, DeliveryDelivered, responseCode, latencyMs)
		return err
	}
	if nextAttemptAt == nil {
		t := time.Now().Add(time.Minute)
		nextAttemptAt = &t
	}
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status=$2, last_error=$3, next_attempt_at=$4, updated_at=now(), response_code=$5, latency_ms=$6 WHERE id=$1`,
		id, DeliveryRetry, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status=$2, last_error=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
		id, DeliveryFailed, nullIfEmpty(lastError), responseCode, latencyMs)
	return err
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]model.Delivery, string, error) {
	limit = clampLimit(limit)
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, COALESCE(subscription_id::text,''), event_type, url, status, attempts, next_attempt_at, COALESCE(last_error,''), COALESCE(response_code,0), COALESCE(latency_ms,0)
        FROM webhook_deliveries WHERE ($1 = '' OR status = $1) AND ($2 = '' OR id::text > $2) ORDER BY id LIMIT $3`, status, cursor, limit)
	if err != nil {
		return nil, "", fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()
	out := []model.Delivery{}
	for rows.Next() {
		var d model.Delivery
		var nextAt time.Time
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Status, &d.Attempts, &nextAt, &d.LastError, &d.ResponseCode, &d.LatencyMs); err != nil {
			return nil, "", err
		}
		if d.Status == DeliveryPending || d.Status == DeliveryRetry {
			d.NextAttemptAt = &nextAt
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, id string) error {
	if !validID(id) {
		return fmt.Errorf("delivery %s: %w", id, ErrNotFound)
	}
	res, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status=$2, next_attempt_at=now(), updated_at=now() WHERE id=$1`, id, DeliveryPending)
	if err != nil {
		return fmt.Errorf("retry delivery: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delivery %s: %w", id, ErrNotFound)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
