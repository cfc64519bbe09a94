// Package config loads service settings from an optional YAML file, a .env
// file and the process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"cvrptw/internal/opt"
	"cvrptw/internal/solver"
)

type Log struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

type Solver struct {
	Backend string `yaml:"backend" json:"backend"`
	// Path is the OPB solver binary used by the exec backend.
	Path string `yaml:"path" json:"path,omitempty"`
}

type Config struct {
	Port               string     `yaml:"port" json:"port"`
	DatabaseURL        string     `yaml:"database_url" json:"-"`
	DBMigrate          bool       `yaml:"db_migrate" json:"dbMigrate"`
	RedisURL           string     `yaml:"redis_url" json:"-"`
	RateRPS            float64    `yaml:"rate_rps" json:"rateRps"`
	RateBurst          int        `yaml:"rate_burst" json:"rateBurst"`
	RunWorkers         int        `yaml:"run_workers" json:"runWorkers"`
	RunQueue           int        `yaml:"run_queue" json:"runQueue"`
	WebhookMaxAttempts int        `yaml:"webhook_max_attempts" json:"webhookMaxAttempts"`
	AdminToken         string     `yaml:"admin_token" json:"-"`
	Log                Log        `yaml:"log" json:"log"`
	Solver             Solver     `yaml:"solver" json:"solver"`
	Pipeline           opt.Config `yaml:"pipeline" json:"pipeline"`
}

func Default() Config {
	return Config{
		Port:               "8080",
		DBMigrate:          true,
		RateRPS:            2,
		RateBurst:          5,
		RunWorkers:         2,
		RunQueue:           64,
		WebhookMaxAttempts: 10,
		Log:                Log{Level: "info", Format: "text"},
		Solver:             Solver{Backend: solver.BackendGophersat},
		Pipeline:           opt.DefaultConfig(),
	}
}

// Load reads .env from the working directory when present, then the YAML
// file at path (skipped when path is empty), then environment overrides.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("PORT", &c.Port)
	str("DATABASE_URL", &c.DatabaseURL)
	str("REDIS_URL", &c.RedisURL)
	str("ADMIN_TOKEN", &c.AdminToken)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("SOLVER_BACKEND", &c.Solver.Backend)
	str("SOLVER_PATH", &c.Solver.Path)
	num("RATE_BURST", &c.RateBurst)
	num("RUN_WORKERS", &c.RunWorkers)
	num("WEBHOOK_MAX_ATTEMPTS", &c.WebhookMaxAttempts)

	if v, ok := lookup("DB_MIGRATE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("DB_MIGRATE: %w", err))
		} else {
			c.DBMigrate = b
		}
	}
	if v, ok := lookup("RATE_RPS"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_RPS: %w", err))
		} else {
			c.RateRPS = f
		}
	}
	// SOLVER_TIME_BUDGET takes whole seconds or a duration such as "90s".
	if v, ok := lookup("SOLVER_TIME_BUDGET"); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pipeline.BudgetSeconds = n
		} else if d, err := time.ParseDuration(v); err == nil {
			c.Pipeline.BudgetSeconds = int(d.Round(time.Second) / time.Second)
		} else {
			errs = append(errs, fmt.Errorf("SOLVER_TIME_BUDGET: %q is neither seconds nor a duration", v))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func (c Config) Validate() error {
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("config: pipeline: %w", err)
	}
	if c.Pipeline.BudgetSeconds <= 0 {
		return fmt.Errorf("config: solver time budget must be positive, got %ds", c.Pipeline.BudgetSeconds)
	}
	switch strings.ToLower(c.Solver.Backend) {
	case solver.BackendGophersat:
	case solver.BackendExec:
		if c.Solver.Path == "" {
			return errors.New("config: exec solver backend needs SOLVER_PATH")
		}
	default:
		return fmt.Errorf("config: unknown solver backend %q", c.Solver.Backend)
	}
	if c.RunWorkers <= 0 {
		return fmt.Errorf("config: run workers must be positive, got %d", c.RunWorkers)
	}
	if c.RunQueue <= 0 {
		return fmt.Errorf("config: run queue must be positive, got %d", c.RunQueue)
	}
	if c.RateRPS <= 0 || c.RateBurst <= 0 {
		return errors.New("config: rate_rps and rate_burst must be positive")
	}
	if c.WebhookMaxAttempts <= 0 {
		return fmt.Errorf("config: webhook max attempts must be positive, got %d", c.WebhookMaxAttempts)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: log format %q: want text or json", c.Log.Format)
	}
	return nil
}

// NewSolver builds the configured solver backend.
func (c Config) NewSolver() (solver.Solver, error) {
	return solver.New(c.Solver.Backend, c.Solver.Path)
}
