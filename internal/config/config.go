// Package config loads scheduler settings.
// Priority: environment variables > YAML file > defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petrijr/flowtick/pkg/worker"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "FLOWTICK_CONFIG"

// Drivers lists the supported store drivers.
var Drivers = []string{"memory", "sqlite", "postgres", "redis", "mongo"}

// Config holds all flowtick settings.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Log       LogConfig       `yaml:"log"`
}

type StoreConfig struct {
	// Driver is one of Drivers.
	Driver string `yaml:"driver"`
	// DSN is a database/sql DSN for sqlite and postgres, an address or
	// redis:// URL for redis and a mongodb:// URI for mongo.
	DSN string `yaml:"dsn"`
	// Database is the MongoDB database name.
	Database string `yaml:"database"`
	// Prefix namespaces Redis keys.
	Prefix string `yaml:"prefix"`
}

type SchedulerConfig struct {
	BatchSize   int           `yaml:"batch_size"`
	Lease       time.Duration `yaml:"lease"`
	Schedule    string        `yaml:"schedule"`
	Concurrency int           `yaml:"concurrency"`
	OwnerID     string        `yaml:"owner_id"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Driver:   "memory",
			Database: "flowtick",
			Prefix:   "flowtick:",
		},
		Scheduler: SchedulerConfig{
			BatchSize:   worker.DefaultBatchSize,
			Lease:       worker.DefaultLease,
			Schedule:    worker.DefaultSchedule,
			Concurrency: 1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the configuration from path, or from the file named by
// FLOWTICK_CONFIG when path is empty, then applies FLOWTICK_* environment
// overrides and validates the result. A missing file is an error only when
// its path was given explicitly.
func Load(path string) (Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = getenv(EnvConfigPath)
		explicit = path != ""
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	strs := map[string]*string{
		"FLOWTICK_STORE_DRIVER":   &cfg.Store.Driver,
		"FLOWTICK_STORE_DSN":      &cfg.Store.DSN,
		"FLOWTICK_STORE_DATABASE": &cfg.Store.Database,
		"FLOWTICK_STORE_PREFIX":   &cfg.Store.Prefix,
		"FLOWTICK_SCHEDULE":       &cfg.Scheduler.Schedule,
		"FLOWTICK_OWNER_ID":       &cfg.Scheduler.OwnerID,
		"FLOWTICK_LOG_LEVEL":      &cfg.Log.Level,
		"FLOWTICK_LOG_FORMAT":     &cfg.Log.Format,
	}
	for key, dst := range strs {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"FLOWTICK_BATCH_SIZE":  &cfg.Scheduler.BatchSize,
		"FLOWTICK_CONCURRENCY": &cfg.Scheduler.Concurrency,
	}
	for key, dst := range ints {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	if v := getenv("FLOWTICK_LEASE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("FLOWTICK_LEASE: %w", err)
		}
		cfg.Scheduler.Lease = d
	}
	return nil
}

// Validate reports every invalid setting in c.
func (c Config) Validate() error {
	var errs []error

	if !slices.Contains(Drivers, c.Store.Driver) {
		errs = append(errs, fmt.Errorf("store.driver %q is not one of %s", c.Store.Driver, strings.Join(Drivers, ", ")))
	} else if c.Store.Driver != "memory" && c.Store.DSN == "" {
		errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver))
	}
	if c.Scheduler.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.batch_size must be positive, got %d", c.Scheduler.BatchSize))
	}
	if c.Scheduler.Lease <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.lease must be positive, got %s", c.Scheduler.Lease))
	}
	if c.Scheduler.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("scheduler.concurrency must not be negative, got %d", c.Scheduler.Concurrency))
	}
	if _, err := worker.ParseSchedule(c.Scheduler.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.schedule: %w", err))
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}

	return errors.Join(errs...)
}

// WorkerConfig returns the worker settings carried by c.
func (c Config) WorkerConfig(logger *slog.Logger) worker.Config {
	return worker.Config{
		BatchSize: c.Scheduler.BatchSize,
		Lease:     c.Scheduler.Lease,
		Schedule:  c.Scheduler.Schedule,
		Logger:    logger,
	}
}
