// Package config loads taskgraph settings from a YAML file and TASKGRAPH_
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/petrijr/taskgraph/pkg/api"
)

// Config holds the configuration for the engine, its store and the servers
// wrapped around it.
type Config struct {
	Engine struct {
		MaxInFlight     int           `mapstructure:"max_in_flight"`
		ApprovalTimeout time.Duration `mapstructure:"approval_timeout"`
		PollInterval    time.Duration `mapstructure:"poll_interval"`
		Backoff         struct {
			Base       time.Duration `mapstructure:"base"`
			Max        time.Duration `mapstructure:"max"`
			Multiplier float64       `mapstructure:"multiplier"`
			Jitter     float64       `mapstructure:"jitter"`
		} `mapstructure:"backoff"`
	} `mapstructure:"engine"`

	Store struct {
		// Driver is one of memory, sqlite, postgres, redis, mongo.
		Driver string `mapstructure:"driver"`
		// DSN is a file name or DSN for sqlite, a pgx DSN for postgres, an
		// address or redis:// URL for redis and a mongodb:// URI for mongo.
		DSN string `mapstructure:"dsn"`
		// Prefix namespaces Redis keys.
		Prefix string `mapstructure:"prefix"`
		// Database names the MongoDB database.
		Database string `mapstructure:"database"`
	} `mapstructure:"store"`

	Worker struct {
		Count       int           `mapstructure:"count"`
		MaxAttempts int           `mapstructure:"max_attempts"`
		Backoff     time.Duration `mapstructure:"backoff"`
	} `mapstructure:"worker"`

	HTTP struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"http"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// Drivers lists the supported store drivers.
var Drivers = []string{"memory", "sqlite", "postgres", "redis", "mongo"}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.max_in_flight", 4)
	v.SetDefault("engine.approval_timeout", api.DefaultApprovalTimeout)
	v.SetDefault("engine.poll_interval", 250*time.Millisecond)
	v.SetDefault("engine.backoff.base", api.DefaultBackoff.Base.Std())
	v.SetDefault("engine.backoff.max", api.DefaultBackoff.Max.Std())
	v.SetDefault("engine.backoff.multiplier", api.DefaultBackoff.Multiplier)
	v.SetDefault("engine.backoff.jitter", api.DefaultBackoff.Jitter)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.prefix", "taskgraph:")
	v.SetDefault("store.database", "taskgraph")

	v.SetDefault("worker.count", 2)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.backoff", time.Second)

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration. With an empty path it looks for taskgraph.yaml
// in . and ./config and carries on with defaults when there is none.
// Environment variables such as TASKGRAPH_STORE_DRIVER override the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TASKGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("taskgraph")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	known := false
	for _, d := range Drivers {
		if c.Store.Driver == d {
			known = true
			break
		}
	}
	switch {
	case !known:
		return fmt.Errorf("config: unknown store driver %q (want one of %s)", c.Store.Driver, strings.Join(Drivers, ", "))
	case c.Store.Driver != "memory" && c.Store.DSN == "":
		return fmt.Errorf("config: store.dsn is required for driver %q", c.Store.Driver)
	case c.Engine.MaxInFlight < 0:
		return errors.New("config: engine.max_in_flight must not be negative")
	case c.Worker.Count < 0:
		return errors.New("config: worker.count must not be negative")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log.format %q", c.Log.Format)
	}
	return nil
}

// Backoff returns the engine backoff as a policy.
func (c *Config) Backoff() api.BackoffPolicy {
	b := c.Engine.Backoff
	return api.BackoffPolicy{
		Base:       api.Duration(b.Base),
		Max:        api.Duration(b.Max),
		Multiplier: b.Multiplier,
		Jitter:     b.Jitter,
	}
}

// NewLogger builds a slog logger writing to w per the log section.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: log.level: %w", err)
	}
	return level, nil
}
