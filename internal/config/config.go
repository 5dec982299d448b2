package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. GLUCOALERT_NATS_URL
const EnvPrefix = "GLUCOALERT"

// Config holds all application configuration
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Debounce    DebounceConfig    `mapstructure:"debounce"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	History     HistoryConfig     `mapstructure:"history"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	DeviceAge   DeviceAgeConfig   `mapstructure:"deviceage"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Seed        SeedConfig        `mapstructure:"seed"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

// Development reports whether development logging should be used
func (c AppConfig) Development() bool {
	return c.Env == "" || strings.EqualFold(c.Env, "development")
}

type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type StorageConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

type EngineConfig struct {
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	Lanes        int           `mapstructure:"lanes"`
	LaneBuffer   int           `mapstructure:"lane_buffer"`
}

type DebounceConfig struct {
	Capacity int `mapstructure:"capacity"`
}

type NotifyConfig struct {
	Buffer int `mapstructure:"buffer"`
}

type HistoryConfig struct {
	Retention time.Duration `mapstructure:"retention"`
}

type MaintenanceConfig struct {
	PruneSchedule string `mapstructure:"prune_schedule"`
}

type DeviceAgeConfig struct {
	Schedule string `mapstructure:"schedule"`
}

type MonitorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type SeedConfig struct {
	File string `mapstructure:"file"`
}

var defaults = map[string]interface{}{
	"app.name":                   "glucoalert",
	"app.env":                    "development",
	"nats.url":                   "nats://127.0.0.1:4222",
	"nats.max_reconnects":        60,
	"nats.reconnect_wait":        2 * time.Second,
	"nats.connect_timeout":       5 * time.Second,
	"storage.sqlite_path":        "glucoalert.db",
	"engine.fetch_timeout":       2 * time.Second,
	"engine.lanes":               16,
	"engine.lane_buffer":         256,
	"debounce.capacity":          100_000,
	"notify.buffer":              1024,
	"history.retention":          30 * 24 * time.Hour,
	"maintenance.prune_schedule": "0 0 3 * * *",
	"deviceage.schedule":         "0 */15 * * * *",
	"monitor.interval":           30 * time.Second,
	"metrics.addr":               ":9102",
	"seed.file":                  "",
}

// Load reads configuration. An empty path searches ./config and the working
// directory for config.yaml and falls back to defaults when none exists.
// A .env file, when present, is loaded into the environment first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values the service cannot start without
func (c *Config) Validate() error {
	var errs []error
	if c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required"))
	}
	if c.Storage.SQLitePath == "" {
		errs = append(errs, errors.New("storage.sqlite_path is required"))
	}
	if c.Engine.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("engine.fetch_timeout must be positive, got %s", c.Engine.FetchTimeout))
	}
	if c.Engine.Lanes <= 0 {
		errs = append(errs, fmt.Errorf("engine.lanes must be positive, got %d", c.Engine.Lanes))
	}
	if c.Debounce.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("debounce.capacity must be positive, got %d", c.Debounce.Capacity))
	}
	if c.History.Retention <= 0 {
		errs = append(errs, fmt.Errorf("history.retention must be positive, got %s", c.History.Retention))
	}
	if c.Monitor.Interval <= 0 {
		errs = append(errs, fmt.Errorf("monitor.interval must be positive, got %s", c.Monitor.Interval))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
