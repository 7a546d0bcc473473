package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/xraph/jobq"
)

// Config is the jobq server configuration. Every key can be set in the
// YAML file or through the environment, e.g. store.url as JOBQ_STORE_URL.
type Config struct {
	Log   LogConfig   `mapstructure:"log"`
	HTTP  HTTPConfig  `mapstructure:"http"`
	Store StoreConfig `mapstructure:"store"`
	Relay RelayConfig `mapstructure:"relay"`
	Queue jobq.Config `mapstructure:"queue"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// HTTPConfig configures the API listener. An empty Addr runs workers
// only.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// StoreConfig selects the backend.
type StoreConfig struct {
	Backend  string `mapstructure:"backend" validate:"oneof=memory redis postgres mongo"`
	URL      string `mapstructure:"url" validate:"required_unless=Backend memory"`
	Database string `mapstructure:"database" validate:"required_if=Backend mongo"`
	Prefix   string `mapstructure:"prefix"`
}

// RelayConfig enables the cross-process event relay. It requires the
// redis backend.
type RelayConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Stream  string `mapstructure:"stream"`
	Node    string `mapstructure:"node"`
}

func setDefaults(v *viper.Viper) {
	q := jobq.DefaultConfig()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.url", "")
	v.SetDefault("store.database", "jobq")
	v.SetDefault("store.prefix", "jobq")
	v.SetDefault("relay.enabled", false)
	v.SetDefault("relay.stream", "jobq:events")
	v.SetDefault("relay.node", "")

	v.SetDefault("queue.concurrency", q.Concurrency)
	v.SetDefault("queue.queues", q.Queues)
	v.SetDefault("queue.poll_interval", q.PollInterval)
	v.SetDefault("queue.scheduler_interval", q.SchedulerInterval)
	v.SetDefault("queue.shutdown_timeout", q.ShutdownTimeout)
	v.SetDefault("queue.heartbeat_interval", q.HeartbeatInterval)
	v.SetDefault("queue.stalled_interval", q.StalledInterval)
	v.SetDefault("queue.max_stalled_count", q.MaxStalledCount)
	v.SetDefault("queue.lock_duration", q.LockDuration)
	v.SetDefault("queue.limiter.max", 0)
	v.SetDefault("queue.limiter.duration", 0)
	v.SetDefault("queue.retention.keep_completed", 0)
	v.SetDefault("queue.retention.keep_failed", 0)
}

// loadConfig reads defaults, then the optional YAML file at path, then
// JOBQ_* environment variables, and validates the result.
func loadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("JOBQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct tags and cross-field rules.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %s", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Relay.Enabled && c.Store.Backend != "redis" {
		return errors.New("invalid config: relay requires the redis backend")
	}
	return c.Queue.Validate()
}
