package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ConfigPath is read when Load gets an empty path. CONFIG_PATH overrides it.
var ConfigPath = envOr("CONFIG_PATH", "config.yaml")

const (
	BrokerRedis = "redis"
	BrokerAMQP  = "amqp"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port          string `yaml:"port"`
	LogLevel      string `yaml:"logLevel"`
	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	QueueName        string `yaml:"queueName"`
	QueueGroup       string `yaml:"queueGroup"`
	QueueConcurrency int    `yaml:"queueConcurrency"`
	QueueMaxRetries  int    `yaml:"queueMaxRetries"`

	RealtimeBroker  string `yaml:"realtimeBroker"`
	RealtimeChannel string `yaml:"realtimeChannel"`
	AMQPURL         string `yaml:"amqpURL"`
	AMQPExchange    string `yaml:"amqpExchange"`

	// SweepSchedule is a cron spec, e.g. "@every 1m".
	SweepSchedule  string `yaml:"sweepSchedule"`
	LiveStaleAfter string `yaml:"liveStaleAfter"`
}

// Load reads config from path (defaults to ConfigPath), applies environment
// overrides and validates the result.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	overrides := map[string]*string{
		"PORT":             &cfg.Port,
		"LOG_LEVEL":        &cfg.LogLevel,
		"DATABASE_URL":     &cfg.DatabaseURL,
		"REDIS_ADDR":       &cfg.RedisAddr,
		"REDIS_PASSWORD":   &cfg.RedisPassword,
		"QUEUE_NAME":       &cfg.QueueName,
		"QUEUE_GROUP":      &cfg.QueueGroup,
		"REALTIME_BROKER":  &cfg.RealtimeBroker,
		"REALTIME_CHANNEL": &cfg.RealtimeChannel,
		"AMQP_URL":         &cfg.AMQPURL,
		"AMQP_EXCHANGE":    &cfg.AMQPExchange,
		"SWEEP_SCHEDULE":   &cfg.SweepSchedule,
		"LIVE_STALE_AFTER": &cfg.LiveStaleAfter,
	}
	for key, dst := range overrides {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueConcurrency = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	cfg.RealtimeBroker = strings.ToLower(strings.TrimSpace(cfg.RealtimeBroker))
	if cfg.RealtimeBroker == "" {
		cfg.RealtimeBroker = BrokerRedis
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "afggram:jobs"
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = "worker"
	}
	if cfg.QueueConcurrency == 0 {
		cfg.QueueConcurrency = 4
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = "@every 1m"
	}
	if cfg.LiveStaleAfter == "" {
		cfg.LiveStaleAfter = "2m"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required (set in config.yaml)")
	}
	if cfg.QueueConcurrency < 0 || cfg.QueueMaxRetries < 0 {
		return errors.New("config: queue settings must be >= 0")
	}
	switch cfg.RealtimeBroker {
	case BrokerRedis:
	case BrokerAMQP:
		if strings.TrimSpace(cfg.AMQPURL) == "" {
			return errors.New("config: amqpURL is required for the amqp realtime broker")
		}
	default:
		return fmt.Errorf("config: unknown realtimeBroker %q", cfg.RealtimeBroker)
	}
	if _, err := cron.ParseStandard(cfg.SweepSchedule); err != nil {
		return fmt.Errorf("config: invalid sweepSchedule: %w", err)
	}
	if _, err := LiveStaleAfter(cfg); err != nil {
		return err
	}
	return nil
}

// LiveStaleAfter parses the heartbeat timeout for live sessions.
func LiveStaleAfter(cfg FileConfig) (time.Duration, error) {
	dur, err := time.ParseDuration(strings.TrimSpace(cfg.LiveStaleAfter))
	if err != nil || dur <= 0 {
		return 0, fmt.Errorf("config: invalid liveStaleAfter %q", cfg.LiveStaleAfter)
	}
	return dur, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
