package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is read when Load gets an empty path. CONFIG_PATH overrides it.
var ConfigPath = envOr("CONFIG_PATH", "config.yaml")

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	BrokerRedis  = "redis"
	BrokerAMQP   = "amqp"
	BrokerMemory = "memory"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port           string `yaml:"port"`
	MetricsPort    string `yaml:"metricsPort"`
	LogLevel       string `yaml:"logLevel"`
	StoreDriver    string `yaml:"storeDriver"`
	DatabaseURL    string `yaml:"databaseURL"`
	RedisAddr      string `yaml:"redisAddr"`
	RedisPassword  string `yaml:"redisPassword"`
	AllowedOrigins string `yaml:"allowedOrigins"`
	TrustedProxies string `yaml:"trustedProxies"`

	SessionTTL          string `yaml:"sessionTTL"`
	RefreshTTL          string `yaml:"refreshTTL"`
	JWTPrivateKeyPath   string `yaml:"jwtPrivateKeyPath"`
	JWTPublicKeyPath    string `yaml:"jwtPublicKeyPath"`
	JWTKeyID            string `yaml:"jwtKeyId"`
	JWTVerifyPublicKeys string `yaml:"jwtVerifyPublicKeys"`
	JWTIssuer           string `yaml:"jwtIssuer"`
	JWTAudience         string `yaml:"jwtAudience"`
	JWTLeeway           string `yaml:"jwtLeeway"`

	SignupRateLimitPerMinute     int `yaml:"signupRateLimitPerMinute"`
	LoginRateLimitPerMinute      int `yaml:"loginRateLimitPerMinute"`
	RefreshRateLimitPerMinute    int `yaml:"refreshRateLimitPerMinute"`
	PasswordRateLimitPerMinute   int `yaml:"passwordRateLimitPerMinute"`
	WithdrawalRateLimitPerMinute int `yaml:"withdrawalRateLimitPerMinute"`
	UploadRateLimitPerMinute     int `yaml:"uploadRateLimitPerMinute"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	MediaDir       string `yaml:"mediaDir"`
	MediaBaseURL   string `yaml:"mediaBaseURL"`
	MediaMaxBytes  int64  `yaml:"mediaMaxBytes"`

	QueueName string `yaml:"queueName"`

	RealtimeBroker    string  `yaml:"realtimeBroker"`
	RealtimeChannel   string  `yaml:"realtimeChannel"`
	AMQPURL           string  `yaml:"amqpURL"`
	AMQPExchange      string  `yaml:"amqpExchange"`
	RealtimeFrameRate float64 `yaml:"realtimeFrameRate"`
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
		"PORT":                   &cfg.Port,
		"METRICS_PORT":           &cfg.MetricsPort,
		"LOG_LEVEL":              &cfg.LogLevel,
		"STORE_DRIVER":           &cfg.StoreDriver,
		"DATABASE_URL":           &cfg.DatabaseURL,
		"REDIS_ADDR":             &cfg.RedisAddr,
		"REDIS_PASSWORD":         &cfg.RedisPassword,
		"ALLOWED_ORIGINS":        &cfg.AllowedOrigins,
		"TRUSTED_PROXIES":        &cfg.TrustedProxies,
		"JWT_PRIVATE_KEY_PATH":   &cfg.JWTPrivateKeyPath,
		"JWT_PUBLIC_KEY_PATH":    &cfg.JWTPublicKeyPath,
		"JWT_KEY_ID":             &cfg.JWTKeyID,
		"JWT_VERIFY_PUBLIC_KEYS": &cfg.JWTVerifyPublicKeys,
		"JWT_ISSUER":             &cfg.JWTIssuer,
		"JWT_AUDIENCE":           &cfg.JWTAudience,
		"JWT_LEEWAY":             &cfg.JWTLeeway,
		"SESSION_TTL":            &cfg.SessionTTL,
		"REFRESH_TTL":            &cfg.RefreshTTL,
		"MINIO_ENDPOINT":         &cfg.MinioEndpoint,
		"MINIO_ACCESS_KEY":       &cfg.MinioAccessKey,
		"MINIO_SECRET_KEY":       &cfg.MinioSecretKey,
		"MINIO_BUCKET":           &cfg.MinioBucket,
		"MEDIA_DIR":              &cfg.MediaDir,
		"MEDIA_BASE_URL":         &cfg.MediaBaseURL,
		"QUEUE_NAME":             &cfg.QueueName,
		"REALTIME_BROKER":        &cfg.RealtimeBroker,
		"REALTIME_CHANNEL":       &cfg.RealtimeChannel,
		"AMQP_URL":               &cfg.AMQPURL,
		"AMQP_EXCHANGE":          &cfg.AMQPExchange,
	}
	for key, dst := range overrides {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("MEDIA_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MediaMaxBytes = n
		}
	}
	limits := map[string]*int{
		"SIGNUP_RATE_LIMIT_PER_MINUTE":     &cfg.SignupRateLimitPerMinute,
		"LOGIN_RATE_LIMIT_PER_MINUTE":      &cfg.LoginRateLimitPerMinute,
		"REFRESH_RATE_LIMIT_PER_MINUTE":    &cfg.RefreshRateLimitPerMinute,
		"PASSWORD_RATE_LIMIT_PER_MINUTE":   &cfg.PasswordRateLimitPerMinute,
		"WITHDRAWAL_RATE_LIMIT_PER_MINUTE": &cfg.WithdrawalRateLimitPerMinute,
		"UPLOAD_RATE_LIMIT_PER_MINUTE":     &cfg.UploadRateLimitPerMinute,
	}
	for key, dst := range limits {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = StoreDriverPostgres
	}
	cfg.RealtimeBroker = strings.ToLower(strings.TrimSpace(cfg.RealtimeBroker))
	if cfg.RealtimeBroker == "" {
		if cfg.StoreDriver == StoreDriverMemory {
			cfg.RealtimeBroker = BrokerMemory
		} else {
			cfg.RealtimeBroker = BrokerRedis
		}
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "afggram:jobs"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9090"
	}
	if cfg.MediaMaxBytes == 0 {
		cfg.MediaMaxBytes = 25 << 20
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.MetricsPort != "" && cfg.MetricsPort == cfg.Port {
		return errors.New("config: metricsPort must differ from port")
	}
	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required for the postgres store driver")
		}
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for the postgres store driver")
		}
		if cfg.JWTPrivateKeyPath == "" {
			return errors.New("config: jwtPrivateKeyPath is required (set JWT_PRIVATE_KEY_PATH)")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("config: unknown storeDriver %q", cfg.StoreDriver)
	}
	if cfg.JWTPrivateKeyPath == "" && cfg.JWTPublicKeyPath != "" {
		return errors.New("config: jwtPublicKeyPath requires jwtPrivateKeyPath")
	}
	switch cfg.RealtimeBroker {
	case BrokerRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for the redis realtime broker")
		}
	case BrokerAMQP:
		if strings.TrimSpace(cfg.AMQPURL) == "" {
			return errors.New("config: amqpURL is required for the amqp realtime broker")
		}
	case BrokerMemory:
	default:
		return fmt.Errorf("config: unknown realtimeBroker %q", cfg.RealtimeBroker)
	}
	if cfg.MinioEndpoint != "" && cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required with minioEndpoint")
	}
	if cfg.MinioEndpoint != "" && cfg.MediaBaseURL == "" {
		return errors.New("config: mediaBaseURL is required with minioEndpoint")
	}
	if cfg.MediaMaxBytes < 0 {
		return errors.New("config: mediaMaxBytes must be >= 0")
	}
	for _, n := range []int{
		cfg.SignupRateLimitPerMinute, cfg.LoginRateLimitPerMinute, cfg.RefreshRateLimitPerMinute,
		cfg.PasswordRateLimitPerMinute, cfg.WithdrawalRateLimitPerMinute, cfg.UploadRateLimitPerMinute,
	} {
		if n < 0 {
			return errors.New("config: rate limits must be >= 0")
		}
	}
	for name, raw := range map[string]string{
		"sessionTTL": cfg.SessionTTL,
		"refreshTTL": cfg.RefreshTTL,
		"jwtLeeway":  cfg.JWTLeeway,
	} {
		if _, err := ParseDuration(name, raw); err != nil {
			return err
		}
	}
	if _, err := ParseVerifyPublicKeys(cfg.JWTVerifyPublicKeys); err != nil {
		return err
	}
	return nil
}

// ParseDuration parses an optional duration; empty means zero.
func ParseDuration(name, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must be >= 0", name)
	}
	return dur, nil
}

// ParseVerifyPublicKeys parses "kid=path,kid2=path2" into a map.
func ParseVerifyPublicKeys(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	pairs := strings.Split(raw, ",")
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kid, path, ok := strings.Cut(pair, "=")
		kid, path = strings.TrimSpace(kid), strings.TrimSpace(path)
		if !ok || kid == "" || path == "" {
			return nil, fmt.Errorf("invalid jwtVerifyPublicKeys entry %q", pair)
		}
		out[kid] = path
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// SplitList splits a comma-separated setting, dropping blanks.
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
