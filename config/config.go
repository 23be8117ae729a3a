package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/relaykit/relay-api/internal/model"
	"github.com/relaykit/relay-api/internal/provider"
)

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpiryHours int    `mapstructure:"expiry_hours"`
	Issuer      string `mapstructure:"issuer"`
}

type AuthConfig struct {
	JWT JWTConfig `mapstructure:"jwt"`
	// APIKeyHashes are bcrypt hashes of accepted machine-caller keys,
	// keyed by caller name.
	APIKeyHashes map[string]string `mapstructure:"api_key_hashes"`
}

type DispatcherConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	CallTimeout   time.Duration `mapstructure:"call_timeout"`
	DrainLeaseTTL time.Duration `mapstructure:"drain_lease_ttl"`
	// RateProfiles bound outbound pressure per integration; missing
	// integrations fall back to Default.
	RateProfiles map[string]model.RateProfile `mapstructure:"rate_profiles"`
	Default      model.RateProfile            `mapstructure:"default_profile"`
}

type ReconcilerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	MaxItems        int           `mapstructure:"max_items"`
	HardTimeoutSecs int           `mapstructure:"hard_timeout_secs"`
	Integrations    []string      `mapstructure:"integrations"`
}

type ProvidersConfig struct {
	Slack   provider.SlackConfig   `mapstructure:"slack"`
	Resend  provider.ResendConfig  `mapstructure:"resend"`
	Twilio  provider.TwilioConfig  `mapstructure:"twilio"`
	Sheets  provider.SheetsConfig  `mapstructure:"google_sheets"`
	SMTP    provider.SMTPConfig    `mapstructure:"smtp"`
	Webhook provider.WebhookConfig `mapstructure:"webhook"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool   `mapstructure:"prometheus_enabled"`
	MetricsPath       string `mapstructure:"metrics_path"`
	Namespace         string `mapstructure:"namespace"`
}

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	LogLevel   string           `mapstructure:"log_level"`
}

// LoadConfig reads config.yml from the usual locations and applies
// defaults plus a handful of environment overrides.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/app")
	viper.AddConfigPath("/app/config")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&config)
	applyEnvOverrides(&config)

	return &config, nil
}

func applyDefaults(c *Config) {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Dispatcher.BatchSize <= 0 {
		c.Dispatcher.BatchSize = 50
	}
	if c.Dispatcher.PollInterval <= 0 {
		c.Dispatcher.PollInterval = 5 * time.Second
	}
	if c.Dispatcher.CallTimeout <= 0 {
		c.Dispatcher.CallTimeout = 30 * time.Second
	}
	if c.Dispatcher.Default.RPS <= 0 {
		c.Dispatcher.Default.RPS = 5
	}
	if c.Dispatcher.Default.Concurrent <= 0 {
		c.Dispatcher.Default.Concurrent = 2
	}
	if c.Reconciler.Interval <= 0 {
		c.Reconciler.Interval = 30 * time.Minute
	}
	if c.Reconciler.MaxItems <= 0 {
		c.Reconciler.MaxItems = 3000
	}
	if c.Reconciler.HardTimeoutSecs <= 0 {
		c.Reconciler.HardTimeoutSecs = 6900
	}
	if c.Monitoring.MetricsPath == "" {
		c.Monitoring.MetricsPath = "/metrics"
	}
	if c.Monitoring.Namespace == "" {
		c.Monitoring.Namespace = "relay"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func applyEnvOverrides(c *Config) {
	if host := os.Getenv("DB_HOST"); host != "" {
		c.Database.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Database.Port = p
		}
	}
	if pass := os.Getenv("DB_PASSWORD"); pass != "" {
		c.Database.Password = pass
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		c.Redis.URL = url
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.Auth.JWT.Secret = secret
	}
}

// WorkerEnv is the env-only configuration surface for cmd/worker, used in
// deployments that ship no config file.
type WorkerEnv struct {
	DBHost          string        `envconfig:"DB_HOST" default:"localhost"`
	DBPort          int           `envconfig:"DB_PORT" default:"5432"`
	DBUser          string        `envconfig:"DB_USER" default:"relay"`
	DBPassword      string        `envconfig:"DB_PASSWORD"`
	DBName          string        `envconfig:"DB_NAME" default:"relay"`
	DBSSLMode       string        `envconfig:"DB_SSLMODE" default:"disable"`
	RedisURL        string        `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	BatchSize       int           `envconfig:"DISPATCH_BATCH_SIZE" default:"50"`
	PollInterval    time.Duration `envconfig:"DISPATCH_POLL_INTERVAL" default:"5s"`
	HealthCheckAddr string        `envconfig:"HEALTH_ADDR" default:":8081"`
}

// LoadWorkerEnv reads the worker overlay from the environment.
func LoadWorkerEnv() (*WorkerEnv, error) {
	var env WorkerEnv
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("failed to process worker env: %w", err)
	}
	return &env, nil
}

// ApplyWorkerEnv folds the worker env overlay into the file-based config.
func (c *Config) ApplyWorkerEnv(env *WorkerEnv) {
	if env == nil {
		return
	}
	c.Database.Host = env.DBHost
	c.Database.Port = env.DBPort
	c.Database.User = env.DBUser
	if env.DBPassword != "" {
		c.Database.Password = env.DBPassword
	}
	c.Database.Name = env.DBName
	c.Database.SSLMode = env.DBSSLMode
	c.Redis.URL = env.RedisURL
	c.Dispatcher.BatchSize = env.BatchSize
	c.Dispatcher.PollInterval = env.PollInterval
}
