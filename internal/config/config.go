package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/videoflow/notification/internal/retry"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Delivery  RetryConfig     `mapstructure:"delivery"`
	Keycloak  KeycloakConfig  `mapstructure:"keycloak"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Retention RetentionConfig `mapstructure:"retention"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Env             string        `mapstructure:"env"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
	// Timeout bounds each write transaction.
	Timeout time.Duration `mapstructure:"timeout"`
}

// StorageConfig selects the repository implementation.
type StorageConfig struct {
	Driver string      `mapstructure:"driver"` // "postgres" or "memory"
	Retry  RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BaseDelay     time.Duration `mapstructure:"base_delay"`
	SlowThreshold time.Duration `mapstructure:"slow_threshold"`
}

// Policy converts the settings to a retry.Policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{MaxAttempts: r.MaxAttempts, BaseDelay: r.BaseDelay, SlowThreshold: r.SlowThreshold}
}

type KafkaConfig struct {
	Brokers           []string      `mapstructure:"brokers"`
	Topic             string        `mapstructure:"topic"`
	ConsumerGroupID   string        `mapstructure:"consumer_group_id"`
	DeadLetterTopic   string        `mapstructure:"dead_letter_topic"`
	Partitions        int32         `mapstructure:"partitions"`
	ReplicationFactor int16         `mapstructure:"replication_factor"`
	Concurrency       int           `mapstructure:"concurrency"`
	HandleTimeout     time.Duration `mapstructure:"handle_timeout"`
	RedeliveryDelay   time.Duration `mapstructure:"redelivery_delay"`
}

type GatewayConfig struct {
	URL        string        `mapstructure:"url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RatePerSec float64       `mapstructure:"rate_per_sec"`
	Burst      int           `mapstructure:"burst"`
}

type KeycloakConfig struct {
	// BaseURL empty disables user-id lookup.
	BaseURL string `mapstructure:"base_url"`
	Realm   string `mapstructure:"realm"`
	// AdminRealm is the realm used to obtain admin access tokens (usually "master").
	AdminRealm        string        `mapstructure:"admin_realm"`
	AdminClientID     string        `mapstructure:"admin_client_id"`
	AdminClientSecret string        `mapstructure:"admin_client_secret"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
}

type AuthConfig struct {
	// JWTSecret empty disables authentication on the HTTP API.
	JWTSecret string `mapstructure:"jwt_secret"`
}

type RetentionConfig struct {
	Days int `mapstructure:"days"` // 0 disables the purge job
}

// Load reads configuration from environment variables and config files.
// Environment variables override file values. Prefix: VIDNOTIF_
func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "notification")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.timeout", 20*time.Second)
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("storage.retry.max_attempts", retry.DefaultPolicy.MaxAttempts)
	v.SetDefault("storage.retry.base_delay", retry.DefaultPolicy.BaseDelay)
	v.SetDefault("storage.retry.slow_threshold", retry.DefaultPolicy.SlowThreshold)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "video-events")
	v.SetDefault("kafka.consumer_group_id", "notification-service")
	v.SetDefault("kafka.dead_letter_topic", "video-events.dlq")
	v.SetDefault("kafka.partitions", 3)
	v.SetDefault("kafka.replication_factor", 1)
	v.SetDefault("kafka.concurrency", 4)
	v.SetDefault("kafka.handle_timeout", 60*time.Second)
	v.SetDefault("kafka.redelivery_delay", 10*time.Second)
	v.SetDefault("gateway.url", "http://localhost:3000/api/v1/identity/email")
	v.SetDefault("gateway.timeout", 10*time.Second)
	v.SetDefault("gateway.rate_per_sec", 20.0)
	v.SetDefault("gateway.burst", 5)
	v.SetDefault("delivery.max_attempts", 3)
	v.SetDefault("delivery.base_delay", time.Second)
	v.SetDefault("delivery.slow_threshold", 5*time.Second)
	v.SetDefault("keycloak.realm", "videoflow")
	v.SetDefault("keycloak.admin_realm", "master")
	v.SetDefault("keycloak.admin_client_id", "notification-service")
	v.SetDefault("keycloak.cache_ttl", 5*time.Minute)
	v.SetDefault("retention.days", 90)

	// Environment variables (e.g. VIDNOTIF_DATABASE_HOST -> database.host)
	v.SetEnvPrefix("VIDNOTIF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Also support simple env vars without prefix for Docker Compose convenience
	for key, env := range map[string]string{
		"database.host":                "DB_HOST",
		"database.port":                "DB_PORT",
		"database.name":                "DB_NAME",
		"database.user":                "DB_USER",
		"database.password":            "DB_PASSWORD",
		"kafka.brokers":                "KAFKA_BROKERS",
		"kafka.topic":                  "KAFKA_TOPIC",
		"kafka.consumer_group_id":      "KAFKA_CONSUMER_GROUP",
		"gateway.url":                  "EMAIL_API_URL",
		"keycloak.base_url":            "KEYCLOAK_URL",
		"keycloak.admin_client_secret": "KEYCLOAK_ADMIN_CLIENT_SECRET",
		"auth.jwt_secret":              "JWT_SECRET",
		"server.port":                  "PORT",
	} {
		if err := v.BindEnv(key, "VIDNOTIF_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	// Try loading config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("storage.driver must be postgres or memory, got %q", c.Storage.Driver)
	}
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	if _, err := url.ParseRequestURI(c.Gateway.URL); err != nil {
		return fmt.Errorf("gateway.url: %w", err)
	}
	return nil
}

// splitList accepts both YAML lists and a single comma-separated env value.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// URL returns the database as a postgres:// URL with credentials escaped.
// Both pgxpool and golang-migrate accept it.
func (d DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     "/" + d.Name,
		RawQuery: url.Values{"sslmode": {d.SSLMode}}.Encode(),
	}
	return u.String()
}
