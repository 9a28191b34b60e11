package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"secsync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App          AppConfig          `yaml:"app"`
	Logging      LoggingConfig      `yaml:"logging"`
	Database     DatabaseConfig     `yaml:"database"`
	Backup       BackupConfig       `yaml:"backup"`
	Redis        RedisConfig        `yaml:"redis"`
	Store        StoreConfig        `yaml:"store"`
	Remote       RemoteConfig       `yaml:"remote"`
	Queue        QueueConfig        `yaml:"queue"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	API          APIConfig          `yaml:"api"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"pool_size"`
	KeyPrefix string `yaml:"key_prefix"`
}

// StoreConfig selects where queued items live.
// Driver is one of "sqlite", "redis", "memory". With Failover set, the
// chosen driver is the primary and an in-memory store catches its outages.
type StoreConfig struct {
	Driver   string `yaml:"driver"`
	Failover bool   `yaml:"failover"`
}

type RemoteConfig struct {
	BaseURL    string            `yaml:"base_url"`
	HealthPath string            `yaml:"health_path"`
	Endpoints  map[string]string `yaml:"endpoints"`
	APIKey     string            `yaml:"api_key"`
	Timeout    time.Duration     `yaml:"timeout"`
	RateLimit  RateLimitConfig   `yaml:"rate_limit"`
	OAuth      OAuthConfig       `yaml:"oauth"`
}

type OAuthConfig struct {
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

func (o OAuthConfig) Enabled() bool {
	return o.TokenURL != "" && o.ClientID != ""
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type QueueConfig struct {
	MaxAttempts      int           `yaml:"max_attempts"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	Strategy         string        `yaml:"strategy"`
	BackoffFactor    float64       `yaml:"backoff_factor"`
	FlushConcurrency int           `yaml:"flush_concurrency"`
	StartOnline      bool          `yaml:"start_online"`
}

type ConnectivityConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Interval         time.Duration `yaml:"interval"`
	FailureThreshold int           `yaml:"failure_threshold"`
}

type APIConfig struct {
	Enabled   bool            `yaml:"enabled"`
	HTTP      APIHTTPConfig   `yaml:"http"`
	GRPC      APIGRPCConfig   `yaml:"grpc"`
	Auth      APIAuthConfig   `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

// Load reads an optional .env, expands ${VAR} references in the YAML file,
// applies defaults and validates the result.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return errors.New("remote base_url is required")
	}
	if !strings.HasPrefix(c.Remote.BaseURL, "http://") && !strings.HasPrefix(c.Remote.BaseURL, "https://") {
		return fmt.Errorf("remote base_url must be http(s): %s", c.Remote.BaseURL)
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database path is required for sqlite store")
		}
	case "redis":
		if c.Redis.Address == "" {
			return errors.New("redis address is required for redis store")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store driver: %s", c.Store.Driver)
	}

	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue max_attempts must be >= 1, got %d", c.Queue.MaxAttempts)
	}
	if c.Queue.Strategy != "linear" && c.Queue.Strategy != "exponential" {
		return fmt.Errorf("unknown retry strategy: %s", c.Queue.Strategy)
	}

	return ValidateEndpoints(c.Remote.Endpoints)
}

// ValidateEndpoints makes sure every target type has a path and no unknown keys are configured.
func ValidateEndpoints(endpoints map[string]string) error {
	for key, path := range endpoints {
		if !models.TargetType(key).Valid() {
			return fmt.Errorf("unknown endpoint target: %s", key)
		}
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("endpoint for %s must start with '/': %q", key, path)
		}
	}
	for _, target := range models.TargetTypes {
		if _, ok := endpoints[string(target)]; !ok {
			return fmt.Errorf("missing endpoint for target %s", target)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "secsync"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Database.Path == "" && c.Store.Driver == "sqlite" {
		c.Database.Path = "data/secsync.db"
	}
	if c.Backup.Enabled && c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "data/backups"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "secsync"
	}

	if c.Remote.HealthPath == "" {
		c.Remote.HealthPath = "/api/health"
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = 10 * time.Second
	}
	if c.Remote.Endpoints == nil {
		c.Remote.Endpoints = make(map[string]string)
	}
	defaults := map[models.TargetType]string{
		models.TargetMember:  "/api/members",
		models.TargetEvent:   "/api/events",
		models.TargetMeeting: "/api/meetings",
	}
	for target, path := range defaults {
		if _, ok := c.Remote.Endpoints[string(target)]; !ok {
			c.Remote.Endpoints[string(target)] = path
		}
	}

	if c.Queue.MaxAttempts == 0 {
		c.Queue.MaxAttempts = models.DefaultMaxAttempts
	}
	if c.Queue.BaseDelay == 0 {
		c.Queue.BaseDelay = models.DefaultRetryBaseDelay
	}
	if c.Queue.Strategy == "" {
		c.Queue.Strategy = "linear"
	}
	if c.Queue.FlushConcurrency == 0 {
		c.Queue.FlushConcurrency = models.DefaultFlushConcurrency
	}

	if c.Connectivity.Interval == 0 {
		c.Connectivity.Interval = models.DefaultProbeInterval
	}
	if c.Connectivity.FailureThreshold == 0 {
		c.Connectivity.FailureThreshold = models.DefaultProbeFailureThreshold
	}

	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8088
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8089
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
}
