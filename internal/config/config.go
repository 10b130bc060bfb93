package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"triagesync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App          AppConfig           `yaml:"app"`
	Database     DatabaseConfig      `yaml:"database"`
	Redis        RedisConfig         `yaml:"redis"`
	Queue        QueueConfig         `yaml:"queue"`
	Logging      LoggingConfig       `yaml:"logging"`
	Monitoring   MonitoringConfig    `yaml:"monitoring"`
	API          APIConfig           `yaml:"api"`
	Integrations []IntegrationConfig `yaml:"integrations"`
	Exports      ExportConfig        `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// QueueConfig tunes the dispatcher and the retry policy. Durations are
// expressed in seconds to keep the YAML plain.
type QueueConfig struct {
	MaxConcurrent        int `yaml:"max_concurrent"`
	PollIntervalSeconds  int `yaml:"poll_interval_seconds"`
	MaxRetries           int `yaml:"max_retries"`
	TaskTimeoutSeconds   int `yaml:"task_timeout_seconds"`
	BackoffBaseSeconds   int `yaml:"backoff_base_seconds"`
	BackoffCapSeconds    int `yaml:"backoff_cap_seconds"`
	RetentionDays        int `yaml:"retention_days"`
	CleanupIntervalHours int `yaml:"cleanup_interval_hours"`
}

func (q QueueConfig) PollInterval() time.Duration {
	return time.Duration(q.PollIntervalSeconds) * time.Second
}

func (q QueueConfig) TaskTimeout() time.Duration {
	return time.Duration(q.TaskTimeoutSeconds) * time.Second
}

func (q QueueConfig) BackoffBase() time.Duration {
	return time.Duration(q.BackoffBaseSeconds) * time.Second
}

func (q QueueConfig) BackoffCap() time.Duration {
	return time.Duration(q.BackoffCapSeconds) * time.Second
}

func (q QueueConfig) CleanupInterval() time.Duration {
	return time.Duration(q.CleanupIntervalHours) * time.Hour
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

// APIAuthConfig controls request auth for the ops API. Enabled is a pointer
// so an explicit `enabled: false` can be told apart from an absent key: only
// the latter is defaulted to on.
type APIAuthConfig struct {
	Enabled      *bool          `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

// IsEnabled reports whether request auth is enforced.
func (a APIAuthConfig) IsEnabled() bool {
	return a.Enabled != nil && *a.Enabled
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// IntegrationConfig describes one integration target. Kind selects the adapter
// implementation; rest targets need a base URL, sheets targets a spreadsheet.
type IntegrationConfig struct {
	Name         string       `yaml:"name"`
	Kind         string       `yaml:"kind"`
	BaseURL      string       `yaml:"base_url"`
	APIKey       string       `yaml:"api_key"`
	RateLimitRPS float64      `yaml:"rate_limit_rps"`
	Burst        int          `yaml:"burst"`
	Sheets       SheetsConfig `yaml:"sheets"`
}

type SheetsConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

const (
	KindREST   = "rest"
	KindSheets = "sheets"
)

func Load(configPath string) (*Config, error) {
	// .env is optional; environment wins when both are present.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Queue.MaxConcurrent < 1 {
		return errors.New("queue max_concurrent must be positive")
	}
	if c.Queue.MaxRetries < 1 {
		return errors.New("queue max_retries must be positive")
	}

	return ValidateIntegrations(c.Integrations)
}

func ValidateIntegrations(integrations []IntegrationConfig) error {
	names := make(map[string]bool)
	for _, ic := range integrations {
		if ic.Name == "" {
			return errors.New("integration name is required")
		}
		if names[ic.Name] {
			return fmt.Errorf("duplicate integration name: %s", ic.Name)
		}
		names[ic.Name] = true

		switch ic.Kind {
		case KindREST:
			if ic.BaseURL == "" {
				return fmt.Errorf("integration %s: base_url is required for rest targets", ic.Name)
			}
		case KindSheets:
			if ic.Sheets.CredentialsFile == "" || ic.Sheets.SpreadsheetID == "" {
				return fmt.Errorf("integration %s: sheets credentials_file and spreadsheet_id are required", ic.Name)
			}
		default:
			return fmt.Errorf("integration %s: unknown kind %q", ic.Name, ic.Kind)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Queue.MaxConcurrent == 0 {
		c.Queue.MaxConcurrent = models.DefaultMaxConcurrent
	}
	if c.Queue.PollIntervalSeconds == 0 {
		c.Queue.PollIntervalSeconds = int(models.DefaultPollInterval / time.Second)
	}
	if c.Queue.MaxRetries == 0 {
		c.Queue.MaxRetries = models.DefaultMaxRetries
	}
	if c.Queue.TaskTimeoutSeconds == 0 {
		c.Queue.TaskTimeoutSeconds = int(models.DefaultTaskTimeout / time.Second)
	}
	if c.Queue.BackoffBaseSeconds == 0 {
		c.Queue.BackoffBaseSeconds = int(models.DefaultBackoffBase / time.Second)
	}
	if c.Queue.BackoffCapSeconds == 0 {
		c.Queue.BackoffCapSeconds = int(models.DefaultBackoffCap / time.Second)
	}
	if c.Queue.RetentionDays == 0 {
		c.Queue.RetentionDays = models.DefaultRetentionDays
	}
	if c.Queue.CleanupIntervalHours == 0 {
		c.Queue.CleanupIntervalHours = 24
	}

	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	// auth defaults to on for an enabled API; an explicit enabled: false
	// is left alone
	if c.API.Enabled && c.API.Auth.Enabled == nil {
		on := true
		c.API.Auth.Enabled = &on
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
}
