package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DBPath       string
	DatabaseURL  string // Postgres; SQLite at DBPath when empty
	ListenAddr   string
	CallbackBase string // public base URL for webhook callbacks
	LogPath      string
	LogMaxSizeMB int
	LogBackups   int

	Alert    AlertConfig
	S3       S3Config
	Sync     SyncConfig
	Commands CommandConfig

	Integrations map[string]*IntegrationConfig
}

type AlertConfig struct {
	WebhookURL       string
	FailureThreshold int
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// SyncConfig holds the default routine intervals. Per-integration YAML may
// override any of them, or replace an interval with a cron expression.
type SyncConfig struct {
	ListingsInterval     time.Duration
	ReservationsInterval time.Duration
	MessagesInterval     time.Duration
	ReviewsInterval      time.Duration
}

type CommandConfig struct {
	PollInterval time.Duration
}

// IntegrationConfig describes one upstream PMS account, loaded from
// config/integrations/<id>.yaml.
type IntegrationConfig struct {
	ID           string            `yaml:"id"`
	Name         string            `yaml:"name"`
	BaseURL      string            `yaml:"base_url"`
	APIKeyEnv    string            `yaml:"api_key_env"`
	APIKeyHeader string            `yaml:"api_key_header"`
	PageSize     int               `yaml:"page_size"`
	MaxPages     int               `yaml:"max_pages"`
	MaxRetries   int               `yaml:"max_retries"`
	// RetryBackoffMS is the base delay for the client's exponential backoff.
	RetryBackoffMS int `yaml:"retry_backoff_ms"`
	// WebhookDomain is the provider domain subscription confirmation URLs
	// must belong to.
	WebhookDomain string            `yaml:"webhook_domain"`
	Endpoints     map[string]string `yaml:"endpoints"` // resource -> upstream path override
	Intervals     map[string]string `yaml:"intervals"` // entity -> duration or cron expr
}

func (c *IntegrationConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMS) * time.Millisecond
}

func (c *IntegrationConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ID, validation.Required),
		validation.Field(&c.BaseURL, validation.Required),
		validation.Field(&c.APIKeyEnv, validation.Required),
		validation.Field(&c.PageSize, validation.Min(1), validation.Max(500)),
		validation.Field(&c.MaxPages, validation.Min(1)),
	)
}

// APIKey resolves the key from the environment. Routines that need the
// upstream fail fast when it is missing.
func (c *IntegrationConfig) APIKey() (string, error) {
	key := os.Getenv(c.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("integration %s: %s is not set", c.ID, c.APIKeyEnv)
	}
	return key, nil
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBPath:       getEnv("DB_PATH", "staysync.db"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		ListenAddr:   getEnv("LISTEN_ADDR", ":8090"),
		CallbackBase: os.Getenv("WEBHOOK_CALLBACK_BASE"),
		LogPath:      getEnv("LOG_PATH", "staysync.log"),
		LogMaxSizeMB: getEnvInt("LOG_MAX_SIZE_MB", 5),
		LogBackups:   getEnvInt("LOG_BACKUPS", 2),
		Alert: AlertConfig{
			WebhookURL:       os.Getenv("ALERT_WEBHOOK_URL"),
			FailureThreshold: getEnvInt("ALERT_FAILURE_THRESHOLD", 3),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		Sync: SyncConfig{
			ListingsInterval:     getEnvDuration("SYNC_LISTINGS_INTERVAL", time.Hour),
			ReservationsInterval: getEnvDuration("SYNC_RESERVATIONS_INTERVAL", 5*time.Minute),
			MessagesInterval:     getEnvDuration("SYNC_MESSAGES_INTERVAL", 5*time.Minute),
			ReviewsInterval:      getEnvDuration("SYNC_REVIEWS_INTERVAL", 30*time.Minute),
		},
		Commands: CommandConfig{
			PollInterval: getEnvDuration("COMMAND_POLL_INTERVAL", 2*time.Second),
		},
		Integrations: make(map[string]*IntegrationConfig),
	}

	if err := cfg.loadIntegrations(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadIntegrations() error {
	configDir := "config/integrations"
	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(configDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var ic IntegrationConfig
		if err := yaml.Unmarshal(data, &ic); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		applyIntegrationDefaults(&ic)
		if err := ic.Validate(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		c.Integrations[ic.ID] = &ic
	}

	return nil
}

func applyIntegrationDefaults(ic *IntegrationConfig) {
	if ic.APIKeyHeader == "" {
		ic.APIKeyHeader = "X-ApiKey"
	}
	if ic.PageSize == 0 {
		// The upstream serves fixed-size pages and ignores client limits;
		// this only drives the paginator's partial-page heuristic.
		ic.PageSize = 100
	}
	if ic.MaxPages == 0 {
		ic.MaxPages = 50
	}
	if ic.MaxRetries == 0 {
		ic.MaxRetries = 3
	}
	if ic.RetryBackoffMS == 0 {
		ic.RetryBackoffMS = 500
	}
	if ic.WebhookDomain == "" {
		ic.WebhookDomain = "amazonaws.com"
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
