package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Server      struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`
	Database struct {
		PostgresDSN         string `mapstructure:"postgresDSN"`
		PostgresAutoMigrate bool   `mapstructure:"postgresAutoMigrate"`
	} `mapstructure:"database"`
	Stripe struct {
		APIKey        string `mapstructure:"apiKey"`
		WebhookSecret string `mapstructure:"webhookSecret"`
	} `mapstructure:"stripe"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	RetryQueue RetryQueueConfig `mapstructure:"retryQueue"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Metrics    struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
}

// SchedulerConfig holds configuration for the retry batch scheduler
type SchedulerConfig struct {
	AuthToken       string        `mapstructure:"authToken"`       // Bearer token required on the trigger endpoint
	BatchSize       int           `mapstructure:"batchSize"`       // Max items fetched per batch
	Workers         int           `mapstructure:"workers"`         // Worker pool size for batch dispatch
	PollInterval    time.Duration `mapstructure:"pollInterval"`    // In-process poll interval; 0 disables the loop
	DispatchTimeout time.Duration `mapstructure:"dispatchTimeout"` // Per-item processing timeout
}

// CatalogConfig maps provider price IDs to credit grants
type CatalogConfig struct {
	// Prices maps a provider price ID to the number of credits it grants.
	Prices map[string]int `mapstructure:"prices"`
}

// RetryQueueConfig holds the backoff policy for queued webhooks
type RetryQueueConfig struct {
	MaxRetries        int           `mapstructure:"maxRetries"`
	BaseDelay         time.Duration `mapstructure:"baseDelay"`
	MaxDelay          time.Duration `mapstructure:"maxDelay"`
	BackoffMultiplier float64       `mapstructure:"backoffMultiplier"`
	RetentionDays     int           `mapstructure:"retentionDays"` // Processed rows older than this are purged; 0 disables cleanup
}

// Delay returns how long a webhook with the given retry count waits before
// its next attempt: baseDelay * multiplier^retryCount, capped at maxDelay.
// Zero-value fields fall back to the shipped defaults so a partially
// configured policy still behaves sanely.
func (c RetryQueueConfig) Delay(retryCount int) time.Duration {
	base := c.BaseDelay
	if base <= 0 {
		base = time.Minute
	}
	max := c.MaxDelay
	if max <= 0 {
		max = 24 * time.Hour
	}
	multiplier := c.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 2
	}
	if retryCount < 0 {
		retryCount = 0
	}

	delay := float64(base)
	for i := 0; i < retryCount; i++ {
		delay *= multiplier
		if delay >= float64(max) {
			return max
		}
	}
	if delay >= float64(max) {
		return max
	}
	return time.Duration(delay)
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (*Config, error) {
	// Create new viper instance
	v := viper.New()

	// Set defaults
	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)

	// Scheduler defaults
	v.SetDefault("scheduler.batchSize", 50)
	v.SetDefault("scheduler.workers", 8)
	v.SetDefault("scheduler.pollInterval", time.Duration(0))
	v.SetDefault("scheduler.dispatchTimeout", 30*time.Second)

	// Retry queue defaults
	v.SetDefault("retryQueue.maxRetries", 5)
	v.SetDefault("retryQueue.baseDelay", time.Minute)
	v.SetDefault("retryQueue.maxDelay", 24*time.Hour)
	v.SetDefault("retryQueue.backoffMultiplier", 2.0)
	v.SetDefault("retryQueue.retentionDays", 30)

	// Config file settings
	v.SetConfigName("default") // name of config file (without extension)
	v.SetConfigType("yaml")    // REQUIRED if the config file does not have the extension in the name

	// Add lookup paths
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("$HOME/.credit-webhook-processor")
	v.AddConfigPath("/etc/credit-webhook-processor")

	// Try to read from config file
	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file is not found, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Override with environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Map environment variables to config fields
	bindEnvs(v, Config{})

	// Read directly from ENV for critical values
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		v.Set("database.postgresDSN", dsn)
	}
	if lgLevel := os.Getenv("LOG_LEVEL"); lgLevel != "" {
		v.Set("logLevel", lgLevel)
	}
	if secret := os.Getenv("STRIPE_WEBHOOK_SECRET"); secret != "" {
		v.Set("stripe.webhookSecret", secret)
	}
	if key := os.Getenv("STRIPE_API_KEY"); key != "" {
		v.Set("stripe.apiKey", key)
	}
	if token := os.Getenv("SCHEDULER_AUTH_TOKEN"); token != "" {
		v.Set("scheduler.authToken", token)
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &config, nil
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		// Get the field tag value (mapstructure)
		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		// Build the env var path
		path := append(parts, tag)
		key := strings.Join(path, ".")

		// If it's a struct, recursively bind its fields
		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		// Bind the env var
		_ = v.BindEnv(key)
	}
}
