package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryQueueConfig_Delay(t *testing.T) {
	defaults := RetryQueueConfig{
		MaxRetries:        5,
		BaseDelay:         time.Minute,
		MaxDelay:          24 * time.Hour,
		BackoffMultiplier: 2.0,
	}

	t.Run("Doubles Per Attempt", func(t *testing.T) {
		assert.Equal(t, time.Minute, defaults.Delay(0))
		assert.Equal(t, 2*time.Minute, defaults.Delay(1))
		assert.Equal(t, 4*time.Minute, defaults.Delay(2))
		assert.Equal(t, 32*time.Minute, defaults.Delay(5))
	})

	t.Run("Capped At Max Delay", func(t *testing.T) {
		assert.Equal(t, 24*time.Hour, defaults.Delay(11)) // 2^11 minutes > 24h
		assert.Equal(t, 24*time.Hour, defaults.Delay(1000))
	})

	t.Run("Monotone Non-Decreasing", func(t *testing.T) {
		prev := time.Duration(0)
		for i := 0; i < 20; i++ {
			d := defaults.Delay(i)
			assert.GreaterOrEqual(t, d, prev, "delay must not shrink at retry %d", i)
			prev = d
		}
	})

	t.Run("Negative Retry Count Treated As Zero", func(t *testing.T) {
		assert.Equal(t, time.Minute, defaults.Delay(-3))
	})

	t.Run("Zero Value Falls Back To Defaults", func(t *testing.T) {
		var zero RetryQueueConfig
		assert.Equal(t, time.Minute, zero.Delay(0))
		assert.Equal(t, 2*time.Minute, zero.Delay(1))
		assert.Equal(t, 24*time.Hour, zero.Delay(1000))
	})

	t.Run("Custom Multiplier", func(t *testing.T) {
		cfg := RetryQueueConfig{BaseDelay: 10 * time.Second, MaxDelay: time.Hour, BackoffMultiplier: 3.0}
		assert.Equal(t, 10*time.Second, cfg.Delay(0))
		assert.Equal(t, 30*time.Second, cfg.Delay(1))
		assert.Equal(t, 90*time.Second, cfg.Delay(2))
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults Without Config File", func(t *testing.T) {
		cfg, err := LoadConfig(t.TempDir())
		require.NoError(t, err)

		assert.Equal(t, "development", cfg.Environment)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, 2112, cfg.Metrics.Port)

		assert.Equal(t, 50, cfg.Scheduler.BatchSize)
		assert.Equal(t, 8, cfg.Scheduler.Workers)
		assert.Equal(t, time.Duration(0), cfg.Scheduler.PollInterval)
		assert.Equal(t, 30*time.Second, cfg.Scheduler.DispatchTimeout)

		assert.Equal(t, 5, cfg.RetryQueue.MaxRetries)
		assert.Equal(t, time.Minute, cfg.RetryQueue.BaseDelay)
		assert.Equal(t, 24*time.Hour, cfg.RetryQueue.MaxDelay)
		assert.Equal(t, 2.0, cfg.RetryQueue.BackoffMultiplier)
		assert.Equal(t, 30, cfg.RetryQueue.RetentionDays)
	})

	t.Run("Environment Overrides", func(t *testing.T) {
		t.Setenv("POSTGRES_DSN", "postgres://user:pass@db:5432/credits")
		t.Setenv("LOG_LEVEL", "debug")
		t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
		t.Setenv("STRIPE_API_KEY", "sk_test_123")
		t.Setenv("SCHEDULER_AUTH_TOKEN", "secret-token")

		cfg, err := LoadConfig(t.TempDir())
		require.NoError(t, err)

		assert.Equal(t, "postgres://user:pass@db:5432/credits", cfg.Database.PostgresDSN)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, "whsec_test", cfg.Stripe.WebhookSecret)
		assert.Equal(t, "sk_test_123", cfg.Stripe.APIKey)
		assert.Equal(t, "secret-token", cfg.Scheduler.AuthToken)
	})
}
