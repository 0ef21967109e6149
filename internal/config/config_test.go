package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Run("should apply pipeline defaults", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 500*time.Millisecond, cfg.Breaker.LatencyThreshold)
		assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
		assert.Equal(t, 30*time.Second, cfg.Breaker.Cooldown)
		assert.Equal(t, 60*time.Second, cfg.Lock.TTL)
		assert.Equal(t, 5*time.Minute, cfg.Dedup.Window)
		assert.Equal(t, cfg.Dedup.Window, cfg.Dedup.IncidentIdle)
		assert.InDelta(t, 0.9, cfg.Dedup.SimilarityThreshold, 1e-9)
		assert.Equal(t, 10, cfg.Dedup.StormThreshold)
		assert.InDelta(t, 0.01, cfg.Assignment.Epsilon, 1e-9)
		assert.InDelta(t, 0.8, cfg.Notification.UrgencyThreshold, 1e-9)
		assert.Empty(t, cfg.Kafka.Brokers)
	})

	t.Run("should read overrides from the environment", func(t *testing.T) {
		t.Setenv("DEDUP_WINDOW_SECONDS", "120")
		t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")
		t.Setenv("BREAKER_LATENCY_THRESHOLD_MS", "250")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 2*time.Minute, cfg.Dedup.Window)
		assert.Equal(t, 2*time.Minute, cfg.Dedup.IncidentIdle)
		assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
		assert.Equal(t, 250*time.Millisecond, cfg.Breaker.LatencyThreshold)
	})

	t.Run("should reject invalid thresholds", func(t *testing.T) {
		t.Setenv("DEDUP_STORM_THRESHOLD", "0")
		t.Setenv("ASSIGNMENT_EPSILON", "-1")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DEDUP_STORM_THRESHOLD")
		assert.Contains(t, err.Error(), "ASSIGNMENT_EPSILON")
	})
}

func TestAppConfig(t *testing.T) {
	app := AppConfig{Host: "127.0.0.1", Port: "9000", RequestTimeoutSeconds: 5}
	assert.Equal(t, "127.0.0.1:9000", app.Addr())
	assert.Equal(t, 5*time.Second, app.RequestTimeout())

	app.RequestTimeoutSeconds = 0
	assert.Equal(t, time.Duration(0), app.RequestTimeout())
}
