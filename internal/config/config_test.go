package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 2, cfg.NearbyPrefetchFactor)
	assert.Equal(t, 1.0, cfg.NearbyDefaultRadiusKm)
	assert.Equal(t, 20, cfg.NearbyDefaultLimit)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 30*time.Second, cfg.ReminderInterval)
	assert.Equal(t, 200, cfg.ReminderBatch)
	assert.False(t, cfg.StrictWrites)
	assert.False(t, cfg.SessionPricing)
}

func TestLoadServerConfigOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092 ,")
	t.Setenv("STRICT_WRITES", "true")
	t.Setenv("SWEEP_INTERVAL", "30s")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.StrictWrites)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadServerConfigCollectsErrors(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("NEARBY_PREFETCH_FACTOR", "0")
	t.Setenv("MIGRATE", "true")
	t.Setenv("REMINDER_BATCH", "0")

	_, err := LoadServerConfig()
	require.Error(t, err)
	for _, key := range []string{"JWT_SECRET", "NEARBY_PREFETCH_FACTOR", "MIGRATE", "REMINDER_BATCH"} {
		assert.True(t, strings.Contains(err.Error(), key), "missing %s in %v", key, err)
	}
}

func TestLoadServerConfigRejectsBadDuration(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("HTTP_READ_TIMEOUT", "soon")

	_, err := LoadServerConfig()
	assert.Error(t, err)
}

func TestLoadConsumerConfig(t *testing.T) {
	t.Setenv("KAFKA_GROUP", "g1")

	cfg, err := LoadConsumerConfig()
	require.NoError(t, err)
	assert.Equal(t, "g1", cfg.KafkaGroup)
	assert.Equal(t, "spot-events", cfg.KafkaTopic)
}
