package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8082", cfg.Port)
	assert.Equal(t, 300*time.Millisecond, cfg.CheckoutDeadline)
	assert.Equal(t, 24*time.Hour, cfg.RecentEventTTL)
	assert.Equal(t, "log", cfg.NotificationSink)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/orders")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("NOTIFICATION_SINK", "kafka")
	t.Setenv("CHECKOUT_DEADLINE", "150ms")
	t.Setenv("CHECKOUT_RATE_BURST", "7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 150*time.Millisecond, cfg.CheckoutDeadline)
	assert.Equal(t, 7, cfg.CheckoutRateBurst)
}

func TestLoad_Rejects(t *testing.T) {
	tests := map[string]map[string]string{
		"postgres without url": {"STORE": "postgres", "DATABASE_URL": ""},
		"unknown store":        {"STORE": "mongo"},
		"bad duration":         {"STORE": "memory", "SWEEP_INTERVAL": "soon"},
		"kafka sink no broker": {"STORE": "memory", "NOTIFICATION_SINK": "kafka", "KAFKA_BROKERS": ""},
		"unknown sink":         {"STORE": "memory", "NOTIFICATION_SINK": "pigeon"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
