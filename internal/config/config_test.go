package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"OUTBOX_POLL_INTERVAL", "OUTBOX_MAX_RETRIES", "KAFKA_BROKERS", "RESERVATION_TTL", "REAPER_INTERVAL"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, 5*time.Second, cfg.OutboxPollInterval)
	assert.Equal(t, 100, cfg.OutboxBatchSize)
	assert.Equal(t, 3, cfg.OutboxMaxRetries)
	assert.Equal(t, 10*time.Second, cfg.OutboxPublishTimeout)
	assert.Equal(t, 15*time.Minute, cfg.ReservationTTL)
	assert.Equal(t, 5*time.Minute, cfg.ReaperInterval)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "inventory-events", cfg.KafkaMainTopic)
	assert.Equal(t, "inventory-events-dlq", cfg.KafkaDLQTopic)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("REAPER_INTERVAL", "500000")
	t.Setenv("OUTBOX_POLL_INTERVAL", "2s")
	t.Setenv("KAFKA_DLQ_MONITOR_ENABLED", "yes")
	t.Setenv("SNOWFLAKE_NODE_ID", "7")

	cfg := Load()

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 500*time.Second, cfg.ReaperInterval)
	assert.Equal(t, 2*time.Second, cfg.OutboxPollInterval)
	assert.True(t, cfg.KafkaDLQMonitorEnabled)
	assert.Equal(t, int64(7), cfg.SnowflakeNodeID)
}

func TestGetenvDuration(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "empty uses default", value: "", want: time.Minute},
		{name: "milliseconds", value: "1500", want: 1500 * time.Millisecond},
		{name: "go duration", value: "3m", want: 3 * time.Minute},
		{name: "garbage uses default", value: "soon", want: time.Minute},
		{name: "negative uses default", value: "-5s", want: time.Minute},
		{name: "zero uses default", value: "0", want: time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.value)
			assert.Equal(t, tt.want, getenvDuration("TEST_DURATION", time.Minute))
		})
	}
}
