package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
app:
  name: order-events-test
broker:
  driver: nats
idempotency:
  driver: redis
  ttl: 72h
publish:
  mode: outbox
  max_attempts: 3
consumers:
  - name: audit
    rules: []
    effect: journal
  - name: wholesale-desk
    rules: ["EventType=OrderCreated", "Segment=Wholesale"]
    effect: notify
    batch_size: 5
    max_redeliveries: 2
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "order-events-test", cfg.App.Name)
	assert.Equal(t, BrokerNATS, cfg.Broker.Driver)
	assert.Equal(t, StoreRedis, cfg.Idempotency.Driver)
	assert.Equal(t, 72*time.Hour, cfg.Idempotency.TTL)
	assert.Equal(t, PublishOutbox, cfg.Publish.Mode)
	assert.Equal(t, 3, cfg.Publish.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Publish.BaseDelay, "defaults fill unset fields")
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)

	require.Len(t, cfg.Consumers, 2)
	desk, ok := cfg.Consumer("wholesale-desk")
	require.True(t, ok)
	rules, err := desk.FilterRules()
	require.NoError(t, err)
	assert.Len(t, rules, 2)
	assert.Equal(t, 2, desk.MaxRedeliveries)

	_, ok = cfg.Consumer("nobody")
	assert.False(t, ok)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("BROKER_DRIVER", "memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, BrokerMemory, cfg.Broker.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_MissingFileFallsBackToEnv(t *testing.T) {
	t.Setenv("IDEMPOTENCY_DRIVER", "sqlite")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, StoreSQLite, cfg.Idempotency.Driver)
	assert.Equal(t, BrokerKafka, cfg.Broker.Driver)
	assert.Equal(t, DefaultConsumers(), cfg.Consumers)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown broker":   "broker:\n  driver: sqs\n",
		"unknown store":    "idempotency:\n  driver: etcd\n",
		"unknown mode":     "publish:\n  mode: async\n",
		"bad rule":         "consumers:\n  - name: a\n    rules: [\"EventType\"]\n",
		"duplicate":        "consumers:\n  - name: a\n  - name: a\n",
		"unnamed consumer": "consumers:\n  - effect: notify\n",
		"malformed yaml":   "broker: [",
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	assert.Equal(t, "config.yaml", Path())

	t.Setenv("CONFIG_PATH", "/etc/order-events.yaml")
	assert.Equal(t, "/etc/order-events.yaml", Path())
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, Log{Level: "debug"}.SlogLevel())
	assert.Equal(t, slog.LevelWarn, Log{Level: "WARN"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, Log{Level: "chatty"}.SlogLevel())
}

func TestValidateService(t *testing.T) {
	cfg, err := Load(writeConfig(t, "broker:\n  driver: memory\nidempotency:\n  driver: memory\n"))
	require.NoError(t, err, "the simulator accepts the memory broker")

	err = cfg.ValidateService()
	assert.True(t, errors.Is(err, ErrProcessLocalBroker))

	cfg.Broker.Driver = BrokerKafka
	assert.NoError(t, cfg.ValidateService())
}
