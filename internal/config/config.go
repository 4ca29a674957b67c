package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/filter"
	"github.com/ilyakaznacheev/cleanenv"
)

const (
	BrokerKafka  = "kafka"
	BrokerNATS   = "nats"
	BrokerMemory = "memory"

	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"

	PublishDirect = "direct"
	PublishOutbox = "outbox"
)

// ErrProcessLocalBroker rejects the memory broker in the long-running
// binaries: it only delivers within one process.
var ErrProcessLocalBroker = errors.New("memory broker is process-local, use it with fanoutctl simulate or in tests")

type Config struct {
	App         App         `yaml:"app"`
	HTTP        HTTP        `yaml:"http"`
	Log         Log         `yaml:"log"`
	Metrics     Metrics     `yaml:"metrics"`
	Postgres    Postgres    `yaml:"postgres"`
	Redis       Redis       `yaml:"redis"`
	Kafka       Kafka       `yaml:"kafka"`
	NATS        NATS        `yaml:"nats"`
	Broker      Broker      `yaml:"broker"`
	Idempotency Idempotency `yaml:"idempotency"`
	Publish     Publish     `yaml:"publish"`
	Outbox      Outbox      `yaml:"outbox"`
	Consumers   []Consumer  `yaml:"consumers"`
}

type App struct {
	Name    string `yaml:"name" env:"APP_NAME" env-default:"order-events"`
	Version string `yaml:"version" env:"APP_VERSION" env-default:"1.0.0"`
}

type HTTP struct {
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type Metrics struct {
	Addr string `yaml:"addr" env:"METRICS_ADDR" env-default:":9091"`
}

type Postgres struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"POSTGRES_USER" env-default:"user"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD" env-default:"password"`
	DBName   string `yaml:"dbname" env:"POSTGRES_DB" env-default:"order_events"`
	MaxConns int32  `yaml:"max_conns" env:"POSTGRES_MAX_CONNS" env-default:"10"`
}

type Redis struct {
	Addr      string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password  string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB        int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	PoolSize  int           `yaml:"pool_size" env:"REDIS_POOL_SIZE" env-default:"10"`
	OpTimeout time.Duration `yaml:"op_timeout" env:"REDIS_OP_TIMEOUT" env-default:"2s"`
}

type Kafka struct {
	Brokers      []string      `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	Topic        string        `yaml:"topic" env:"KAFKA_TOPIC" env-default:"order-events"`
	GroupPrefix  string        `yaml:"group_prefix" env:"KAFKA_GROUP_PREFIX" env-default:"order-events"`
	StartOffset  string        `yaml:"start_offset" env:"KAFKA_START_OFFSET" env-default:"earliest"`
	RetryBackoff time.Duration `yaml:"retry_backoff" env:"KAFKA_RETRY_BACKOFF" env-default:"1s"`
}

type NATS struct {
	URL           string        `yaml:"url" env:"NATS_URL" env-default:"nats://localhost:4222"`
	Stream        string        `yaml:"stream" env:"NATS_STREAM" env-default:"ORDER_EVENTS"`
	Subject       string        `yaml:"subject" env:"NATS_SUBJECT" env-default:"orders.events"`
	MaxReconnects int           `yaml:"max_reconnects" env:"NATS_MAX_RECONNECTS" env-default:"-1"`
	ReconnectWait time.Duration `yaml:"reconnect_wait" env:"NATS_RECONNECT_WAIT" env-default:"2s"`
	Timeout       time.Duration `yaml:"timeout" env:"NATS_TIMEOUT" env-default:"5s"`
	RetryBackoff  time.Duration `yaml:"retry_backoff" env:"NATS_RETRY_BACKOFF" env-default:"2s"`
}

type Broker struct {
	Driver string `yaml:"driver" env:"BROKER_DRIVER" env-default:"kafka"`
}

type Idempotency struct {
	Driver     string        `yaml:"driver" env:"IDEMPOTENCY_DRIVER" env-default:"postgres"`
	TTL        time.Duration `yaml:"ttl" env:"IDEMPOTENCY_TTL" env-default:"0s"`
	SQLitePath string        `yaml:"sqlite_path" env:"IDEMPOTENCY_SQLITE_PATH" env-default:"inbox.db"`
	// HTTPKeyTTL bounds Idempotency-Key reservations of the API.
	HTTPKeyTTL time.Duration `yaml:"http_key_ttl" env:"IDEMPOTENCY_HTTP_KEY_TTL" env-default:"30s"`
}

type Publish struct {
	Mode        string        `yaml:"mode" env:"PUBLISH_MODE" env-default:"direct"`
	MaxAttempts int           `yaml:"max_attempts" env:"PUBLISH_MAX_ATTEMPTS" env-default:"4"`
	BaseDelay   time.Duration `yaml:"base_delay" env:"PUBLISH_BASE_DELAY" env-default:"50ms"`
}

type Outbox struct {
	PollInterval time.Duration `yaml:"poll_interval" env:"OUTBOX_POLL_INTERVAL" env-default:"2s"`
	BatchSize    int           `yaml:"batch_size" env:"OUTBOX_BATCH_SIZE" env-default:"10"`
}

// Consumer describes one logical subscriber. Rules use the
// "Attribute=value|value" syntax and combine with AND.
type Consumer struct {
	Name            string   `yaml:"name"`
	Rules           []string `yaml:"rules"`
	Effect          string   `yaml:"effect"`
	BatchSize       int      `yaml:"batch_size"`
	Concurrency     int      `yaml:"concurrency"`
	MaxRedeliveries int      `yaml:"max_redeliveries"`
}

// FilterRules parses the consumer's rules.
func (c Consumer) FilterRules() ([]filter.Rule, error) {
	rules, err := filter.ParseAll(c.Rules)
	if err != nil {
		return nil, fmt.Errorf("consumer %s: %w", c.Name, err)
	}
	return rules, nil
}

// DefaultConsumers is used when the configuration lists none.
func DefaultConsumers() []Consumer {
	return []Consumer{
		{
			Name:            "customer-notifier",
			Rules:           []string{"EventType=OrderCreated|RefundRequested"},
			Effect:          "notify",
			BatchSize:       10,
			Concurrency:     4,
			MaxRedeliveries: 5,
		},
		{
			Name:            "revenue-ledger",
			Rules:           []string{"EventType=OrderCreated", "Segment=Retail|Wholesale"},
			Effect:          "revenue",
			BatchSize:       10,
			Concurrency:     4,
			MaxRedeliveries: 5,
		},
	}
}

// Path returns the config file location, CONFIG_PATH or config.yaml.
func Path() string {
	if p := strings.TrimSpace(os.Getenv("CONFIG_PATH")); p != "" {
		return p
	}
	return "config.yaml"
}

func New() (*Config, error) {
	return Load(Path())
}

// Load reads path, falling back to the environment alone when the file is
// missing. Environment variables override the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config error: %w", err)
		}
		// fallback to env vars if file not found
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	}

	if len(cfg.Consumers) == 0 {
		cfg.Consumers = DefaultConsumers()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks driver names and consumer definitions.
func (c *Config) Validate() error {
	if !oneOf(c.Broker.Driver, BrokerKafka, BrokerNATS, BrokerMemory) {
		return fmt.Errorf("config error: unknown broker driver %q", c.Broker.Driver)
	}
	if !oneOf(c.Idempotency.Driver, StorePostgres, StoreRedis, StoreSQLite, StoreMemory) {
		return fmt.Errorf("config error: unknown idempotency driver %q", c.Idempotency.Driver)
	}
	if !oneOf(c.Publish.Mode, PublishDirect, PublishOutbox) {
		return fmt.Errorf("config error: unknown publish mode %q", c.Publish.Mode)
	}

	seen := make(map[string]bool, len(c.Consumers))
	for _, cons := range c.Consumers {
		if cons.Name == "" {
			return fmt.Errorf("config error: consumer without name")
		}
		if seen[cons.Name] {
			return fmt.Errorf("config error: duplicate consumer %q", cons.Name)
		}
		seen[cons.Name] = true
		if _, err := cons.FilterRules(); err != nil {
			return fmt.Errorf("config error: %w", err)
		}
	}
	return nil
}

// ValidateService checks the settings the api, worker and consumer binaries
// need on top of Validate.
func (c *Config) ValidateService() error {
	if c.Broker.Driver == BrokerMemory {
		return fmt.Errorf("config error: %w", ErrProcessLocalBroker)
	}
	return nil
}

// Consumer returns the consumer called name.
func (c *Config) Consumer(name string) (Consumer, bool) {
	for _, cons := range c.Consumers {
		if cons.Name == name {
			return cons, true
		}
	}
	return Consumer{}, false
}

// SlogLevel maps Log.Level to a slog level, defaulting to info.
func (l Log) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
