package infrastructure

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/config"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/consumer"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/event"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/order"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/effects"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/idempotency"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/infrastructure/kafka"
	natsInfra "github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/infrastructure/nats"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/infrastructure/postgres"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/infrastructure/redis"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/infrastructure/sqlite"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/publisher"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/usecase"

	pgxpool "github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	go_redis "github.com/redis/go-redis/v9"
)

// Derivers are the routing attribute derivers used on both sides of the
// broker.
var Derivers = []event.Deriver{order.RoutingAttributes}

// Factory lazily builds and caches infrastructure clients for one binary.
type Factory struct {
	cfg    *config.Config
	logger *slog.Logger

	mu           sync.Mutex
	pgPool       *pgxpool.Pool
	redisCli     *go_redis.Client
	sqliteDB     *sql.DB
	natsConn     *nats.Conn
	js           jetstream.JetStream
	producer     *kafka.Producer
	memoryStores map[string]*idempotency.MemoryStore
}

func NewFactory(cfg *config.Config) *Factory {
	return &Factory{
		cfg:          cfg,
		logger:       slog.Default(),
		memoryStores: make(map[string]*idempotency.MemoryStore),
	}
}

func (f *Factory) Postgres(ctx context.Context) (*pgxpool.Pool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pgPool != nil {
		return f.pgPool, nil
	}

	var pool *pgxpool.Pool
	var err error

	// Retry connection up to 5 times
	for i := 0; i < 5; i++ {
		pool, err = postgres.NewClient(ctx, postgres.Config{
			Host:     f.cfg.Postgres.Host,
			Port:     f.cfg.Postgres.Port,
			User:     f.cfg.Postgres.User,
			Password: f.cfg.Postgres.Password,
			DBName:   f.cfg.Postgres.DBName,
			MaxConns: f.cfg.Postgres.MaxConns,
		})
		if err == nil {
			break
		}
		f.logger.Warn("failed to connect to postgres, retrying in 2s", "attempt", i+1, "max", 5, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to init postgres after retries: %w", err)
	}

	if err := postgres.Migrate(pool); err != nil {
		pool.Close()
		return nil, err
	}

	f.pgPool = pool
	return pool, nil
}

func (f *Factory) Redis(ctx context.Context) (*go_redis.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.redisCli != nil {
		return f.redisCli, nil
	}

	client, err := redis.NewClient(ctx, redis.Config{
		Addr:      f.cfg.Redis.Addr,
		Password:  f.cfg.Redis.Password,
		DB:        f.cfg.Redis.DB,
		PoolSize:  f.cfg.Redis.PoolSize,
		OpTimeout: f.cfg.Redis.OpTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init redis: %w", err)
	}

	f.redisCli = client
	return client, nil
}

func (f *Factory) SQLite() (*sql.DB, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sqliteDB != nil {
		return f.sqliteDB, nil
	}

	db, err := sqlite.Open(f.cfg.Idempotency.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("failed to init sqlite: %w", err)
	}

	f.sqliteDB = db
	return db, nil
}

func (f *Factory) JetStream(ctx context.Context) (jetstream.JetStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.js != nil {
		return f.js, nil
	}

	conn, js, err := natsInfra.Connect(ctx, natsInfra.Config{
		URL:           f.cfg.NATS.URL,
		Name:          f.cfg.App.Name,
		Stream:        f.cfg.NATS.Stream,
		Subject:       f.cfg.NATS.Subject,
		MaxReconnects: f.cfg.NATS.MaxReconnects,
		ReconnectWait: f.cfg.NATS.ReconnectWait,
		Timeout:       f.cfg.NATS.Timeout,
	}, f.logger)
	if err != nil {
		return nil, err
	}

	f.natsConn = conn
	f.js = js
	return js, nil
}

// Broker returns the publish side of the configured broker.
func (f *Factory) Broker(ctx context.Context) (publisher.Broker, error) {
	switch f.cfg.Broker.Driver {
	case config.BrokerKafka:
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.producer == nil {
			f.producer = kafka.NewProducer(kafka.Config{
				Brokers: f.cfg.Kafka.Brokers,
				Topic:   f.cfg.Kafka.Topic,
			})
		}
		return f.producer, nil
	case config.BrokerNATS:
		js, err := f.JetStream(ctx)
		if err != nil {
			return nil, err
		}
		return natsInfra.NewBroker(js, f.cfg.NATS.Subject), nil
	case config.BrokerMemory:
		return nil, config.ErrProcessLocalBroker
	default:
		return nil, fmt.Errorf("unknown broker driver %q", f.cfg.Broker.Driver)
	}
}

func (f *Factory) Publisher(ctx context.Context) (*publisher.Publisher, error) {
	broker, err := f.Broker(ctx)
	if err != nil {
		return nil, err
	}
	return publisher.New(broker, f.logger, Derivers...), nil
}

// Sink returns where use cases emit events: straight to the broker or into
// the Postgres outbox, depending on the publish mode.
func (f *Factory) Sink(ctx context.Context) (usecase.Sink, error) {
	if f.cfg.Publish.Mode == config.PublishOutbox {
		pool, err := f.Postgres(ctx)
		if err != nil {
			return nil, err
		}
		return usecase.NewOutboxSink(postgres.NewTxManager(pool), postgres.NewOutboxRepository(pool)), nil
	}

	pub, err := f.Publisher(ctx)
	if err != nil {
		return nil, err
	}
	return usecase.NewDirectSink(pub, f.RetryPolicy(), f.logger), nil
}

func (f *Factory) RetryPolicy() usecase.RetryPolicy {
	policy := usecase.DefaultRetryPolicy()
	if f.cfg.Publish.MaxAttempts > 0 {
		policy.MaxAttempts = f.cfg.Publish.MaxAttempts
	}
	if f.cfg.Publish.BaseDelay > 0 {
		policy.BaseDelay = f.cfg.Publish.BaseDelay
	}
	return policy
}

// Store returns the idempotency store of the named consumer.
func (f *Factory) Store(ctx context.Context, consumerName string) (idempotency.Store, error) {
	switch f.cfg.Idempotency.Driver {
	case config.StorePostgres:
		pool, err := f.Postgres(ctx)
		if err != nil {
			return nil, err
		}
		return postgres.NewInboxStore(pool, consumerName), nil
	case config.StoreRedis:
		client, err := f.Redis(ctx)
		if err != nil {
			return nil, err
		}
		return redis.NewStore(client, "inbox", consumerName, f.cfg.Idempotency.TTL), nil
	case config.StoreSQLite:
		db, err := f.SQLite()
		if err != nil {
			return nil, err
		}
		return sqlite.NewStore(db, consumerName), nil
	case config.StoreMemory:
		f.mu.Lock()
		defer f.mu.Unlock()
		s, ok := f.memoryStores[consumerName]
		if !ok {
			s = idempotency.NewMemoryStore()
			f.memoryStores[consumerName] = s
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown idempotency driver %q", f.cfg.Idempotency.Driver)
	}
}

// RequestStore deduplicates API Idempotency-Key headers in Redis.
func (f *Factory) RequestStore(ctx context.Context) (idempotency.Store, error) {
	client, err := f.Redis(ctx)
	if err != nil {
		return nil, err
	}
	return redis.NewStore(client, "http", f.cfg.App.Name, f.cfg.Idempotency.HTTPKeyTTL).
		WithCommitTTL(24 * time.Hour), nil
}

// Consumer builds the consumer described by cc.
func (f *Factory) Consumer(ctx context.Context, cc config.Consumer, journal *effects.Journal) (*consumer.Consumer, error) {
	rules, err := cc.FilterRules()
	if err != nil {
		return nil, err
	}

	store, err := f.Store(ctx, cc.Name)
	if err != nil {
		return nil, err
	}

	deps := effects.Deps{Logger: f.logger.With("consumer", cc.Name), Journal: journal}
	if cc.Effect == effects.NameRevenue {
		if deps.Redis, err = f.Redis(ctx); err != nil {
			return nil, err
		}
	}
	effect, err := effects.Build(cc.Effect, deps)
	if err != nil {
		return nil, fmt.Errorf("consumer %s: %w", cc.Name, err)
	}

	return consumer.New(consumer.Config{
		Name:        cc.Name,
		Rules:       rules,
		Derivers:    Derivers,
		Concurrency: cc.Concurrency,
	}, store, effect, f.logger), nil
}

// RunConsumer feeds c from the configured broker until ctx is cancelled.
func (f *Factory) RunConsumer(ctx context.Context, c *consumer.Consumer, cc config.Consumer) error {
	switch f.cfg.Broker.Driver {
	case config.BrokerKafka:
		src := kafka.NewSource(kafka.SourceConfig{
			Brokers:         f.cfg.Kafka.Brokers,
			Topic:           f.cfg.Kafka.Topic,
			GroupID:         f.cfg.Kafka.GroupPrefix + "." + cc.Name,
			StartOffset:     f.cfg.Kafka.StartOffset,
			BatchSize:       cc.BatchSize,
			MaxRedeliveries: cc.MaxRedeliveries,
			RetryBackoff:    f.cfg.Kafka.RetryBackoff,
		}, f.logger.With("consumer", cc.Name))
		defer src.Close()
		return src.Run(ctx, c)
	case config.BrokerNATS:
		js, err := f.JetStream(ctx)
		if err != nil {
			return err
		}
		src, err := natsInfra.NewSource(ctx, js, natsInfra.SourceConfig{
			Stream:          f.cfg.NATS.Stream,
			Subject:         f.cfg.NATS.Subject,
			Durable:         cc.Name,
			BatchSize:       cc.BatchSize,
			MaxRedeliveries: cc.MaxRedeliveries,
			RetryBackoff:    f.cfg.NATS.RetryBackoff,
		}, f.logger.With("consumer", cc.Name))
		if err != nil {
			return err
		}
		return src.Run(ctx, c)
	case config.BrokerMemory:
		return config.ErrProcessLocalBroker
	default:
		return fmt.Errorf("unknown broker driver %q", f.cfg.Broker.Driver)
	}
}

func (f *Factory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.producer != nil {
		if err := f.producer.Close(); err != nil {
			f.logger.Warn("failed to close kafka producer", "error", err)
		}
	}
	if f.natsConn != nil {
		f.natsConn.Close()
	}
	if f.pgPool != nil {
		f.pgPool.Close()
	}
	if f.redisCli != nil {
		f.redisCli.Close()
	}
	if f.sqliteDB != nil {
		f.sqliteDB.Close()
	}
}
