// Package simulation publishes generated orders through an in-memory broker
// that duplicates and reorders deliveries, and reports what each consumer did
// with them.
package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/config"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/consumer"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/event"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/order"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/effects"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/idempotency"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/infrastructure/memory"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/publisher"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/usecase"
	"github.com/shopspring/decimal"
)

type Options struct {
	Orders int
	// RefundEvery emits a refund for every n-th order; 0 disables refunds.
	RefundEvery int
	Duplicates  int
	Shuffle     bool
	Seed        int64
	// SendFailures fails that many broker sends up front.
	SendFailures int
	// StoreOutages fails that many TryBegin calls per consumer up front.
	StoreOutages    int
	MaxRedeliveries int
	Consumers       []config.Consumer
	Logger          *slog.Logger
}

// ConsumerReport summarizes one consumer.
type ConsumerReport struct {
	Name         string
	Dispositions map[consumer.Disposition]int
	Effects      int
	// DuplicateEffects lists event ids whose effect ran more than once.
	DuplicateEffects []string
}

type Report struct {
	Published int
	Events    []string
	Consumers []ConsumerReport
}

// Run executes one simulation.
func Run(ctx context.Context, opts Options) (*Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if len(opts.Consumers) == 0 {
		opts.Consumers = config.DefaultConsumers()
	}
	maxRedeliveries := opts.MaxRedeliveries
	if maxRedeliveries == 0 {
		maxRedeliveries = 3
	}

	broker := memory.NewBroker(memory.Config{
		Duplicates:      opts.Duplicates,
		Shuffle:         opts.Shuffle,
		MaxRedeliveries: maxRedeliveries,
		Seed:            opts.Seed,
	})
	defer broker.Close()

	journals := make(map[string]*effects.Journal, len(opts.Consumers))
	for _, cc := range opts.Consumers {
		rules, err := cc.FilterRules()
		if err != nil {
			return nil, err
		}

		journal := effects.NewJournal()
		journals[cc.Name] = journal

		var store idempotency.Store = idempotency.NewMemoryStore()
		if opts.StoreOutages > 0 {
			store = &outageStore{Store: store, remaining: opts.StoreOutages}
		}

		broker.Subscribe(consumer.New(consumer.Config{
			Name:        cc.Name,
			Rules:       rules,
			Derivers:    []event.Deriver{order.RoutingAttributes},
			Concurrency: cc.Concurrency,
		}, store, journal, logger))
	}

	pub := publisher.New(broker, logger, order.RoutingAttributes)
	policy := usecase.RetryPolicy{MaxAttempts: opts.SendFailures + 1, BaseDelay: time.Millisecond, JitterFactor: 0.3}
	sink := usecase.NewDirectSink(pub, policy, logger)

	createOrder := usecase.NewCreateOrder(sink)
	requestRefund := usecase.NewRequestRefund(sink)

	broker.FailNext(opts.SendFailures)

	faker := gofakeit.New(opts.Seed)
	report := &Report{}
	for i := 1; i <= opts.Orders; i++ {
		res, err := createOrder.Execute(ctx, usecase.CreateOrderParams{
			CustomerName: faker.Name(),
			Items:        fakeItems(faker),
		})
		if err != nil {
			return nil, fmt.Errorf("order %d: %w", i, err)
		}
		report.Events = append(report.Events, res.EventID)

		if opts.RefundEvery > 0 && i%opts.RefundEvery == 0 {
			id, err := requestRefund.Execute(ctx, usecase.RequestRefundParams{
				OrderID: res.OrderID,
				Reason:  faker.Sentence(4),
			})
			if err != nil {
				return nil, fmt.Errorf("refund %d: %w", i, err)
			}
			report.Events = append(report.Events, id)
		}
	}
	report.Published = len(report.Events)

	results := broker.Drain(ctx)
	for _, cc := range opts.Consumers {
		journal := journals[cc.Name]
		report.Consumers = append(report.Consumers, ConsumerReport{
			Name:             cc.Name,
			Dispositions:     consumer.Tally(results[cc.Name]),
			Effects:          journal.Total(),
			DuplicateEffects: journal.Duplicates(),
		})
	}

	return report, nil
}

func fakeItems(faker *gofakeit.Faker) []order.Item {
	n := faker.Number(1, 4)
	items := make([]order.Item, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, order.Item{
			ProductID:   faker.UUID(),
			ProductName: faker.ProductName(),
			Quantity:    faker.Number(1, 5),
			UnitPrice:   decimal.NewFromFloat(faker.Price(5, 600)).Round(2),
		})
	}
	return items
}

// outageStore fails the first TryBegin calls as if the backend were down.
type outageStore struct {
	idempotency.Store
	mu        sync.Mutex
	remaining int
}

func (s *outageStore) TryBegin(ctx context.Context, id string) (idempotency.Outcome, error) {
	s.mu.Lock()
	if s.remaining > 0 {
		s.remaining--
		s.mu.Unlock()
		return 0, idempotency.Unavailable("try begin", fmt.Errorf("connection refused"))
	}
	s.mu.Unlock()
	return s.Store.TryBegin(ctx, id)
}
