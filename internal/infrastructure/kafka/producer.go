package kafka

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/event"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// HeaderMessageID carries the id returned by Send.
const HeaderMessageID = "MessageId"

// batchTimeout caps how long WriteMessages waits for more records. Send
// writes one record at a time, so the kafka-go default of 1s would be pure
// latency.
const batchTimeout = 10 * time.Millisecond

type Config struct {
	Brokers []string
	Topic   string
}

// Producer is a publisher.Broker writing one record per envelope. Envelope
// attributes travel as record headers. The writer makes a single attempt;
// retries belong to the caller.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(cfg Config) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		MaxAttempts:            1,
		BatchTimeout:           batchTimeout,
		RequiredAcks:           kafka.RequireAll,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}

	return &Producer{writer: w}
}

func (p *Producer) Send(ctx context.Context, env event.Envelope) (string, error) {
	msgID := uuid.NewString()
	if err := p.writer.WriteMessages(ctx, toMessage(env, msgID)); err != nil {
		return "", fmt.Errorf("failed to write message: %w", err)
	}
	return msgID, nil
}

func (p *Producer) GetTopic() string {
	return p.writer.Topic
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// toMessage keys records by order id when present so events of one order
// stay on one partition.
func toMessage(env event.Envelope, msgID string) kafka.Message {
	key := env.Attributes[event.AttrOrderID]
	if key == "" {
		key = env.Attributes[event.AttrEventID]
	}

	names := make([]string, 0, len(env.Attributes))
	for k := range env.Attributes {
		names = append(names, k)
	}
	sort.Strings(names)

	headers := make([]kafka.Header, 0, len(names)+1)
	for _, k := range names {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(env.Attributes[k])})
	}
	headers = append(headers, kafka.Header{Key: HeaderMessageID, Value: []byte(msgID)})

	return kafka.Message{
		Key:     []byte(key),
		Value:   env.Body,
		Headers: headers,
	}
}

func toEnvelope(msg kafka.Message) event.Envelope {
	attrs := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		if h.Key == HeaderMessageID {
			continue
		}
		attrs[h.Key] = string(h.Value)
	}
	return event.Envelope{Body: msg.Value, Attributes: attrs}
}
