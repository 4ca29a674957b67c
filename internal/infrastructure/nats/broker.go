package nats

import (
	"context"
	"fmt"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/event"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher is the subset of jetstream.JetStream the broker uses.
type Publisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Broker publishes envelopes to a JetStream subject. The event id is used as
// the JetStream message id, so the server drops republishes of one event
// inside its duplicate window.
type Broker struct {
	js      Publisher
	subject string
}

func NewBroker(js Publisher, subject string) *Broker {
	return &Broker{js: js, subject: subject}
}

// Send returns "<stream>:<sequence>" as the message id.
func (b *Broker) Send(ctx context.Context, env event.Envelope) (string, error) {
	ack, err := b.js.PublishMsg(ctx, toMsg(b.subject, env), jetstream.WithMsgID(env.Attributes[event.AttrEventID]))
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", b.subject, err)
	}
	return fmt.Sprintf("%s:%d", ack.Stream, ack.Sequence), nil
}

func toMsg(subject string, env event.Envelope) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = env.Body
	for k, v := range env.Attributes {
		msg.Header[k] = []string{v}
	}
	return msg
}

func toEnvelope(data []byte, header nats.Header) event.Envelope {
	attrs := make(map[string]string, len(header))
	for k, vs := range header {
		if len(vs) == 0 || k == jetstream.MsgIDHeader {
			continue
		}
		attrs[k] = vs[0]
	}
	return event.Envelope{Body: data, Attributes: attrs}
}
