package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/event"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/inbox"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/order"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/outbox"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/idempotency"
	redisinfra "github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/infrastructure/redis"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/publisher"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/usecase"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	events []event.DomainEvent
	err    error
}

func (s *captureSink) Emit(_ context.Context, ev event.DomainEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

type stubOutbox map[string]*outbox.Event

func (s stubOutbox) GetByID(_ context.Context, id string) (*outbox.Event, error) {
	return s[id], nil
}

type stubInbox map[string][]*inbox.Record

func (s stubInbox) ListByEventID(_ context.Context, id string) ([]*inbox.Record, error) {
	return s[id], nil
}

func newTestRouter(sink usecase.Sink, store idempotency.Store) http.Handler {
	now := time.Now().UTC()
	deliveries := usecase.NewGetDeliveries(
		stubOutbox{"E1": {ID: "E1", Kind: order.KindOrderCreated, Status: outbox.StatusProcessed}},
		stubInbox{"E1": {{Consumer: "notifier", EventID: "E1", ReservedAt: now, CommittedAt: &now}}},
	)
	h := NewHandlers(usecase.NewCreateOrder(sink), usecase.NewRequestRefund(sink), deliveries)
	return NewRouter(h, store)
}

const orderBody = `{"customer_name":"Ada","items":[{"product_id":"p-1","product_name":"Keyboard","quantity":2,"unit_price":"600"}]}`

func TestCreateOrder(t *testing.T) {
	sink := &captureSink{}
	router := newTestRouter(sink, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(orderBody)))

	require.Equal(t, http.StatusCreated, rec.Code)
	var res usecase.CreateOrderResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "1200.00", res.TotalAmount)
	assert.Equal(t, order.SegmentWholesale, res.Segment)
	require.Len(t, sink.events, 1)
	assert.Equal(t, res.EventID, sink.events[0].ID)
}

func TestCreateOrder_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		code int
	}{
		{name: "bad json", body: `{`, code: http.StatusBadRequest},
		{name: "no items", body: `{"customer_name":"Ada","items":[]}`, code: http.StatusBadRequest},
		{name: "broker down", body: orderBody, err: fmt.Errorf("%w: timeout", publisher.ErrBrokerSend), code: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&captureSink{err: tt.err}, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(tt.body)))
			assert.Equal(t, tt.code, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestRequestRefund(t *testing.T) {
	sink := &captureSink{}
	router := newTestRouter(sink, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders/o-1/refund", strings.NewReader(`{"reason":"damaged"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, sink.events, 1)
	var payload order.RefundRequested
	require.NoError(t, sink.events[0].DecodePayload(&payload))
	assert.Equal(t, "o-1", payload.OrderID)
	assert.Equal(t, "damaged", payload.Reason)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders/o-2/refund", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code, "body is optional")
}

func TestGetDeliveries(t *testing.T) {
	router := newTestRouter(&captureSink{}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/E1/deliveries", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var dto usecase.DeliveriesDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	assert.Equal(t, "E1", dto.EventID)
	require.NotNil(t, dto.Outbox)
	assert.Equal(t, outbox.StatusProcessed, dto.Outbox.Status)
	require.Len(t, dto.Inbox, 1)
	assert.Equal(t, "notifier", dto.Inbox[0].Consumer)
}

func TestIdempotencyKey(t *testing.T) {
	sink := &captureSink{}
	store := idempotency.NewMemoryStore()
	router := newTestRouter(sink, store)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(orderBody))
		req.Header.Set("Idempotency-Key", "k-1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusCreated, send().Code)
	second := send()
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Equal(t, "true", second.Header().Get("X-Idempotency-Hit"))
	assert.Len(t, sink.events, 1)
	assert.True(t, store.Committed("/orders#k-1"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(orderBody)))
	assert.Equal(t, http.StatusCreated, rec.Code, "requests without a key are not deduplicated")
	assert.Len(t, sink.events, 2)
}

func TestIdempotencyKey_RejectedRequestCanBeRetried(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := redisinfra.NewStore(client, "http", "api", 30*time.Second).WithCommitTTL(24 * time.Hour)
	sink := &captureSink{}
	router := newTestRouter(sink, store)

	send := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
		req.Header.Set("Idempotency-Key", "k-2")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusBadRequest, send(`{"customer_name":"Ada","items":[]}`).Code)
	state, err := store.State(context.Background(), "/orders#k-2")
	require.NoError(t, err)
	assert.Equal(t, "reserved", state, "a rejected request is not committed")

	mr.FastForward(31 * time.Second)
	assert.Equal(t, http.StatusCreated, send(orderBody).Code)
	assert.Len(t, sink.events, 1)

	mr.FastForward(31 * time.Second)
	assert.Equal(t, http.StatusConflict, send(orderBody).Code, "a committed key outlives the reservation TTL")
	assert.Len(t, sink.events, 1)
}

type downStore struct{}

func (downStore) TryBegin(context.Context, string) (idempotency.Outcome, error) {
	return 0, idempotency.Unavailable("setnx", errors.New("connection refused"))
}

func (downStore) Commit(context.Context, string) error { return nil }

func TestIdempotencyKey_StoreDown(t *testing.T) {
	sink := &captureSink{}
	router := newTestRouter(sink, downStore{})

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(orderBody))
	req.Header.Set("Idempotency-Key", "k-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, sink.events)
}
