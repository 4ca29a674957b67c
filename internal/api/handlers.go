package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/order"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/usecase"
	"github.com/go-chi/chi/v5"
)

type Handlers struct {
	createOrderUC   *usecase.CreateOrder
	requestRefundUC *usecase.RequestRefund
	getDeliveriesUC *usecase.GetDeliveries
}

// NewHandlers wires the use cases. getDeliveriesUC may be nil when no
// Postgres is configured; the route is then not registered.
func NewHandlers(createOrderUC *usecase.CreateOrder, requestRefundUC *usecase.RequestRefund, getDeliveriesUC *usecase.GetDeliveries) *Handlers {
	return &Handlers{
		createOrderUC:   createOrderUC,
		requestRefundUC: requestRefundUC,
		getDeliveriesUC: getDeliveriesUC,
	}
}

func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerName string       `json:"customer_name"`
		Items        []order.Item `json:"items"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.createOrderUC.Execute(r.Context(), usecase.CreateOrderParams{
		CustomerName: req.CustomerName,
		Items:        req.Items,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

func (h *Handlers) RequestRefund(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	eventID, err := h.requestRefundUC.Execute(r.Context(), usecase.RequestRefundParams{
		OrderID: id,
		Reason:  req.Reason,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":   "refund_requested",
		"event_id": eventID,
	})
}

func (h *Handlers) GetDeliveries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deliveries, err := h.getDeliveriesUC.Execute(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	writeJSON(w, http.StatusOK, deliveries)
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, usecase.ErrInvalidOrder) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusServiceUnavailable, "event could not be published, retry later")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
