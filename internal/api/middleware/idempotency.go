package middleware

import (
	"log/slog"
	"net/http"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/idempotency"
)

const HeaderIdempotencyKey = "Idempotency-Key"

// Idempotency rejects a repeated Idempotency-Key with 409. It reuses the
// consumer-side primitive: the key is reserved before the handler runs and
// committed once the handler answered 2xx. A reservation left by a rejected
// or failed request only goes away with the store TTL, so the client may fix
// the request and retry with the same key. Requests without a key
// pass through.
func Idempotency(store idempotency.Store, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Only apply to state-changing methods
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(HeaderIdempotencyKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			outcome, err := store.TryBegin(ctx, r.URL.Path+"#"+key)
			if err != nil {
				logger.Warn("idempotency store unavailable", "error", err)
				w.Header().Set("Retry-After", "1")
				writeJSONError(w, http.StatusServiceUnavailable, "idempotency check unavailable")
				return
			}
			if outcome == idempotency.AlreadyProcessed {
				w.Header().Set("X-Idempotency-Hit", "true")
				writeJSONError(w, http.StatusConflict, "request already processed")
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status < 200 || rec.status >= 300 {
				return
			}
			if err := store.Commit(ctx, r.URL.Path+"#"+key); err != nil {
				logger.Warn("failed to commit idempotency key", "error", err)
			}
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
