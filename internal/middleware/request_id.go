package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// ContextKey namespaces context values this package stores, so a plain
// string key can't collide with one some other package happens to use.
type ContextKey string

// RequestIDKey is the context key RequestID stores the generated id under.
const RequestIDKey ContextKey = "request_id"

// RequestID extracts the caller-supplied X-Request-ID (set by a load
// balancer or another node forwarding a broadcast fan-out call) or mints a
// fresh uuid, echoes it back on the response, and stashes it in the request
// context so Logger and LogFailedRequestBodies can tag every log line for
// that request, including across the cluster broadcast's per-peer calls.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request id RequestID stored in ctx, or "" if
// RequestID was never installed on this request's chain.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
