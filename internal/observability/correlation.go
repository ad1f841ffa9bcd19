// ABOUTME: Correlation IDs tying one scan request together across HTTP, NATS and logs
// ABOUTME: Caller-supplied IDs are accepted only when short and header-safe

package observability

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// CorrelationIDHeader carries the ID on HTTP requests and NATS messages.
const CorrelationIDHeader = "X-Correlation-ID"

// maxCorrelationIDLen bounds caller-supplied IDs.
const maxCorrelationIDLen = 128

type correlationKey struct{}

// CorrelationID identifies one request end to end.
type CorrelationID string

func (c CorrelationID) String() string { return string(c) }

// NewCorrelationID returns a random UUID-based ID.
func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.NewString())
}

// validCorrelationID accepts printable ASCII without spaces, so a
// caller-supplied value cannot break log lines or response headers.
func validCorrelationID(s string) bool {
	if s == "" || len(s) > maxCorrelationIDLen {
		return false
	}
	for i := range len(s) {
		if s[i] <= ' ' || s[i] > '~' {
			return false
		}
	}
	return true
}

// WithCorrelationID stores id in ctx.
func WithCorrelationID(ctx context.Context, id CorrelationID) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// FromContext returns the ID stored in ctx, or "".
func FromContext(ctx context.Context) CorrelationID {
	id, _ := ctx.Value(correlationKey{}).(CorrelationID)
	return id
}

// EnsureCorrelationID stores candidate in ctx when it is a usable ID and a
// fresh one otherwise.
func EnsureCorrelationID(ctx context.Context, candidate string) (context.Context, CorrelationID) {
	id := CorrelationID(candidate)
	if !validCorrelationID(candidate) {
		id = NewCorrelationID()
	}
	return WithCorrelationID(ctx, id), id
}

// CorrelationMiddleware attaches the request's ID to its context and echoes
// it in the response.
func CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, id := EnsureCorrelationID(r.Context(), r.Header.Get(CorrelationIDHeader))
		w.Header().Set(CorrelationIDHeader, id.String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
