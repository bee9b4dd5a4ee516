package middleware

import (
	"context"
	"net/http"

	"github.com/ayo6706/shift-donations/internal/service"
)

// TraceMiddleware ensures each request has a trace identifier propagated via context and headers.
// The same id is handed to services so their logs and audit rows carry it.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = service.NewTraceID()
		}
		ctx := contextWithTraceID(r.Context(), traceID)
		ctx = service.WithTraceID(ctx, traceID)
		w.Header().Set("X-Trace-ID", traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func contextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceContextKey, traceID)
}
