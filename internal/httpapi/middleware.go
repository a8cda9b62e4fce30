package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/emmanuel-dcoder/shopping-api/internal/observability"
)

const userHeader = "X-User-ID"

type ctxKey int

const userIDKey ctxKey = iota

// RequireUser rejects requests without an X-User-ID header and stores
// the caller's id in the request context.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := r.Header.Get(userHeader)
		if uid == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "X-User-ID header is required"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, uid)))
	})
}

func userID(r *http.Request) string {
	uid, _ := r.Context().Value(userIDKey).(string)
	return uid
}

// RequestMetrics measures request duration and reports it per route
// pattern, so path parameters do not explode the label space.
func RequestMetrics(m observability.Metrics) func(http.Handler) http.Handler {
	if m == nil {
		m = observability.Noop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			durMs := float64(time.Since(start).Microseconds()) / 1000.0

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			m.ObserveHTTP(r.Method, route, ww.Status(), durMs)
		})
	}
}
