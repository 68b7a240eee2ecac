package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/NeuronioAzul/car-dealership-sub000/pkg/logger"
)

// CorrelationIDHeader carries the correlation ID across service boundaries.
const CorrelationIDHeader = "X-Correlation-ID"

// CorrelationID returns middleware that reads the correlation ID from the
// request header, generating one when absent, and stores it on the request
// context so logs and outgoing events carry it.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		ctx := logger.WithCorrelationID(r.Context(), id)
		w.Header().Set(CorrelationIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestLogger returns middleware that logs each HTTP request with method,
// path, status, duration and bytes written.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			ctx := logger.NewContext(r.Context(), log)
			next.ServeHTTP(ww, r.WithContext(ctx))

			logger.WithContext(ctx, log).Info("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.Int("bytes", ww.BytesWritten()),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
