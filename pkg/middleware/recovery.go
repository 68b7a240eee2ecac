package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/NeuronioAzul/car-dealership-sub000/pkg/httputil"
)

// Recovery returns middleware that recovers from panics in handlers, logs
// the panic with a stack trace, and responds with a 500.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.ErrorContext(r.Context(), "panic recovered",
						slog.Any("panic", rec),
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("stack", string(debug.Stack())),
					)
					httputil.WriteJSON(w, http.StatusInternalServerError, httputil.Response{
						Error: &httputil.ErrorResponse{
							Code:    "INTERNAL_ERROR",
							Message: "internal server error",
						},
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
