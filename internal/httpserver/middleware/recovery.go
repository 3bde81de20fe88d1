package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/davidbz/conduit/internal/observability"
)

// Recovery turns a panic in a downstream handler into a 500 response.
// http.ErrAbortHandler is re-raised so net/http can drop the connection.
func Recovery() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler { //nolint:errorlint,err113 // Sentinel comparison on a recovered value
					panic(rec)
				}
				observability.FromContext(r.Context()).Error("panic recovered",
					observability.String("method", r.Method),
					observability.String("path", r.URL.Path),
					zap.Any("panic", rec),
					zap.StackSkip("stack", 1),
				)
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
