// Package middleware holds the HTTP middleware of the conduit server.
package middleware

import (
	"net/http"
	"slices"

	"github.com/rs/cors"

	"github.com/davidbz/conduit/internal/config"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain composes middlewares; the first one sees the request first.
func Chain(middlewares ...Middleware) Middleware {
	return func(final http.Handler) http.Handler {
		for _, mw := range slices.Backward(middlewares) {
			final = mw(final)
		}
		return final
	}
}

// BuildMiddlewareChain composes the server chain: CORS, then Trace, then
// Recovery, so a recovered panic is logged with the request's trace ids.
func BuildMiddlewareChain(corsConfig *config.CORSConfig) Middleware {
	return Chain(
		CORS(corsConfig),
		Trace(),
		Recovery(),
	)
}

// CORS answers preflight requests with rs/cors. Callers may always send
// their own X-Request-Id, and both id headers are readable from scripts
// so a streamed reply can be matched with server logs. A nil config
// disables CORS handling.
func CORS(cfg *config.CORSConfig) Middleware {
	if cfg == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	allowed := slices.Clone(cfg.AllowedHeaders)
	if !slices.Contains(allowed, requestHeader) {
		allowed = append(allowed, requestHeader)
	}

	return cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   allowed,
		ExposedHeaders:   []string{traceHeader, requestHeader},
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	}).Handler
}
