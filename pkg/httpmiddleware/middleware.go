// Package httpmiddleware provides the HTTP middleware chain for the API
// server: panic recovery, request ids, request-scoped logging, OpenTelemetry
// instrumentation, and CORS.
package httpmiddleware

import "net/http"

// Middleware wraps an http.Handler with additional behaviour.
type Middleware func(http.Handler) http.Handler

// Wrap applies the middlewares to h in reverse order, so the first listed
// middleware is the outermost one.
func Wrap(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
