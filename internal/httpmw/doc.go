// Package httpmw provides HTTP middleware for the public-facing edgekit
// listener.
//
// Middleware is composed in a specific order in httpserver.NewHandler:
// security headers, panic recovery, request ID, client IP extraction,
// rate limiting, OTEL tracing, metrics, structured logging, and the chi
// router.
//
// Each middleware is an independent function that can be tested,
// reordered, or removed individually. User-supplied data (query params,
// user-agent, arbitrary headers) is intentionally excluded from logs to
// prevent PII leaks and log injection.
package httpmw
