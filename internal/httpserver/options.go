package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/edgekit/internal/cors"
	"github.com/keithlinneman/edgekit/internal/health"
	"github.com/keithlinneman/edgekit/internal/httpmw"
	"github.com/keithlinneman/edgekit/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func() // Optional callback for recovered panics, e.g. to increment prometheus counters

	MetricsMW   func(http.Handler) http.Handler
	RateLimitMW func(http.Handler) http.Handler // per-client request quota
	ThrottleMW  func(http.Handler) http.Handler // per-client burst smoothing

	ClientIPOpts httpmw.ClientIPOptions

	// CORS enables preflight handling and response decoration for the
	// whole router when set.
	CORS *cors.Policy

	// MaxBodyBytes caps request bodies, zero uses the default 1 MB.
	MaxBodyBytes int64

	Health    health.Probe
	Readiness health.Probe

	// APIRoutes registers the application's routes on the router.
	APIRoutes func(chi.Router)
}
