// Package cfg holds runtime configuration for the edgekit server.
// Precedence: cli flag > env var (EDGEKIT_ prefix) > default.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/keithlinneman/edgekit/internal/log"
)

type App struct {
	LogJSON         bool
	LogLevel        string
	StacktraceLevel string
	HTTPPort        int
	AdminPort       int
	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64

	// quota limiter: max requests per client per window, 0 disables limiting
	RateLimitMax       int
	RateLimitWindowSec int

	// token-bucket smoother in front of the quota limiter
	ThrottlePerSecond float64
	ThrottleBurst     int

	// client identifier resolution
	TrustedHops int

	// CORS decoration of rejection responses
	EnableCORS  bool
	CORSOrigins string

	MaxBodyBytes int64
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.IntVar(&c.RateLimitMax, "rate-limit-max", 100, "max requests per client per window (0 = unlimited)")
	fs.IntVar(&c.RateLimitWindowSec, "rate-limit-window", 60, "rate limit window in seconds (0 disables timed eviction)")
	fs.Float64Var(&c.ThrottlePerSecond, "throttle-per-second", 10, "token refill rate per client for the burst smoother")
	fs.IntVar(&c.ThrottleBurst, "throttle-burst", 30, "burst ceiling per client for the burst smoother")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "number of trusted reverse proxies for X-Forwarded-For (0 = ignore header)")
	fs.BoolVar(&c.EnableCORS, "enable-cors", false, "Apply CORS decoration to rate limit rejections and API routes")
	fs.StringVar(&c.CORSOrigins, "cors-origins", "*", "comma separated list of allowed CORS origins")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 1<<20, "max accepted request body size in bytes")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Rate limiting
	if c.RateLimitMax < 0 {
		errs = append(errs, fmt.Errorf("invalid RATE_LIMIT_MAX %d (must be >= 0)", c.RateLimitMax))
	}
	if c.RateLimitWindowSec < 0 {
		errs = append(errs, fmt.Errorf("invalid RATE_LIMIT_WINDOW %d (must be >= 0)", c.RateLimitWindowSec))
	}
	if c.ThrottlePerSecond < 0 {
		errs = append(errs, fmt.Errorf("invalid THROTTLE_PER_SECOND %.3f (must be >= 0)", c.ThrottlePerSecond))
	}
	if c.ThrottleBurst < 0 {
		errs = append(errs, fmt.Errorf("invalid THROTTLE_BURST %d (must be >= 0)", c.ThrottleBurst))
	}

	// Client IP trust
	if c.TrustedHops < 0 || c.TrustedHops > 10 {
		errs = append(errs, fmt.Errorf("invalid TRUSTED_HOPS %d (must be 0..10)", c.TrustedHops))
	}

	// CORS
	if c.EnableCORS && strings.TrimSpace(c.CORSOrigins) == "" {
		errs = append(errs, fmt.Errorf("CORS_ORIGINS required when ENABLE_CORS=true"))
	}

	if c.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_BODY_BYTES %d (must be >= 0)", c.MaxBodyBytes))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Origins splits the configured CORS origin list.
func (c App) Origins() []string {
	parts := strings.Split(c.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
