package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keithlinneman/edgekit/internal/apihttp"
	"github.com/keithlinneman/edgekit/internal/cfg"
	"github.com/keithlinneman/edgekit/internal/cors"
	"github.com/keithlinneman/edgekit/internal/health"
	"github.com/keithlinneman/edgekit/internal/httpmw"
	"github.com/keithlinneman/edgekit/internal/httpserver"
	"github.com/keithlinneman/edgekit/internal/log"
	"github.com/keithlinneman/edgekit/internal/metrics"
	"github.com/keithlinneman/edgekit/internal/opshttp"
	"github.com/keithlinneman/edgekit/internal/otelx"
	"github.com/keithlinneman/edgekit/internal/prof"
	"github.com/keithlinneman/edgekit/internal/ratelimit"
	v "github.com/keithlinneman/edgekit/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Get build/version info
	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// Fill in config from environment variables with prefix EDGEKIT_ and validate
	cfg.FillFromEnv(flag.CommandLine, "EDGEKIT_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	// validate config
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid stacktrace level %s: %v\n", conf.StacktraceLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:             v.AppName,
		Level:           lvl,
		StacktraceLevel: stLvl,
		JsonFormat:      conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	// no-op for slog/stderr, but here if we swap backends in the future to ensure any buffered logs are flushed on shutdown
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"pyro_server", conf.PyroServer,
		"pyro_tenant", conf.PyroTenantID,
		"trace_sample", conf.TraceSample,
		"rate_limit_max", conf.RateLimitMax,
		"rate_limit_window", conf.RateLimitWindowSec,
		"throttle_per_second", conf.ThrottlePerSecond,
		"throttle_burst", conf.ThrottleBurst,
		"trusted_hops", conf.TrustedHops,
		"enable_cors", conf.EnableCORS,
	)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		AuthToken:     "",
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"build_id":  vi.BuildId,
			"source":    "go-agent",
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// Setup otel for tracing
	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// Setup metrics / admin listener
	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", vi)
	m.SetProfilingActive(conf.EnablePyroscope)

	// CORS policy shared by the router and the rate limiter so 429
	// rejections carry the same decoration as normal responses
	var corsPolicy *cors.Policy
	if conf.EnableCORS {
		corsPolicy = cors.Default()
		corsPolicy.AllowedOrigins = conf.Origins()
	}

	// Per-client request quota. Rejections keep counting against the
	// window, and the eviction timer tracks the most recent client.
	quota := ratelimit.NewQuota(
		ratelimit.WithQuota(conf.RateLimitMax),
		ratelimit.WithWindow(time.Duration(conf.RateLimitWindowSec)*time.Second),
		ratelimit.WithCORS(corsPolicy),
		// increment prometheus counter on each denied request
		ratelimit.WithOnDenied(func(clientID string) {
			m.IncQuotaDenied()
		}),
		// log once per window when a client first crosses the quota
		ratelimit.WithOnQuotaReached(func(clientID string, counts map[string]int) {
			L.Warn(ctx, "request quota reached",
				"client", clientID,
				"tracked_clients", len(counts),
			)
		}),
	)
	m.RegisterTrackedClients("quota", func() float64 {
		return float64(quota.TrackedClients())
	})

	// Token-bucket smoother in front of the quota to absorb bursts
	throttle := ratelimit.NewThrottle(ctx,
		ratelimit.WithRate(conf.ThrottlePerSecond, conf.ThrottleBurst),
		ratelimit.WithThrottleOnDenied(func(clientID string) {
			m.IncThrottleDenied()
		}),
		// only log the first time a client is denied each time it is swept from the map
		ratelimit.WithOnFirstDenied(func(clientID string) {
			L.Warn(ctx, "throttle triggered", "client", clientID)
		}),
		ratelimit.WithOnCapacity(func(clientID string) {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "throttle capacity reached, rejecting new clients until some are evicted")
		}),
	)
	m.RegisterTrackedClients("throttle", func() float64 {
		return float64(throttle.TrackedClients())
	})

	// setup v1 API routes
	api := apihttp.NewAPI(L, conf.MaxBodyBytes)

	// setup toggle for server shutdown
	var gate health.ShutdownGate
	readiness := gate.Probe()

	// start public http server
	httpStop, err := httpserver.Start(
		ctx,
		&httpserver.Options{
			Logger:       L,
			Port:         conf.HTTPPort,
			UseRecoverMW: true,
			OnPanic:      m.IncHttpPanic,
			MetricsMW:    m.Middleware,
			RateLimitMW:  quota.Middleware,
			ThrottleMW:   throttle.Middleware,
			ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
			CORS:         corsPolicy,
			MaxBodyBytes: conf.MaxBodyBytes,
			Health:       health.Fixed(true, ""),
			Readiness:    readiness,
			APIRoutes:    api.RegisterRoutes,
		},
	)
	if err != nil {
		L.Error(ctx, err, "failed to start http listener")
		os.Exit(1)
	}
	defer func() { _ = httpStop(context.Background()) }()

	// start admin/ops listener to serve metrics, health checks, pprof and any future admin APIs
	// sg restricts inbound to internal monitoring infrastructure
	// we reject connections from public ips in middleware to prevent
	// accidental exposure if sg is misconfigured or load balancer ever sends traffic there
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// block until signal so we dont exit
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// wait for ctrl+c / sigterm
	<-sigCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness checks to drain connections
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	// will make sleep time tunable in the future
	L.Info(context.Background(), "sleeping 60s for in-flight and load balancer health checks to drain")
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(60 * time.Second):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	if err := httpStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "app http server shutdown")
	}

	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
	os.Exit(0)
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	conn.Write([]byte("READY=1"))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
