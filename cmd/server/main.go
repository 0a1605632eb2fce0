// user-notes server: users keyed by CPF with nested notes, served as a JSON
// REST API and as MCP tools.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kuitang/user-notes/internal/api"
	"github.com/kuitang/user-notes/internal/config"
	"github.com/kuitang/user-notes/internal/events"
	"github.com/kuitang/user-notes/internal/mcp"
	"github.com/kuitang/user-notes/internal/metrics"
	"github.com/kuitang/user-notes/internal/obs"
	"github.com/kuitang/user-notes/internal/ratelimit"
	"github.com/kuitang/user-notes/internal/store"
	"github.com/kuitang/user-notes/internal/users"
)

// application holds the wired handler and the resources that need closing.
type application struct {
	handler   http.Handler
	health    *api.Health
	limiter   *ratelimit.RateLimiter
	publisher events.Publisher
}

func main() {
	obs.Init()
	logger := obs.Pkg("main")

	cfg, err := config.LoadConfig(config.ParseFlags())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg.PrintStartupSummary()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("server_failed", "error", err)
		os.Exit(1)
	}
}

// run serves until ctx is cancelled, then drains in-flight requests.
func run(ctx context.Context, cfg *config.Config) error {
	logger := obs.Pkg("main")

	publisher, err := newPublisher(cfg)
	if err != nil {
		return err
	}
	app := newApplication(cfg, publisher)
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("shutdown_close_failed", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("server_shutting_down", "timeout", cfg.ShutdownTimeout.String())
	app.health.Drain()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newPublisher returns the Kafka publisher when brokers are configured, and
// a no-op publisher otherwise.
func newPublisher(cfg *config.Config) (events.Publisher, error) {
	if !cfg.EventsEnabled() {
		return events.Noop{}, nil
	}
	publisher, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		return nil, fmt.Errorf("create kafka publisher: %w", err)
	}
	return publisher, nil
}

// newApplication wires the store, service and HTTP surfaces.
//
// Metrics and access logging wrap the mux directly so both see the matched
// route pattern.
func newApplication(cfg *config.Config, publisher events.Publisher) *application {
	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	// Delivery runs off the request path; failures are logged and counted
	// from the delivery goroutine.
	async := events.NewAsyncPublisher(publisher, events.AsyncOptions{
		OnError: func(ctx context.Context, e events.Event, err error) {
			m.EventFailed(string(e.Type))
			obs.From(ctx).With("pkg", "events").Warn("event_publish_failed", "type", e.Type, "user_id", e.UserID, "error", err)
		},
	})

	svc := users.NewService(store.New(),
		users.WithPublisher(async),
		users.WithMetrics(m),
	)

	var limiter *ratelimit.RateLimiter
	var wrap func(http.Handler) http.Handler
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewRateLimiter(cfg.RateLimitConfig)
		wrap = ratelimit.RateLimitMiddleware(limiter, ratelimit.ClientKeyFunc(cfg.TrustXFF), func(key string) {
			obs.Pkg("ratelimit").Warn("rate_limited", "client", key)
		})
	} else {
		wrap = func(next http.Handler) http.Handler { return next }
	}

	health := &api.Health{}
	mux := http.NewServeMux()
	api.NewHandler(svc).RegisterRoutes(mux, wrap)
	mux.Handle("GET /healthz", health)
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}
	if cfg.MCPEnabled {
		mountMCPRoute(mux, "/mcp", wrap(mcp.NewServer(svc)))
	}

	return &application{
		handler:   obs.RequestContextMiddleware(obs.AccessLogMiddleware("http", m.Middleware(mux))),
		health:    health,
		limiter:   limiter,
		publisher: async,
	}
}

// mountMCPRoute registers every Streamable HTTP method on path. The MCP
// handler answers methods it does not serve itself.
func mountMCPRoute(mux *http.ServeMux, path string, handler http.Handler) {
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions} {
		mux.Handle(method+" "+path, handler)
	}
}

// Close stops the limiter cleanup loop, drains queued events and closes the
// publisher.
func (a *application) Close() error {
	if a.limiter != nil {
		a.limiter.Stop()
	}
	if a.publisher != nil {
		return a.publisher.Close()
	}
	return nil
}
