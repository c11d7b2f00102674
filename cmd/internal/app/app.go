// Package app wires the murmur server runtime: config, logging, backends, HTTP routes and the
// chat service with its transports.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"murmur/cmd/internal/chat"
	"murmur/cmd/internal/realtime"
)

// App is the murmur server runtime: it owns the shared clients, the chat service and HTTP wiring.
type App struct {
	cfg Config
	log Logger

	backends *backends
	metrics  *prometheus.Registry

	service *chat.Service
	events  *realtime.EventDispatcher

	// ws is nil when pushes go through the API Gateway transport.
	ws *realtime.WSGateway
}

// New constructs a fully wired App instance from config and logger.
// Shared clients (pool, redis, pebble, AWS) are built here once and injected into the service.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := chat.NewMetrics(reg)
	if err != nil {
		return nil, err
	}

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		log:      log,
		backends: b,
		metrics:  reg,
	}
	if err := a.wire(ctx, metrics); err != nil {
		_ = b.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, metrics *chat.Metrics) error {
	var (
		transport chat.Transport
		sessions  *realtime.Sessions
	)

	switch a.cfg.Transport {
	case TransportAPIGateway:
		t, err := realtime.NewAPIGatewayTransport(ctx, realtime.APIGatewayConfig{
			Endpoint:        a.cfg.APIGWEndpoint,
			Region:          a.cfg.APIGWRegion,
			AccessKeyID:     a.cfg.APIGWAccessKeyID,
			SecretAccessKey: a.cfg.APIGWSecretKey,
			MaxAttempts:     a.cfg.APIGWMaxAttempts,
		}, a.log)
		if err != nil {
			return err
		}
		transport = t
	default:
		sessions = realtime.NewSessions()
		transport = sessions
	}

	broadcaster, err := chat.NewBroadcaster(transport,
		chat.WithPushTimeout(a.cfg.PushTimeout),
		chat.WithConcurrency(a.cfg.FanoutConcurrency),
		chat.WithBroadcastLogger(a.log),
		chat.WithBroadcastMetrics(metrics),
	)
	if err != nil {
		return err
	}

	a.service, err = chat.NewService(a.backends.store, a.backends.registry, broadcaster,
		chat.WithLogger(a.log),
		chat.WithMetrics(metrics),
		chat.WithEventTimeout(a.cfg.EventTimeout),
		chat.WithDefaultRoom(a.cfg.DefaultRoom),
		chat.WithRecentLimit(a.cfg.RecentLimit),
	)
	if err != nil {
		return err
	}

	a.events, err = realtime.NewEventDispatcher(a.log, a.service)
	if err != nil {
		return err
	}

	if sessions != nil {
		a.ws, err = realtime.NewWSGateway(a.log, a.service, sessions, a.cfg.WS)
		if err != nil {
			return err
		}
	}

	a.log.Info("app.wired",
		"transport", a.cfg.Transport,
		"default_room", a.cfg.DefaultRoom,
		"recent_limit", a.cfg.RecentLimit,
	)
	return nil
}

// Handler returns the HTTP handler with every route and the request logging middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a)
	return WithRequestLogging(mux, a.log)
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"store", a.cfg.StoreBackend,
		"registry", a.cfg.RegistryBackend,
		"transport", a.cfg.Transport,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		_ = a.Close(context.Background())
		return fmt.Errorf("app: listen: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		_ = a.Close(shutdownCtx)
		return err
	}

	if err := a.Close(shutdownCtx); err != nil {
		a.log.Error("backends.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

// Close releases the store, registry and shared clients.
func (a *App) Close(ctx context.Context) error {
	return a.backends.Close(ctx)
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
