package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	appImporting "github.com/ahrav/statbus-sync/internal/app/importing"
	"github.com/ahrav/statbus-sync/internal/config"
	"github.com/ahrav/statbus-sync/internal/config/fileloader"
	"github.com/ahrav/statbus-sync/internal/config/viperloader"
	"github.com/ahrav/statbus-sync/internal/debug"
	domain "github.com/ahrav/statbus-sync/internal/domain/importing"
	"github.com/ahrav/statbus-sync/internal/infra/postgrest"
	"github.com/ahrav/statbus-sync/internal/infra/sse"
	importStore "github.com/ahrav/statbus-sync/internal/infra/storage/importing/postgres"
	"github.com/ahrav/statbus-sync/pkg/common/logger"
	"github.com/ahrav/statbus-sync/pkg/common/otel"
)

// timeContextLister is implemented by both data backends.
type timeContextLister interface {
	ListTimeContexts(ctx context.Context) ([]domain.TimeContext, error)
}

// app is everything a command needs, built from configuration.
type app struct {
	cfg    *config.Config
	log    *logger.Logger
	tracer trace.Tracer
	pool   *pgxpool.Pool

	client   domain.DataClient
	contexts timeContextLister
	svc      *appImporting.Service

	closers []func(context.Context)
}

func newLogger(hostname, level string) *logger.Logger {
	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("IMPORT-SYNC-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
		"build":    build,
	}

	// Command output owns stdout.
	return logger.NewWithMetadata(os.Stderr, logger.ParseLevel(level), svcName, traceIDFn, logEvents, metadata)
}

func loadConfig(ctx context.Context, flags *rootFlags) (*config.Config, error) {
	var loader config.Loader = viperloader.New(flags.configPath)
	if flags.strictConfig {
		if flags.configPath == "" {
			return nil, errors.New("--strict-config requires --config")
		}
		loader = fileloader.NewFileLoader(flags.configPath)
	}
	return loader.Load(ctx)
}

// setup builds the app. The caller must call close.
func setup(ctx context.Context, flags *rootFlags, hostname string) (*app, error) {
	cfg, err := loadConfig(ctx, flags)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	a := &app{cfg: cfg, log: newLogger(hostname, cfg.LogLevel)}
	if err := a.init(ctx, hostname); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context, hostname string) error {
	cfg, log := a.cfg, a.log

	// -------------------------------------------------------------------------
	// GOMAXPROCS
	log.Debug(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0))

	// -------------------------------------------------------------------------
	// Start Tracing Support
	var mp metric.MeterProvider = metricnoop.NewMeterProvider()
	a.tracer = tracenoop.NewTracerProvider().Tracer(cfg.Otel.ServiceName)
	if cfg.Otel.Enabled {
		log.Info(ctx, "startup", "status", "initializing tracing support")

		providers, teardown, err := otel.InitTelemetry(log, otel.Config{
			ServiceName:      cfg.Otel.ServiceName,
			ExporterEndpoint: cfg.Otel.Endpoint,
			Probability:      cfg.Otel.Probability,
			ResourceAttributes: map[string]string{
				"library.language": "go",
				"host.name":        hostname,
				"service.version":  build,
			},
			InsecureExporter: cfg.Otel.Insecure,
		})
		if err != nil {
			return fmt.Errorf("starting tracing: %w", err)
		}
		a.closers = append(a.closers, teardown)
		a.tracer = providers.Tracer.Tracer(cfg.Otel.ServiceName)
		mp = providers.Meter
	}

	// -------------------------------------------------------------------------
	// Database Support
	if cfg.Backend == config.BackendPostgres || cfg.Transport == config.TransportListen {
		poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("parsing db config: %w", err)
		}
		poolCfg.MaxConns = 4
		poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return fmt.Errorf("creating db pool: %w", err)
		}
		a.pool = pool
		a.closers = append(a.closers, func(context.Context) { pool.Close() })
	}

	// -------------------------------------------------------------------------
	// Data Client
	switch cfg.Backend {
	case config.BackendPostgres:
		store := importStore.NewStore(a.pool, a.tracer)
		a.client, a.contexts = store, store
	default:
		client, err := postgrest.NewClient(postgrest.Config{
			BaseURL:     cfg.RestURL,
			AccessToken: cfg.AccessToken,
			RateLimit:   cfg.RateLimit,
			RateBurst:   cfg.RateBurst,
			Timeout:     cfg.RequestTimeout,
		}, log, a.tracer)
		if err != nil {
			return fmt.Errorf("creating postgrest client: %w", err)
		}
		a.client, a.contexts = client, client
	}

	// -------------------------------------------------------------------------
	// Event Transport
	var dialer domain.StreamDialer
	switch cfg.Transport {
	case config.TransportListen:
		dialer = importStore.NewListenDialer(a.pool, log, a.tracer)
	default:
		d, err := sse.NewDialer(sse.DialerConfig{AppURL: cfg.AppURL, AccessToken: cfg.AccessToken}, log, a.tracer)
		if err != nil {
			return fmt.Errorf("creating event stream dialer: %w", err)
		}
		dialer = d
	}

	// -------------------------------------------------------------------------
	// Import Sync Service
	metrics, err := appImporting.NewSyncMetrics(mp)
	if err != nil {
		return fmt.Errorf("creating metrics collector: %w", err)
	}

	client := a.client
	a.svc = appImporting.NewService(appImporting.ServiceConfig{
		ClientFactory:   func(context.Context) (domain.DataClient, error) { return client, nil },
		Dialer:          dialer,
		Metrics:         metrics,
		Logger:          log,
		Tracer:          a.tracer,
		FreshnessWindow: cfg.FreshnessWindow,
	})
	a.closers = append(a.closers, func(context.Context) { a.svc.Close() })

	log.Debug(ctx, "startup", "status", "service ready",
		"backend", cfg.Backend,
		"transport", cfg.Transport,
	)
	return nil
}

// startDebug serves diagnostics in the background when configured.
func (a *app) startDebug(ctx context.Context) {
	if a.cfg.DebugAddr == "" {
		return
	}

	mux, err := debug.Mux()
	if err != nil {
		a.log.Error(ctx, "startup", "status", "debug router unavailable", "msg", err)
		return
	}
	srv := &http.Server{
		Addr:              a.cfg.DebugAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          logger.NewStdLogger(a.log, logger.LevelError),
	}
	a.closers = append(a.closers, func(ctx context.Context) { _ = srv.Shutdown(ctx) })

	go func() {
		a.log.Info(ctx, "startup", "status", "debug router started", "host", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error(ctx, "shutdown", "status", "debug router closed", "host", srv.Addr, "msg", err)
		}
	}()
}

// loadTimeContexts feeds the server's time contexts into the selector.
func (a *app) loadTimeContexts(ctx context.Context) error {
	all, err := a.contexts.ListTimeContexts(ctx)
	if err != nil {
		return err
	}
	a.svc.TimeContexts().SetTimeContexts(all, nil)
	return nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
}
