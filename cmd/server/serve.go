package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"patientsync/internal/audit"
	auditKafka "patientsync/internal/audit/store/kafka"
	auditMemory "patientsync/internal/audit/store/memory"
	patientHandler "patientsync/internal/patient/handler"
	patientMetrics "patientsync/internal/patient/metrics"
	"patientsync/internal/patient/service"
	patientStore "patientsync/internal/patient/store"
	"patientsync/internal/platform/config"
	"patientsync/internal/platform/httpserver"
	"patientsync/internal/platform/logger"
	"patientsync/internal/platform/metrics"
	"patientsync/internal/platform/redis"
	"patientsync/internal/process"
	processMetrics "patientsync/internal/process/metrics"
	"patientsync/internal/process/store/cache"
	"patientsync/internal/process/store/window"
	"patientsync/internal/registry"
	registryMetrics "patientsync/internal/registry/metrics"
	"patientsync/pkg/platform/httputil"
)

const (
	shutdownTimeout    = 15 * time.Second
	auditBufferSize    = 256
	auditTopicReplicas = 1
	auditPartitions    = 3
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the patientsync HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Bool("migrate", false, "Apply the patients schema before serving (requires DATABASE_URL)")
}

// healthChecker is anything /healthz should ping.
type healthChecker interface {
	Ping(ctx context.Context) error
}

type namedCheck struct {
	name  string
	check func(ctx context.Context) error
}

// localStore is the store contract the server needs: the service's plus Ping.
type localStore interface {
	service.Store
	healthChecker
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log := logger.New(cfg.LogLevel, cfg.LogJSON)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var checks []namedCheck

	store, closeStore, err := buildStore(ctx, cmd, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()
	checks = append(checks, namedCheck{name: "store", check: store.Ping})

	resultCache, windowStore, closeRedis, err := buildProcessStores(ctx, cfg, log, &checks)
	if err != nil {
		return err
	}
	defer closeRedis()

	auditStore, closeAudit, err := buildAuditStore(ctx, cfg, log, &checks)
	if err != nil {
		return err
	}
	defer closeAudit()
	publisher := audit.NewPublisher(auditStore, audit.WithLogger(log), audit.WithAsyncBuffer(auditBufferSize))
	defer publisher.Close(5 * time.Second)

	registryClient := registry.New(cfg.Registry.BaseURL, registry.WithMetrics(registryMetrics.New(reg)))

	processor, err := process.New(registryClient, resultCache, windowStore,
		cfg.Process.RateLimitPerMinute, cfg.Process.CacheTTL,
		process.WithLogger(log),
		process.WithMetrics(processMetrics.New(reg)),
	)
	if err != nil {
		return fmt.Errorf("failed to build processor: %w", err)
	}

	svc := service.New(store, registryClient,
		service.WithLogger(log),
		service.WithAuditPublisher(publisher),
		service.WithMetrics(patientMetrics.New(reg)),
	)

	router := chi.NewRouter()
	router.Get("/healthz", healthHandler(checks))
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	patientHandler.New(svc, processor, log, metrics.New(reg)).Register(router)

	srv := httpserver.New(cfg.Addr, router)
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting patientsync", "addr", cfg.Addr, "registry", cfg.Registry.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func buildStore(ctx context.Context, cmd *cobra.Command, cfg *config.Server, log *slog.Logger) (localStore, func(), error) {
	if cfg.Database.URL == "" {
		log.Info("DATABASE_URL not set, keeping patients in memory")
		return patientStore.NewInMemoryStore(), func() {}, nil
	}

	if migrate, _ := cmd.Flags().GetBool("migrate"); migrate {
		if err := patientStore.Migrate(ctx, cfg.Database.URL); err != nil {
			return nil, nil, err
		}
		log.Info("patients schema applied")
	}

	db, err := patientStore.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns)
	if err != nil {
		return nil, nil, err
	}
	return patientStore.NewPostgres(db), func() { _ = db.Close() }, nil
}

func buildProcessStores(ctx context.Context, cfg *config.Server, log *slog.Logger, checks *[]namedCheck) (process.ResultCache, process.WindowStore, func(), error) {
	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	if client == nil {
		log.Info("REDIS_URL not set, process cache and rate limit are per-instance")
		return cache.NewInMemoryStore(), window.NewInMemoryStore(), func() {}, nil
	}
	*checks = append(*checks, namedCheck{name: "redis", check: client.Health})
	return cache.NewRedisStore(client.Client), window.NewRedisStore(client.Client), func() { _ = client.Close() }, nil
}

func buildAuditStore(ctx context.Context, cfg *config.Server, log *slog.Logger, checks *[]namedCheck) (audit.Store, func(), error) {
	if len(cfg.Audit.Brokers) == 0 {
		log.Info("KAFKA_BROKERS not set, audit events stay in memory")
		return auditMemory.NewInMemoryStore(), func() {}, nil
	}
	kafkaStore, err := auditKafka.New(cfg.Audit.Brokers, cfg.Audit.Topic)
	if err != nil {
		return nil, nil, err
	}
	if err := kafkaStore.EnsureTopic(ctx, auditPartitions, auditTopicReplicas); err != nil {
		kafkaStore.Close()
		return nil, nil, err
	}
	*checks = append(*checks, namedCheck{name: "kafka", check: kafkaStore.Ping})
	return kafkaStore, kafkaStore.Close, nil
}

// healthHandler answers 200 when every dependency responds and 503 naming
// the first one that does not.
func healthHandler(checks []namedCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for _, c := range checks {
			if err := c.check(ctx); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"check":  c.name,
				})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
