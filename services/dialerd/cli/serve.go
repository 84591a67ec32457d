package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nbassil/dialdispatch/internal/admission"
	"github.com/nbassil/dialdispatch/internal/correlation"
	"github.com/nbassil/dialdispatch/internal/crm"
	"github.com/nbassil/dialdispatch/internal/dialer"
	"github.com/nbassil/dialdispatch/internal/dispatch"
	"github.com/nbassil/dialdispatch/internal/hours"
	"github.com/nbassil/dialdispatch/internal/httpapi"
	"github.com/nbassil/dialdispatch/internal/identity"
	"github.com/nbassil/dialdispatch/internal/kafka"
	"github.com/nbassil/dialdispatch/internal/policy"
	"github.com/nbassil/dialdispatch/internal/postgres"
	"github.com/nbassil/dialdispatch/internal/redial"
	redisstore "github.com/nbassil/dialdispatch/internal/redis"
	"github.com/nbassil/dialdispatch/pkg/telemetry"
	"github.com/nbassil/dialdispatch/services/dialerd/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dispatch core",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("data-dir", "./data", "directory for redial partitions and the blocklist")
	serveCmd.Flags().String("provider-url", "http://localhost:8085", "call-placement provider base URL")
	serveCmd.Flags().String("provider-api-key", "", "call-placement provider API key")
	serveCmd.Flags().String("crm-url", "", "CRM base URL for disposition sync; empty disables")
	serveCmd.Flags().String("crm-api-key", "", "CRM API key")
	serveCmd.Flags().String("kafka-brokers", "", "comma-separated Kafka broker addresses; empty disables")
	serveCmd.Flags().String("redis-addr", "", "Redis address (host:port); empty disables the state mirror")
	serveCmd.Flags().String("postgres-dsn", "", "PostgreSQL DSN for the attempt audit trail; empty disables")
	serveCmd.Flags().String("api-addr", ":8080", "operator API listen address")
	serveCmd.Flags().String("metrics-addr", ":9091", "Prometheus metrics server address")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")
	serveCmd.Flags().Duration("tick-interval", 30*time.Minute, "dispatch processing interval")

	bindFlag("data_dir", serveCmd.Flags(), "data-dir")
	bindFlag("provider_url", serveCmd.Flags(), "provider-url")
	bindFlag("provider_api_key", serveCmd.Flags(), "provider-api-key")
	bindFlag("crm_url", serveCmd.Flags(), "crm-url")
	bindFlag("crm_api_key", serveCmd.Flags(), "crm-api-key")
	bindFlag("kafka_brokers", serveCmd.Flags(), "kafka-brokers")
	bindFlag("redis_addr", serveCmd.Flags(), "redis-addr")
	bindFlag("postgres_dsn", serveCmd.Flags(), "postgres-dsn")
	bindFlag("api_addr", serveCmd.Flags(), "api-addr")
	bindFlag("metrics_addr", serveCmd.Flags(), "metrics-addr")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	bindFlag("tick_interval", serveCmd.Flags(), "tick-interval")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// seedPolicy overlays configured scheduling knobs onto the defaults.
func seedPolicy(cfg config.Config) policy.Policy {
	p := policy.Default()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.MaxDailyAttempts > 0 {
		p.MaxDailyAttempts = cfg.MaxDailyAttempts
	}
	if len(cfg.ProgressiveIntervals) > 0 {
		p.ProgressiveIntervals = cfg.ProgressiveIntervals
	}
	if cfg.MaxCallsPerSecond > 0 {
		p.MaxCallsPerSecond = cfg.MaxCallsPerSecond
	}
	if cfg.SameNumberInterval > 0 {
		p.SameNumberInterval = cfg.SameNumberInterval
	}
	if cfg.TickInterval > 0 {
		p.TickInterval = cfg.TickInterval
	}
	if cfg.BatchSize > 0 {
		p.BatchSize = cfg.BatchSize
	}
	if cfg.HoursTimezone != "" {
		weekdays := make([]time.Weekday, 0, len(cfg.HoursWeekdays))
		for _, d := range cfg.HoursWeekdays {
			weekdays = append(weekdays, time.Weekday(d))
		}
		p.Hours = hours.Config{
			Enabled:     cfg.HoursEnabled,
			Timezone:    cfg.HoursTimezone,
			Weekdays:    weekdays,
			StartMinute: cfg.HoursStartMinute,
			EndMinute:   cfg.HoursEndMinute,
			Blackouts:   cfg.HoursBlackouts,
		}
	}
	return p
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	logger := buildLogger(cfg.LogLevel, "dialerd")

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "dialerd", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	pol := seedPolicy(cfg)
	if err := pol.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	store := policy.NewStore(pol)

	fileStore, err := redial.NewFileStore(cfg.DataDir, logger)
	if err != nil {
		return err
	}
	queue, err := redial.NewQueue(store, fileStore, logger)
	if err != nil {
		return fmt.Errorf("load redial queue: %w", err)
	}

	cache := correlation.NewCache()
	limiter := admission.NewLimiter(store)
	pool := identity.NewPool(store, cfg.Identities)

	deps := dispatch.Deps{
		Policy:     store,
		Queue:      queue,
		Calls:      cache,
		Limiter:    limiter,
		Identities: pool,
		Placer:     dialer.NewHTTPClient(cfg.ProviderURL, cfg.ProviderAPIKey),
		Logger:     logger,
	}

	if cfg.CRMURL != "" {
		deps.Leads = crm.NewHTTPClient(cfg.CRMURL, cfg.CRMAPIKey)
	}

	var consumer kafka.Consumer
	if cfg.KafkaBrokers != "" {
		brokers := strings.Split(cfg.KafkaBrokers, ",")
		producer := kafka.NewProducer(brokers)
		defer func() { _ = producer.Close() }()
		deps.Producer = producer

		consumer = kafka.NewConsumer(brokers, kafka.TopicCompletions, "dialdispatch-completions", logger)
		defer func() { _ = consumer.Close() }()
	}

	if cfg.RedisAddr != "" {
		redisClient := redisstore.NewClient(cfg.RedisAddr)
		defer func() { _ = redisClient.Close() }()
		deps.CallState = redisstore.NewCallStateStore(redisClient)
	}

	if cfg.PostgresDSN != "" {
		initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pgPool, err := postgres.NewPool(initCtx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pgPool.Close()
		deps.Attempts = postgres.NewRepository(pgPool)
	}

	processor, err := dispatch.NewProcessor(deps)
	if err != nil {
		return err
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, logger)

	api := httpapi.NewHandler(queue, cache, limiter, pool, store, processor, logger)
	apiServer := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("api server listening", slog.String("addr", cfg.APIAddr))
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.String("error", err.Error()))
		}
	}()

	if consumer != nil {
		go func() {
			if err := consumer.Subscribe(runCtx, processor.HandleCompletionMessage); err != nil {
				logger.Error("completion consumer stopped", slog.String("error", err.Error()))
			}
		}()
	}

	procDone := make(chan error, 1)
	go func() { procDone <- processor.Run(runCtx) }()

	logger.Info("dialerd starting",
		slog.String("data_dir", cfg.DataDir),
		slog.Int("identities", len(cfg.Identities)),
		slog.Duration("tick_interval", store.Snapshot().TickInterval),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	select {
	case <-quit:
		logger.Info("shutting down...")
	case err := <-procDone:
		if err != nil {
			return fmt.Errorf("dispatch processor: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown", slog.String("error", err.Error()))
	}
	runCancel()

	logger.Info("stopped cleanly")
	return nil
}
