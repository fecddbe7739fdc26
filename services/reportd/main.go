package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"lendpool/observability/logging"
	telemetry "lendpool/observability/otel"
	"lendpool/services/reportd/collector"
	"lendpool/services/reportd/config"
	"lendpool/services/reportd/export"
	"lendpool/services/reportd/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/reportd/config.yaml", "path to reportd configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LENDPOOL_ENV"))
	logger := logging.Setup("reportd", env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "reportd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		log.Fatalf("reportd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("reportd: load config: %v", err)
	}

	store, err := storage.Open(cfg.Database)
	if err != nil {
		log.Fatalf("reportd: open storage: %v", err)
	}

	client, err := collector.NewClient(cfg.NodeURL, cfg.RequestTimeout.Duration)
	if err != nil {
		log.Fatalf("reportd: node client: %v", err)
	}
	poller, err := collector.New(client, store, cfg.PollInterval.Duration, logger)
	if err != nil {
		log.Fatalf("reportd: collector: %v", err)
	}

	exporter, err := export.NewExporter(store, cfg.Export.Dir, logger)
	if err != nil {
		log.Fatalf("reportd: exporter: %v", err)
	}
	scheduler := export.NewScheduler(export.SchedulerConfig{
		Exporter:  exporter,
		RunHour:   cfg.Export.Hour,
		RunMinute: cfg.Export.Minute,
		Logger:    logger,
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go scheduler.Start(rootCtx)

	logger.Info("reportd started",
		"node", cfg.NodeURL,
		"interval", cfg.PollInterval.Duration.String(),
		"database", cfg.Database,
	)
	if err := poller.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("reportd: collector exited: %v", err)
	}
}
