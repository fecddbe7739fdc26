package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"lendpool/cmd/internal/passphrase"
	"lendpool/config"
	"lendpool/core"
	"lendpool/gateway"
	gatewayconfig "lendpool/gateway/config"
	"lendpool/observability/logging"
	telemetry "lendpool/observability/otel"
	"lendpool/rpc"
	"lendpool/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LENDPOOL_ENV"))
	logger := logging.Setup("lendpoold", env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "lendpoold",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		logger.Error("failed to initialise telemetry", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		logger.Error("invalid config", slog.Any("error", err))
		os.Exit(1)
	}

	tokenSource := passphrase.NewOptionalSource(cfg.RPC.AdminTokenEnv,
		"Enter RPC admin token (blank leaves privileged methods disabled): ")
	adminToken, err := tokenSource.Get()
	if err != nil {
		logger.Error("failed to resolve admin token", slog.Any("error", err))
		os.Exit(1)
	}
	if adminToken != "" {
		// Export the prompted token so the RPC server finds it under the
		// configured variable.
		if err := os.Setenv(cfg.RPC.AdminTokenEnv, adminToken); err != nil {
			logger.Error("failed to export admin token", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		logger.Warn("admin token not configured; privileged RPC methods are disabled",
			slog.String("variable", cfg.RPC.AdminTokenEnv))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	genesis, err := cfg.NodeGenesis()
	if err != nil {
		logger.Error("failed to build genesis", slog.Any("error", err))
		os.Exit(1)
	}
	node, err := core.NewNode(db, genesis)
	if err != nil {
		logger.Error("failed to create node", slog.Any("error", err))
		os.Exit(1)
	}
	node.SetMaxQuoteAge(cfg.Lending.MaxQuoteAgeSecs)
	node.SetMaxLoanDuration(cfg.Lending.MaxLoanDurationSecs)
	if authority, ok, err := cfg.FeeAuthorityAddress(); err != nil {
		logger.Error("failed to decode fee authority", slog.Any("error", err))
		os.Exit(1)
	} else if ok {
		node.SetFeeAuthority(authority)
	}

	rpcServer := rpc.NewServer(node, cfg.RPC)
	rpcHTTP := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           otelhttp.NewHandler(rpcServer.Handler(), "lendpool-rpc"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsHTTP := &http.Server{
		Addr:              cfg.MetricsAddress,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var gatewayServer *gateway.Server
	if cfg.Gateway.Enabled {
		gatewayCfg, err := gatewayconfig.Load(cfg.Gateway.ConfigFile)
		if err != nil {
			logger.Error("failed to load gateway config", slog.Any("error", err))
			os.Exit(1)
		}
		if listen := strings.TrimSpace(cfg.Gateway.ListenAddress); listen != "" {
			gatewayCfg.ListenAddress = listen
		}
		gatewayServer, err = gateway.New(gatewayCfg, node, rpcServer.Handler(), logger)
		if err != nil {
			logger.Error("failed to create gateway", slog.Any("error", err))
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 3)
	go func() {
		if err := rpcHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("rpc server: %w", err)
		}
	}()
	go func() {
		if err := metricsHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("metrics server: %w", err)
		}
	}()
	if gatewayServer != nil {
		go func() {
			if err := gatewayServer.Start(); err != nil {
				serverErr <- fmt.Errorf("gateway server: %w", err)
			}
		}()
	}

	logger.Info("lendpool daemon running",
		slog.String("rpc", cfg.RPCAddress),
		slog.String("metrics", cfg.MetricsAddress),
		slog.Bool("gateway", cfg.Gateway.Enabled),
		slog.String("network", cfg.NetworkName),
	)

	failed := false
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("server terminated", slog.Any("error", err))
		failed = true
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rpcHTTP.Shutdown(shutdownCtx); err != nil {
		logger.Error("rpc shutdown failed", slog.Any("error", err))
	}
	if err := metricsHTTP.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", slog.Any("error", err))
	}
	if gatewayServer != nil {
		if err := gatewayServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("gateway shutdown failed", slog.Any("error", err))
		}
	}
	if failed {
		os.Exit(1)
	}
}
