package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/driftline/nasgate/internal/auth"
	"github.com/driftline/nasgate/internal/config"
	"github.com/driftline/nasgate/internal/gate"
	"github.com/driftline/nasgate/internal/intent"
	"github.com/driftline/nasgate/internal/nas"
	"github.com/driftline/nasgate/internal/registry"
	"github.com/driftline/nasgate/internal/server"
	"github.com/driftline/nasgate/internal/storage"
	"github.com/driftline/nasgate/internal/tools"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const version = "1.0.0"

func main() {
	settings, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := mustBuildLogger(settings.LogLevel)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	logger.Info("starting nasgate server",
		zap.String("listen_addr", settings.ListenAddr),
		zap.String("nas_url", settings.NASBaseURL),
		zap.Bool("intent_classification", settings.IntentClassificationEnabled),
		zap.Bool("strict_context_limit", settings.StrictContextLimit),
	)

	// Appliance client
	client := nas.NewClient(nas.Config{
		BaseURL:    settings.NASBaseURL,
		APIKey:     settings.NASAPIKey,
		VerifyTLS:  settings.NASVerifyTLS,
		Timeout:    settings.NASTimeout,
		MaxRetries: settings.NASMaxRetries,
	}, logger)

	connectCtx, cancel := context.WithTimeout(context.Background(), settings.NASTimeout)
	if err := client.Connect(connectCtx); err != nil {
		// The appliance may simply not be up yet; tool calls will retry.
		logger.Warn("appliance probe failed, continuing anyway", zap.Error(err))
	}
	cancel()

	// Tool catalog
	metaTools := tools.NewMetaTools()
	toolSets := []registry.ToolSet{
		tools.NewStorageTools(client),
		tools.NewUserTools(client),
		tools.NewSharingTools(client),
		tools.NewSnapshotTools(client),
		metaTools,
	}
	reg, err := registry.New(toolSets, logger)
	if err != nil {
		logger.Fatal("registry build failed", zap.Error(err))
	}
	catalog := reg.AllTools()
	logger.Info("tool catalog built", zap.Int("tools", len(catalog)))

	// Gating policy and filter config
	policy := gate.Policy{
		IntentPrecedence:    settings.IntentPrecedence,
		IntentFallbackToAll: settings.IntentFallbackToAll,
		StrictContextLimit:  settings.StrictContextLimit,
		DefaultMaxTools:     settings.DefaultMaxTools,
	}
	filterCfg, keywords := config.LoadFilterConfig(settings.FilterConfigPath, catalog, settings.DefaultMaxTools, logger)

	controller := gate.NewController(catalog, filterCfg, policy, logger)
	metaTools.BindCatalog(reg.AllTools)
	logger.Info("gate controller ready",
		zap.String("estimator", controller.EstimatorMode()),
		zap.Int("active_tools", len(controller.ActiveToolNames())),
	)

	var classifier intent.Classifier
	if settings.IntentClassificationEnabled {
		classifier = intent.NewKeywordClassifier(keywords)
	}

	// Audit trail — ClickHouse or LogWriter fallback
	var writer storage.EventWriter
	if settings.ClickHouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(settings.ClickHouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer", zap.Error(err))
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	verifier := auth.NewVerifier(auth.Config{
		AccessToken:     settings.AccessToken,
		AccessTokenHash: settings.AccessTokenHash,
		TokenScopes:     settings.TokenScopes,
	}, logger)

	mcp := server.NewMCP(reg, controller, classifier, writer, policy, version, logger)
	srv := server.New(mcp, verifier, settings.AllowedOrigins, version, logger)

	httpServer := &http.Server{
		Addr:         settings.ListenAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("nasgate server stopped")
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}
