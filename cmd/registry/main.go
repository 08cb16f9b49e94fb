// registry serves the agent registry over HTTP, backed by SQLite.
//
//	registry --addr :4567 --db agent_registry.db
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/pflag"

	framework "github.com/itsneelabh/agentrelay"
	"github.com/itsneelabh/agentrelay/core"
	"github.com/itsneelabh/agentrelay/registry"
	"github.com/itsneelabh/agentrelay/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "registry: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("registry", pflag.ContinueOnError)
	addr := flags.String("addr", envOr("AGENTRELAY_REGISTRY_ADDR", ":4567"), "listen address")
	dbPath := flags.String("db", envOr("AGENTRELAY_REGISTRY_DB", "agent_registry.db"), "SQLite database path, or :memory:")
	clearOnExit := flags.Bool("clear-on-exit", false, "delete every registration on shutdown")
	logLevel := flags.String("log-level", envOr(core.EnvLogLevel, "info"), "debug, info, warn or error")
	dev := flags.Bool("dev", false, "human-readable coloured logs")
	tracing := flags.Bool("telemetry", os.Getenv(core.EnvTelemetryEnabled) == "true", "trace HTTP requests")
	otlp := flags.String("otlp-endpoint", os.Getenv(core.EnvOTLPEndpoint), "OTLP collector; stdout when empty")
	version := flags.Bool("version", false, "print version and exit")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if *version {
		fmt.Println(framework.VersionString("registry"))
		return nil
	}

	cfg := core.DefaultConfig()
	cfg.Logging.Level = *logLevel
	if *dev {
		cfg.Development = core.DevelopmentConfig{Enabled: true, PrettyLogs: true}
		cfg.Logging.Format = "text"
	}
	logger := core.NewProductionLogger(cfg.Logging, cfg.Development, "registry")

	store, err := registry.OpenSQLiteStore(*dbPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	srv := registry.NewServer(store, logger)
	if *tracing {
		provider, err := telemetry.New(context.Background(), core.TelemetryConfig{
			Enabled:      true,
			Endpoint:     *otlp,
			ServiceName:  "registry",
			SamplingRate: 1.0,
			Insecure:     true,
		}, telemetry.WithServiceVersion(framework.Version))
		if err != nil {
			return err
		}
		defer provider.Shutdown(context.Background())
		srv.Use(echo.WrapMiddleware(telemetry.TracingMiddlewareWithConfig("registry", &telemetry.TracingMiddlewareConfig{
			ExcludedPaths: []string{"/healthcheck"},
		})))
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(*addr) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("Shutting down registry", map[string]interface{}{"signal": sig.String()})
	case err := <-errCh:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", map[string]interface{}{"error": err.Error()})
	}
	if *clearOnExit {
		if err := store.Reset(ctx); err != nil {
			logger.Error("Failed to clear registrations", map[string]interface{}{"error": err.Error()})
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
