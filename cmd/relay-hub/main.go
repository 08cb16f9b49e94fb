// relay-hub routes envelopes between agents connected over WebSocket.
//
//	relay-hub --addr :4568
//
// Agents reach it with AGENTRELAY_TRANSPORT=websocket and
// AGENTRELAY_HUB_URL=ws://host:4568/ws.
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

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/pflag"

	framework "github.com/itsneelabh/agentrelay"
	"github.com/itsneelabh/agentrelay/core"
	"github.com/itsneelabh/agentrelay/socket"
	"github.com/itsneelabh/agentrelay/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relay-hub: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("relay-hub", pflag.ContinueOnError)
	addr := flags.String("addr", ":4568", "listen address")
	queue := flags.Int("queue-size", core.DefaultQueueSize, "outbound frames buffered per connection")
	logLevel := flags.String("log-level", "info", "debug, info, warn or error")
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
		fmt.Println(framework.VersionString("relay-hub"))
		return nil
	}

	cfg := core.DefaultConfig()
	cfg.Logging.Level = *logLevel
	if *dev {
		cfg.Development = core.DevelopmentConfig{Enabled: true, PrettyLogs: true}
		cfg.Logging.Format = "text"
	}
	logger := core.NewProductionLogger(cfg.Logging, cfg.Development, "relay-hub")

	hub := socket.NewHub(socket.WithHubLogger(logger), socket.WithQueueSize(*queue))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	if *tracing {
		provider, err := telemetry.New(context.Background(), core.TelemetryConfig{
			Enabled:      true,
			Endpoint:     *otlp,
			ServiceName:  "relay-hub",
			SamplingRate: 1.0,
			Insecure:     true,
		}, telemetry.WithServiceVersion(framework.Version))
		if err != nil {
			return err
		}
		defer provider.Shutdown(context.Background())
		// Only the upgrade is traced; frames on an open connection are not.
		e.Use(echo.WrapMiddleware(telemetry.TracingMiddlewareWithConfig("relay-hub", &telemetry.TracingMiddlewareConfig{
			ExcludedPaths: []string{"/healthcheck"},
		})))
	}
	hub.RegisterRoutes(e)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Hub listening", map[string]interface{}{"addr": *addr})
		if err := e.Start(*addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("Shutting down hub", map[string]interface{}{"signal": sig.String()})
	case err := <-serveErr:
		_ = hub.Close()
		return fmt.Errorf("serve %s: %w", *addr, err)
	}

	// Hijacked WebSocket connections are not tracked by the HTTP server.
	_ = hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(ctx)
}
