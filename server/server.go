// Package server wires gateway.Gateway into a long-running HTTP process:
// config load, optional tracer setup, graceful shutdown.
package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-yaml"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/federated-graph/gwcore/gateway"
	"github.com/federated-graph/gwcore/telemetry"
)

const gatewayVersion = "v0.1.0"

// Run loads gateway.yaml, builds the gateway, and serves it until an
// interrupt/SIGTERM triggers a graceful shutdown.
func Run(configPath string) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	settings, err := loadGatewaySetting(configPath)
	if err != nil {
		log.Fatalf("failed to load gateway settings: %v", err)
	}

	gw, err := gateway.NewGateway(*settings)
	if err != nil {
		log.Fatalf("failed to build gateway: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracer, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: settings.ServiceName,
		Endpoint:    settings.Opentelemetry.Tracing.Endpoint,
		Insecure:    settings.Opentelemetry.Tracing.Insecure,
		Headers:     settings.Opentelemetry.Tracing.Headers,
	})
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}

	var handler http.Handler = gw
	if settings.Opentelemetry.Tracing.Enable {
		handler = otelhttp.NewHandler(handler, settings.ServiceName)
	}

	timeoutDuration, err := time.ParseDuration(settings.TimeoutDuration)
	if err != nil {
		timeoutDuration = 5 * time.Second
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", settings.Port),
		Handler: handler,
	}

	go func() {
		slog.Info("starting gateway server", "port", settings.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("gateway server failed: %v", err)
		}
	}()

	<-ctx.Done()

	timeoutCtx, cancel := context.WithTimeout(context.Background(), timeoutDuration)
	defer cancel()

	slog.Info("shutting down gateway server")
	if err := srv.Shutdown(timeoutCtx); err != nil {
		log.Fatalf("failed to shutdown gateway server: %v", err)
	}
	if err := shutdownTracer(timeoutCtx); err != nil {
		log.Fatalf("failed to shutdown tracer: %v", err)
	}

	slog.Info("gateway server stopped")
}

// Compose loads gateway.yaml's subgraph list, composes the supergraph, and
// writes its SDL to w — the `compose` CLI subcommand's CI-friendly
// schema-check path.
func Compose(configPath string, w io.Writer) error {
	settings, err := loadGatewaySetting(configPath)
	if err != nil {
		return fmt.Errorf("failed to load gateway settings: %w", err)
	}

	sdl, err := gateway.ComposeSDL(*settings)
	if err != nil {
		return fmt.Errorf("failed to compose supergraph: %w", err)
	}

	_, err = io.WriteString(w, sdl)
	return err
}

// Version returns the gateway's build version string.
func Version() string {
	return gatewayVersion
}

func loadGatewaySetting(configPath string) (*gateway.GatewayOption, error) {
	f, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open gateway settings file: %w", err)
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway settings file: %w", err)
	}

	var settings gateway.GatewayOption
	if err := yaml.Unmarshal(b, &settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal gateway settings: %w", err)
	}

	return &settings, nil
}
