// Package logger configures the process-wide slog logger: JSON to
// stdout by default, or bridged into OpenTelemetry when OTEL_ENABLED
// is set.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

var programLevel = new(slog.LevelVar)

// Setup builds the service logger and installs it as the slog
// default. LOG_LEVEL picks the minimum level; OTEL_ENABLED=true routes
// records through the OTLP gRPC exporter instead of stdout JSON. The
// returned shutdown flushes the exporter and is a no-op in JSON mode.
func Setup(ctx context.Context, serviceName string) (*slog.Logger, func(context.Context) error, error) {
	programLevel.Set(parseLevel(os.Getenv("LOG_LEVEL")))

	if strings.ToLower(os.Getenv("OTEL_ENABLED")) != "true" {
		log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: programLevel}))
		slog.SetDefault(log)
		return log, func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, nil, fmt.Errorf("otel resource: %w", err)
	}
	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("otlp exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	handler := &levelHandler{
		level:   programLevel,
		handler: otelslog.NewHandler(serviceName, otelslog.WithLoggerProvider(provider)),
	}
	log := slog.New(handler)
	slog.SetDefault(log)
	return log, provider.Shutdown, nil
}

// SetLevel changes the minimum level at runtime.
func SetLevel(level slog.Level) {
	programLevel.Set(level)
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// levelHandler applies level filtering in front of the OTel bridge,
// which does not filter on its own.
type levelHandler struct {
	level   slog.Leveler
	handler slog.Handler
}

func (h *levelHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.handler.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithGroup(name)}
}
