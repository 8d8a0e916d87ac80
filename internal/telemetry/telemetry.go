// Package telemetry wires up structured logging and OpenTelemetry
// output. Everything lands in rotating files next to the main log so
// a classroom machine never fills its disk; an OTEL collector can
// still attach through the SDK.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"earshot/internal/config"
	"earshot/internal/session"
)

const serviceName = "earshot"

// InitLogger initializes structured JSON logging with rotation and
// installs the logger as the process default.
func InitLogger(cfg *config.LogConfig) (*slog.Logger, error) {
	logDir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	lumberjackLogger := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	// Log only to file, not to stdout: stdout belongs to the screen
	// reader's host process.
	handler := slog.NewJSONHandler(lumberjackLogger, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

// InitTelemetry initializes OpenTelemetry tracing and metrics, with
// both exported to rotating files beside the main log. The returned
// cleanup flushes and closes everything.
func InitTelemetry(ctx context.Context, cfg *config.LogConfig) (trace.Tracer, metric.Meter, func(), error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	logDir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	traceFile := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "earshot_traces.log"),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	traceExporter, err := stdouttrace.New(
		stdouttrace.WithWriter(traceFile),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricsFile := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "earshot_metrics.log"),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	metricExporter, err := stdoutmetric.New(
		stdoutmetric.WithWriter(metricsFile),
		stdoutmetric.WithPrettyPrint(),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(
				metricExporter,
				sdkmetric.WithInterval(10*time.Second),
			),
		),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	tracer := tp.Tracer(serviceName)
	meter := mp.Meter(serviceName)

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
		if err := mp.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown meter provider", "error", err)
		}
		if err := traceFile.Close(); err != nil {
			slog.Error("failed to close trace file", "error", err)
		}
		if err := metricsFile.Close(); err != nil {
			slog.Error("failed to close metrics file", "error", err)
		}
	}

	return tracer, meter, cleanup, nil
}

// NewSessionMetrics builds the counters the session layer reports.
func NewSessionMetrics(meter metric.Meter) (*session.Metrics, error) {
	framesReceived, err := meter.Int64Counter(
		"earshot.frames.received",
		metric.WithDescription("Frames received and applied from the classroom server"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create frames.received counter: %w", err)
	}
	framesIgnored, err := meter.Int64Counter(
		"earshot.frames.ignored",
		metric.WithDescription("Frames dropped as malformed, incomplete, unknown or overflowed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create frames.ignored counter: %w", err)
	}
	chatMessages, err := meter.Int64Counter(
		"earshot.chat.messages",
		metric.WithDescription("Chat messages appended to the session log"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat.messages counter: %w", err)
	}
	reconnects, err := meter.Int64Counter(
		"earshot.session.reconnects",
		metric.WithDescription("Successful reconnects after a dropped connection"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session.reconnects counter: %w", err)
	}

	return &session.Metrics{
		FramesReceived: framesReceived,
		FramesIgnored:  framesIgnored,
		ChatMessages:   chatMessages,
		Reconnects:     reconnects,
	}, nil
}
