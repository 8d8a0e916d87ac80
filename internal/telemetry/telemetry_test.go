package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"earshot/internal/config"
)

func testLogConfig(t *testing.T) *config.LogConfig {
	t.Helper()
	return &config.LogConfig{
		Level:      "debug",
		Path:       filepath.Join(t.TempDir(), "logs", "earshot.log"),
		MaxSizeMB:  1,
		MaxBackups: 1,
		MaxAgeDays: 1,
	}
}

func TestInitLogger_WritesToConfiguredFile(t *testing.T) {
	cfg := testLogConfig(t)

	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("InitLogger() error = %v", err)
	}
	logger.Info("logger smoke test", "component", "telemetry")

	data, err := os.ReadFile(cfg.Path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if len(data) == 0 {
		t.Error("log file is empty after logging")
	}
}

func TestInitTelemetry_ProvidesTracerMeterAndCleanup(t *testing.T) {
	cfg := testLogConfig(t)

	tracer, meter, cleanup, err := InitTelemetry(context.Background(), cfg)
	if err != nil {
		t.Fatalf("InitTelemetry() error = %v", err)
	}
	if tracer == nil || meter == nil {
		t.Fatal("InitTelemetry() returned nil tracer or meter")
	}

	_, span := tracer.Start(context.Background(), "smoke")
	span.End()

	metrics, err := NewSessionMetrics(meter)
	if err != nil {
		t.Fatalf("NewSessionMetrics() error = %v", err)
	}
	metrics.FramesReceived.Add(context.Background(), 1)

	cleanup()

	traces := filepath.Join(filepath.Dir(cfg.Path), "earshot_traces.log")
	if _, err := os.Stat(traces); err != nil {
		t.Errorf("trace file missing after cleanup: %v", err)
	}
}

func TestNewSessionMetrics_AllCountersPresent(t *testing.T) {
	meter := sdkmetric.NewMeterProvider().Meter("test")

	metrics, err := NewSessionMetrics(meter)
	if err != nil {
		t.Fatalf("NewSessionMetrics() error = %v", err)
	}
	if metrics.FramesReceived == nil || metrics.FramesIgnored == nil ||
		metrics.ChatMessages == nil || metrics.Reconnects == nil {
		t.Error("NewSessionMetrics() left a counter nil")
	}
}
