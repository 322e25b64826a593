// ABOUTME: Tests for telemetry configuration validation, environment variable loading, and default values

package telemetry

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ServiceName != "blocksim" {
		t.Errorf("Expected default service name 'blocksim', got '%s'", cfg.ServiceName)
	}

	if cfg.Enabled {
		t.Error("Expected telemetry to be disabled by default")
	}

	if len(cfg.Exporters) != 1 || cfg.Exporters[0] != ExporterStdout {
		t.Errorf("Expected default exporters ['stdout'], got %v", cfg.Exporters)
	}

	if cfg.OTLPEndpoint != "localhost:4317" {
		t.Errorf("Expected default OTLP endpoint 'localhost:4317', got '%s'", cfg.OTLPEndpoint)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected default config to be valid, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty service name", func(c *Config) { c.ServiceName = "" }},
		{"empty service version", func(c *Config) { c.ServiceVersion = "" }},
		{"negative sample rate", func(c *Config) { c.SampleRate = -0.1 }},
		{"sample rate above one", func(c *Config) { c.SampleRate = 1.1 }},
		{"prometheus without port", func(c *Config) {
			c.Exporters = []string{ExporterPrometheus}
			c.PrometheusPort = 0
		}},
		{"otlp without endpoint", func(c *Config) {
			c.Exporters = []string{ExporterOTLP}
			c.OTLPEndpoint = ""
		}},
		{"zero export timeout", func(c *Config) { c.ExportTimeout = 0 }},
		{"zero batch timeout", func(c *Config) { c.BatchTimeout = 0 }},
		{"zero queue size", func(c *Config) { c.MaxQueueSize = 0 }},
		{"zero batch size", func(c *Config) { c.MaxExportBatchSize = 0 }},
		{"unknown exporter", func(c *Config) { c.Exporters = []string{"jaeger"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error but got none")
			}
		})
	}

	cfg := DefaultConfig()
	cfg.PrometheusPort = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("Port should only matter with the prometheus exporter, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BLOCKSIM_TELEMETRY_SERVICE_NAME", "sim-test")
	t.Setenv("BLOCKSIM_TELEMETRY_ENABLED", "true")
	t.Setenv("BLOCKSIM_TELEMETRY_EXPORTERS", "stdout, prometheus")
	t.Setenv("BLOCKSIM_TELEMETRY_SAMPLE_RATE", "0.5")
	t.Setenv("BLOCKSIM_TELEMETRY_PROMETHEUS_PORT", "9999")
	t.Setenv("BLOCKSIM_TELEMETRY_BATCH_TIMEOUT", "250ms")
	t.Setenv("BLOCKSIM_TELEMETRY_EXPORT_TIMEOUT", "invalid")

	cfg := DefaultConfig()
	cfg.LoadFromEnv()

	if cfg.ServiceName != "sim-test" {
		t.Errorf("Expected service name 'sim-test', got '%s'", cfg.ServiceName)
	}
	if !cfg.Enabled {
		t.Error("Expected telemetry to be enabled")
	}
	if len(cfg.Exporters) != 2 || cfg.Exporters[1] != ExporterPrometheus {
		t.Errorf("Expected trimmed exporters [stdout prometheus], got %v", cfg.Exporters)
	}
	if cfg.SampleRate != 0.5 {
		t.Errorf("Expected sample rate 0.5, got %f", cfg.SampleRate)
	}
	if cfg.PrometheusPort != 9999 {
		t.Errorf("Expected port 9999, got %d", cfg.PrometheusPort)
	}
	if cfg.BatchTimeout != 250*time.Millisecond {
		t.Errorf("Expected batch timeout 250ms, got %s", cfg.BatchTimeout)
	}
	if cfg.ExportTimeout != 30*time.Second {
		t.Errorf("Expected invalid export timeout to be ignored, got %s", cfg.ExportTimeout)
	}
}

func TestHasExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Exporters = []string{ExporterStdout, ExporterOTLP}

	if !cfg.HasExporter(ExporterOTLP) {
		t.Error("Expected otlp exporter to be configured")
	}
	if cfg.HasExporter(ExporterPrometheus) {
		t.Error("Did not expect prometheus exporter to be configured")
	}
}
