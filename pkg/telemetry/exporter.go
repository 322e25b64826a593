// ABOUTME: OpenTelemetry exporter factory for metric readers (stdout, Prometheus) and span exporters (stdout, OTLP)
// ABOUTME: The Prometheus reader is served by a dedicated HTTP listener owned by the provider

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
)

// createMetricReaders creates one reader per configured metric exporter.
// The returned server is non-nil when a Prometheus endpoint was started.
func createMetricReaders(cfg Config, out io.Writer) ([]sdkmetric.Reader, *http.Server, error) {
	var readers []sdkmetric.Reader
	var server *http.Server

	for _, exporterName := range cfg.Exporters {
		switch exporterName {
		case ExporterPrometheus:
			reader, srv, err := createPrometheusReader(cfg)
			if err != nil {
				shutdownMetricReaders(readers, server)
				return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
			}
			readers = append(readers, reader)
			server = srv

		case ExporterStdout:
			exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(out), stdoutmetric.WithPrettyPrint())
			if err != nil {
				shutdownMetricReaders(readers, server)
				return nil, nil, fmt.Errorf("failed to create stdout metric exporter: %w", err)
			}
			readers = append(readers, sdkmetric.NewPeriodicReader(exporter,
				sdkmetric.WithInterval(cfg.BatchTimeout),
				sdkmetric.WithTimeout(cfg.ExportTimeout),
			))
		}
	}

	return readers, server, nil
}

// shutdownMetricReaders releases readers built before a later exporter
// failed and stops the Prometheus endpoint, if one was started.
func shutdownMetricReaders(readers []sdkmetric.Reader, server *http.Server) {
	for _, reader := range readers {
		_ = reader.Shutdown(context.Background())
	}
	if server != nil {
		_ = server.Close()
	}
}

func shutdownSpanExporters(exporters []sdktrace.SpanExporter) {
	for _, exporter := range exporters {
		_ = exporter.Shutdown(context.Background())
	}
}

// createTraceExporters creates one span exporter per configured trace exporter.
func createTraceExporters(cfg Config, out io.Writer) ([]sdktrace.SpanExporter, error) {
	var exporters []sdktrace.SpanExporter

	for _, exporterName := range cfg.Exporters {
		switch exporterName {
		case ExporterOTLP:
			exporter, err := otlptracegrpc.New(
				context.Background(),
				otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
				otlptracegrpc.WithInsecure(),
				otlptracegrpc.WithDialOption(grpc.WithUserAgent(cfg.ServiceName+"/"+cfg.ServiceVersion)),
			)
			if err != nil {
				shutdownSpanExporters(exporters)
				return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
			}
			exporters = append(exporters, exporter)

		case ExporterStdout:
			exporter, err := stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithPrettyPrint())
			if err != nil {
				shutdownSpanExporters(exporters)
				return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
			}
			exporters = append(exporters, exporter)
		}
	}

	return exporters, nil
}

// createPrometheusReader registers an OpenTelemetry reader on a private
// registry and serves it on the configured port.
func createPrometheusReader(cfg Config) (sdkmetric.Reader, *http.Server, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.PrometheusPort))
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Handler: mux}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			otel.Handle(fmt.Errorf("prometheus endpoint stopped: %w", err))
		}
	}()

	return exporter, server, nil
}
