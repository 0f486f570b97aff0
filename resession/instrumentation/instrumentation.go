// Package instrumentation provides OpenTelemetry tracing and metrics for
// resettable sessions. It exports traces via OTLP and metrics via Prometheus.
//
// Initialization is optional: all recorders are nil-guarded, so the library
// works (silently) without Init ever being called.
package instrumentation

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/klog/v2"
)

const (
	ServiceName    = "resession"
	ServiceVersion = "1.0.0"
)

var (
	tracer trace.Tracer
	meter  metric.Meter

	// Metrics
	requestCounter  metric.Int64Counter
	requestDuration metric.Float64Histogram
	activeRequests  metric.Int64UpDownCounter
	resetCounter    metric.Int64Counter
	errorCounter    metric.Int64Counter
)

// Config holds instrumentation configuration
type Config struct {
	// OTLPEndpoint is the OTLP exporter endpoint (e.g., "localhost:4318")
	OTLPEndpoint string
	// Environment is the deployment environment (e.g., "production", "development")
	Environment string
	// SampleRate is the trace sampling rate (0.0 to 1.0)
	SampleRate float64
	// MetricsEnabled enables Prometheus metrics
	MetricsEnabled bool
}

// DefaultConfig returns default configuration based on environment
func DefaultConfig() Config {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	sampleRate := 1.0 // 100% in dev
	if env == "production" || env == "prod" {
		sampleRate = 0.1 // 10% in prod
	}
	if sr := os.Getenv("OTEL_SAMPLE_RATE"); sr != "" {
		if parsed, err := strconv.ParseFloat(sr, 64); err == nil && parsed >= 0 && parsed <= 1 {
			sampleRate = parsed
		}
	}

	return Config{
		OTLPEndpoint:   getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		Environment:    env,
		SampleRate:     sampleRate,
		MetricsEnabled: os.Getenv("METRICS_ENABLED") != "false",
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// Init initializes OpenTelemetry tracing and metrics
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(), // Use TLS in production
	)
	if err != nil {
		klog.Warningf("Failed to create OTLP trace exporter: %v, continuing without tracing", err)
		traceExporter = nil
	}

	var sampler sdktrace.Sampler
	if cfg.Environment == "production" || cfg.Environment == "prod" {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	} else {
		sampler = sdktrace.AlwaysSample()
	}

	var tracerProvider *sdktrace.TracerProvider
	if traceExporter != nil {
		tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler),
		)
	} else {
		tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.NeverSample()),
		)
	}
	otel.SetTracerProvider(tracerProvider)
	tracer = otel.Tracer(ServiceName)

	var meterProvider *sdkmetric.MeterProvider
	if cfg.MetricsEnabled {
		promExporter, err := prometheus.New()
		if err != nil {
			klog.Warningf("Failed to create Prometheus exporter: %v, continuing without metrics", err)
		} else {
			meterProvider = sdkmetric.NewMeterProvider(
				sdkmetric.WithReader(promExporter),
				sdkmetric.WithResource(res),
			)
			otel.SetMeterProvider(meterProvider)
		}
	}
	meter = otel.Meter(ServiceName)

	if err := initMetrics(); err != nil {
		return nil, err
	}

	klog.Infof("OpenTelemetry initialized: env=%s, sample_rate=%.2f, metrics=%v",
		cfg.Environment, cfg.SampleRate, cfg.MetricsEnabled)

	return func(ctx context.Context) error {
		var errs []error
		if err := tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if meterProvider != nil {
			if err := meterProvider.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return errs[0]
		}
		return nil
	}, nil
}

func initMetrics() error {
	var err error

	requestCounter, err = meter.Int64Counter(
		"resession.requests.total",
		metric.WithDescription("Total number of requests issued through resettable sessions"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	requestDuration, err = meter.Float64Histogram(
		"resession.request.duration",
		metric.WithDescription("Duration of delegated requests in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	activeRequests, err = meter.Int64UpDownCounter(
		"resession.requests.active",
		metric.WithDescription("Number of in-flight requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	resetCounter, err = meter.Int64Counter(
		"resession.resets.total",
		metric.WithDescription("Total completed session reconstructions"),
		metric.WithUnit("{reset}"),
	)
	if err != nil {
		return err
	}

	errorCounter, err = meter.Int64Counter(
		"resession.errors.total",
		metric.WithDescription("Total transport errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// MetricsHandler returns an http.Handler serving the Prometheus metrics
// registered by Init, suitable for mounting on a /metrics route.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordReset counts a completed session reconstruction.
func RecordReset(ctx context.Context) {
	if resetCounter != nil {
		resetCounter.Add(ctx, 1)
	}
}

// RequestTracer is a helper for tracing requests delegated to a session
type RequestTracer struct {
	ctx       context.Context
	span      trace.Span
	startTime time.Time
	target    string
	method    string
}

// StartRequest starts tracing an outbound request
func StartRequest(ctx context.Context, method, target string) *RequestTracer {
	var span trace.Span
	if tracer != nil {
		ctx, span = tracer.Start(ctx, "resession.request",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(method),
				attribute.String("resession.target", target),
			),
		)
	}

	if activeRequests != nil {
		activeRequests.Add(ctx, 1)
	}

	return &RequestTracer{
		ctx:       ctx,
		span:      span,
		startTime: time.Now(),
		target:    target,
		method:    method,
	}
}

// End completes the request trace
func (rt *RequestTracer) End(statusCode int, err error) {
	duration := time.Since(rt.startTime).Milliseconds()

	if rt.span != nil {
		rt.span.SetAttributes(
			semconv.HTTPResponseStatusCode(statusCode),
			attribute.Int64("http.duration_ms", duration),
		)

		if err != nil {
			rt.span.RecordError(err)
			rt.span.SetStatus(codes.Error, err.Error())
		} else if statusCode >= 400 {
			rt.span.SetStatus(codes.Error, http.StatusText(statusCode))
		} else {
			rt.span.SetStatus(codes.Ok, "")
		}
		rt.span.End()
	}

	ctx := rt.ctx
	attrs := []attribute.KeyValue{
		attribute.String("method", rt.method),
		attribute.String("target", rt.target),
		attribute.Int("status_code", statusCode),
		attribute.Bool("success", err == nil && statusCode < 400),
	}

	if requestCounter != nil {
		requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if requestDuration != nil {
		requestDuration.Record(ctx, float64(duration), metric.WithAttributes(attrs...))
	}
	if activeRequests != nil {
		activeRequests.Add(ctx, -1)
	}
	if err != nil && errorCounter != nil {
		errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("error_type", "request"),
			attribute.String("target", rt.target),
		))
	}
}

// Context returns the span context
func (rt *RequestTracer) Context() context.Context {
	return rt.ctx
}
