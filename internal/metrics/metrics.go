// Package metrics exposes OpenTelemetry instruments for queue and ingestion
// activity, exported in Prometheus format.
package metrics

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelglobal "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const meterName = "github.com/mtlprog/deepflow"

// Attribute keys shared by all instruments.
var (
	AttrOperation = attribute.Key("operation")
	AttrStatus    = attribute.Key("status")
	AttrCategory  = attribute.Key("category")
	AttrInterrupt = attribute.Key("interrupt")
	AttrSource    = attribute.Key("source")
	AttrFallback  = attribute.Key("fallback")
	AttrChannel   = attribute.Key("channel")
)

var (
	initOnce           sync.Once
	taskOpsCounter     metric.Int64Counter
	ingestCounter      metric.Int64Counter
	dispatchFailures   metric.Int64Counter
	classifierDuration metric.Float64Histogram
)

// InitMeterProvider installs a global MeterProvider backed by a Prometheus
// exporter and returns the handler serving /metrics.
func InitMeterProvider(ctx context.Context, serviceName string) (http.Handler, error) {
	if serviceName == "" {
		serviceName = "deepflow"
	}
	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otelglobal.SetMeterProvider(provider)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}), nil
}

// Meter returns the deepflow meter from the global provider.
func Meter() metric.Meter {
	return otelglobal.Meter(meterName)
}

// Init creates the instruments. Safe to call multiple times; only runs once.
// Until it is called every Record function is a no-op.
func Init() error {
	var err error
	initOnce.Do(func() {
		m := Meter()
		taskOpsCounter, err = m.Int64Counter("deepflow_task_operations_total",
			metric.WithDescription("Task operations (create, pop, update, rescore)"))
		if err != nil {
			return
		}
		ingestCounter, err = m.Int64Counter("deepflow_ingested_messages_total",
			metric.WithDescription("Messages processed by the ingestion pipeline"))
		if err != nil {
			return
		}
		dispatchFailures, err = m.Int64Counter("deepflow_dispatch_failures_total",
			metric.WithDescription("Notifications that could not be delivered"))
		if err != nil {
			return
		}
		classifierDuration, err = m.Float64Histogram("deepflow_classifier_duration_seconds",
			metric.WithDescription("Urgency classifier call duration in seconds"))
	})
	return err
}

// RecordTaskOp records a task operation and the resulting status.
func RecordTaskOp(ctx context.Context, op, status string) {
	if taskOpsCounter == nil {
		return
	}
	taskOpsCounter.Add(ctx, 1, metric.WithAttributes(
		AttrOperation.String(op),
		AttrStatus.String(status),
	))
}

// RecordIngest records one processed message.
func RecordIngest(ctx context.Context, source, category string, interrupt, fallback bool) {
	if ingestCounter == nil {
		return
	}
	ingestCounter.Add(ctx, 1, metric.WithAttributes(
		AttrSource.String(source),
		AttrCategory.String(category),
		AttrInterrupt.Bool(interrupt),
		AttrFallback.Bool(fallback),
	))
}

// RecordDispatchFailure records a failed notification delivery on channel.
func RecordDispatchFailure(ctx context.Context, channel string) {
	if dispatchFailures == nil {
		return
	}
	dispatchFailures.Add(ctx, 1, metric.WithAttributes(AttrChannel.String(channel)))
}

// RecordClassifierDuration records how long one classifier call took.
func RecordClassifierDuration(ctx context.Context, seconds float64, fallback bool) {
	if classifierDuration == nil {
		return
	}
	classifierDuration.Record(ctx, seconds, metric.WithAttributes(AttrFallback.Bool(fallback)))
}
