// Package metrics records generation and buffering measurements with
// OpenTelemetry and exposes them to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

const scope = "github.com/dgnsrekt/narrate/playback"

// Recorder holds the playback instruments. The zero value is not usable;
// call New. A nil *Recorder records nothing.
type Recorder struct {
	latency     metric.Float64Histogram
	generated   metric.Int64Counter
	failures    metric.Int64Counter
	transitions metric.Int64Counter

	bufferSize atomic.Int64
	inflight   atomic.Int64
}

// New registers the instruments on the meter provider. A nil provider uses
// the global one.
func New(mp metric.MeterProvider) (*Recorder, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(scope)
	r := &Recorder{}

	var err error
	if r.latency, err = meter.Float64Histogram("narrate.generation.duration",
		metric.WithDescription("Time spent generating one paragraph"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if r.generated, err = meter.Int64Counter("narrate.generation.completed",
		metric.WithDescription("Paragraphs generated successfully"),
	); err != nil {
		return nil, err
	}
	if r.failures, err = meter.Int64Counter("narrate.generation.failures",
		metric.WithDescription("Failed generation attempts"),
	); err != nil {
		return nil, err
	}
	if r.transitions, err = meter.Int64Counter("narrate.playback.transitions",
		metric.WithDescription("Playback status changes"),
	); err != nil {
		return nil, err
	}

	bufGauge, err := meter.Int64ObservableGauge("narrate.buffer.size",
		metric.WithDescription("Contiguous ready paragraphs at the cursor"))
	if err != nil {
		return nil, err
	}
	inflightGauge, err := meter.Int64ObservableGauge("narrate.generation.inflight",
		metric.WithDescription("Outstanding generation requests"))
	if err != nil {
		return nil, err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		obs.ObserveInt64(bufGauge, r.bufferSize.Load())
		obs.ObserveInt64(inflightGauge, r.inflight.Load())
		return nil
	}, bufGauge, inflightGauge)
	if err != nil {
		return nil, err
	}

	return r, nil
}

// GenerationSucceeded records a successful generation.
func (r *Recorder) GenerationSucceeded(ctx context.Context, engine string, d time.Duration) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("engine", engine), attribute.String("outcome", "ok"))
	r.latency.Record(ctx, d.Seconds(), attrs)
	r.generated.Add(ctx, 1, metric.WithAttributes(attribute.String("engine", engine)))
}

// GenerationFailed records a failed generation attempt.
func (r *Recorder) GenerationFailed(ctx context.Context, engine, kind string, d time.Duration, permanent bool) {
	if r == nil {
		return
	}
	r.latency.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("engine", engine), attribute.String("outcome", "error")))
	r.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("engine", engine),
		attribute.String("kind", kind),
		attribute.Bool("permanent", permanent),
	))
}

// StatusChanged counts a playback status change.
func (r *Recorder) StatusChanged(ctx context.Context, from, to string) {
	if r == nil {
		return
	}
	r.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// SetBufferSize updates the observed buffer size.
func (r *Recorder) SetBufferSize(n int) {
	if r == nil {
		return
	}
	r.bufferSize.Store(int64(n))
}

// SetInFlight updates the observed number of outstanding requests.
func (r *Recorder) SetInFlight(n int) {
	if r == nil {
		return
	}
	r.inflight.Store(int64(n))
}

// Setup creates a meter provider backed by a Prometheus exporter, installs
// it globally and returns the scrape handler.
func Setup(ctx context.Context, service, version string) (*sdkmetric.MeterProvider, http.Handler, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(service),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	return mp, promhttp.Handler(), nil
}

// Serve exposes handler at /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
