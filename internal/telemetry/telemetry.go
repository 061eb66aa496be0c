package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Signal names reported in HealthStatus.Failed.
const (
	SignalTraces  = "traces"
	SignalMetrics = "metrics"
)

// HealthStatus is a point-in-time view of the exporters. Degraded means at
// least one signal failed to start and falls back to the global no-op
// provider; the service keeps running either way.
type HealthStatus struct {
	Healthy  bool
	Degraded bool
	Failed   []string
	Reason   string
}

// Telemetry owns the tracer and meter providers for the note pipeline and
// the HTTP layer.
type Telemetry struct {
	config *Config

	tracerProvider *trace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	logProvider    log.LoggerProvider

	health atomic.Pointer[HealthStatus]
}

// New creates a Telemetry instance. Only an invalid config is an error.
func New(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	t := &Telemetry{config: cfg}
	t.health.Store(&HealthStatus{Healthy: true})
	if !cfg.Enabled {
		return t, nil
	}

	res := newResource(cfg)

	if tp, err := newTracerProvider(ctx, cfg, res); err != nil {
		t.degrade(SignalTraces, err)
	} else {
		t.tracerProvider = tp
		otel.SetTracerProvider(tp)
	}

	if mp, err := newMeterProvider(ctx, cfg, res); err != nil {
		t.degrade(SignalMetrics, err)
	} else if mp != nil {
		t.meterProvider = mp
		otel.SetMeterProvider(mp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return t, nil
}

// Tracer returns a tracer for the given instrumentation scope, falling back
// to the global provider when tracing is off or failed to start.
func (t *Telemetry) Tracer(name string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	if t == nil || t.tracerProvider == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return t.tracerProvider.Tracer(name, opts...)
}

// Meter returns a meter for the given instrumentation scope.
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t == nil || t.meterProvider == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return t.meterProvider.Meter(name, opts...)
}

// LoggerProvider returns the log provider for the zap bridge, or nil.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	if t == nil {
		return nil
	}
	return t.logProvider
}

// SetLoggerProvider sets the logger provider for the zap bridge.
func (t *Telemetry) SetLoggerProvider(lp log.LoggerProvider) {
	if t != nil {
		t.logProvider = lp
	}
}

// provider is the part of the SDK providers that Shutdown and ForceFlush
// drive.
type provider interface {
	ForceFlush(context.Context) error
	Shutdown(context.Context) error
}

type namedProvider struct {
	signal string
	p      provider
}

func (t *Telemetry) providers() []namedProvider {
	var out []namedProvider
	if t.tracerProvider != nil {
		out = append(out, namedProvider{SignalTraces, t.tracerProvider})
	}
	if t.meterProvider != nil {
		out = append(out, namedProvider{SignalMetrics, t.meterProvider})
	}
	return out
}

// each runs op against every started provider and joins the failures.
func (t *Telemetry) each(ctx context.Context, verb string, op func(provider, context.Context) error) error {
	var errs []error
	for _, np := range t.providers() {
		if err := op(np.p, ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", np.signal, verb, err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown flushes and stops all providers. Without a deadline on ctx the
// configured shutdown timeout applies.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok && t.config != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Shutdown.Timeout.Duration())
		defer cancel()
	}

	err := t.each(ctx, "shutdown", provider.Shutdown)

	next := t.Health()
	next.Healthy = false
	t.health.Store(&next)
	return err
}

// ForceFlush exports everything buffered so far.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return t.each(ctx, "flush", provider.ForceFlush)
}

// Health returns a copy of the current health snapshot.
func (t *Telemetry) Health() HealthStatus {
	if t == nil {
		return HealthStatus{Degraded: true}
	}
	h := t.health.Load()
	if h == nil {
		return HealthStatus{}
	}
	out := *h
	out.Failed = append([]string(nil), h.Failed...)
	return out
}

// IsEnabled reports whether export is configured and still running.
func (t *Telemetry) IsEnabled() bool {
	if t == nil || t.config == nil {
		return false
	}
	return t.config.Enabled && t.Health().Healthy
}

// degrade records a signal that failed to start. Reason lists every
// failure as "signal: error", separated by "; ".
func (t *Telemetry) degrade(signal string, err error) {
	next := t.Health()
	next.Degraded = true
	next.Failed = append(next.Failed, signal)

	msg := fmt.Sprintf("%s: %v", signal, err)
	if next.Reason == "" {
		next.Reason = msg
	} else {
		next.Reason = strings.Join([]string{next.Reason, msg}, "; ")
	}
	t.health.Store(&next)
}
