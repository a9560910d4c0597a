package mediator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/rbaliyan/mediator"
)

// Instrumented operations.
const (
	opForward       = "forward"
	opAppend        = "append"
	opList          = "list"
	opDelete        = "delete"
	opCreateMailbox = "create_mailbox"
	opNotify        = "notify"
)

// opInstruments holds the metric instruments of one operation.
type opInstruments struct {
	latency metric.Float64Histogram
	count   metric.Int64Counter
	errors  metric.Int64Counter
}

// otelInstrumentation holds OpenTelemetry instrumentation for the mediator service.
type otelInstrumentation struct {
	enabled bool

	// Tracing
	tracingEnabled bool
	tracer         trace.Tracer

	// Metrics
	metricsEnabled bool
	ops            map[string]opInstruments
}

// newOtelInstrumentation creates new OTel instrumentation from options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		enabled:        opts.tracingEnabled || opts.metricsEnabled,
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}

	if !o.enabled {
		return o, nil
	}

	if opts.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	if opts.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp, opts.serviceName); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// initMetrics creates duration, count and error instruments per operation.
func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider, serviceName string) error {
	meter := mp.Meter(instrumentationName)
	o.ops = make(map[string]opInstruments)

	for _, op := range []string{opForward, opAppend, opList, opDelete, opCreateMailbox, opNotify} {
		var (
			inst opInstruments
			err  error
		)
		name := serviceName + "." + op

		inst.latency, err = meter.Float64Histogram(
			name+".duration",
			metric.WithDescription(fmt.Sprintf("Duration of %s operations", op)),
			metric.WithUnit("s"),
		)
		if err != nil {
			return err
		}

		inst.count, err = meter.Int64Counter(
			name+".count",
			metric.WithDescription(fmt.Sprintf("Number of %s operations", op)),
		)
		if err != nil {
			return err
		}

		inst.errors, err = meter.Int64Counter(
			name+".errors",
			metric.WithDescription(fmt.Sprintf("Number of %s errors", op)),
		)
		if err != nil {
			return err
		}

		o.ops[op] = inst
	}
	return nil
}

// startSpan starts a span when tracing is enabled.
// The returned function ends the span and records err on it.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled {
		return ctx, func(error) {}
	}

	ctx, span := o.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// record records duration, count and errors for op.
func (o *otelInstrumentation) record(ctx context.Context, op string, duration time.Duration, err error, attrs ...attribute.KeyValue) {
	if !o.metricsEnabled {
		return
	}
	inst, ok := o.ops[op]
	if !ok {
		return
	}

	opt := metric.WithAttributes(attrs...)
	inst.latency.Record(ctx, duration.Seconds(), opt)
	inst.count.Add(ctx, 1, opt)
	if err != nil {
		inst.errors.Add(ctx, 1, opt)
	}
}

// instrument wraps an operation with a span and metrics.
// Call the returned function with the operation's error when it finishes.
func (o *otelInstrumentation) instrument(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.enabled {
		return ctx, func(error) {}
	}
	start := time.Now()
	ctx, end := o.startSpan(ctx, "mediator."+op, attrs...)
	return ctx, func(err error) {
		end(err)
		o.record(ctx, op, time.Since(start), err)
	}
}
