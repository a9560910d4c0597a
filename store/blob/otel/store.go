// Package otel provides OpenTelemetry instrumentation for blob stores.
package otel

import (
	"context"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/rbaliyan/mediator/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/rbaliyan/mediator/store/blob/otel"

// opMetrics holds the instruments for one blob operation.
type opMetrics struct {
	duration metric.Float64Histogram
	count    metric.Int64Counter
	errors   metric.Int64Counter
}

// Store wraps a store.BlobStore with tracing and metrics.
type Store struct {
	backend store.BlobStore
	opts    *options
	tracer  trace.Tracer

	put  opMetrics
	get  opMetrics
	list opMetrics

	bytesWritten metric.Int64Counter
	bytesRead    metric.Int64Counter
}

var _ store.BlobStore = (*Store)(nil)

// New wraps backend with OpenTelemetry instrumentation.
func New(backend store.BlobStore, opts ...Option) (*Store, error) {
	o := &options{
		tracingEnabled: true,
		metricsEnabled: true,
		serviceName:    "mediator",
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(o)
	}

	s := &Store{backend: backend, opts: o}
	if o.tracingEnabled {
		s.tracer = o.tracerProvider.Tracer(instrumentationName)
	}
	if o.metricsEnabled {
		if err := s.initMetrics(o.meterProvider.Meter(instrumentationName)); err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
	}
	return s, nil
}

func newOpMetrics(meter metric.Meter, op string) (opMetrics, error) {
	var m opMetrics
	var err error

	m.duration, err = meter.Float64Histogram(
		"blob."+op+".duration",
		metric.WithDescription("Duration of blob "+op+" operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return m, err
	}
	m.count, err = meter.Int64Counter(
		"blob."+op+".count",
		metric.WithDescription("Number of blob "+op+" operations"),
	)
	if err != nil {
		return m, err
	}
	m.errors, err = meter.Int64Counter(
		"blob."+op+".errors",
		metric.WithDescription("Number of blob "+op+" errors"),
	)
	return m, err
}

func (s *Store) initMetrics(meter metric.Meter) error {
	var err error
	if s.put, err = newOpMetrics(meter, "put"); err != nil {
		return err
	}
	if s.get, err = newOpMetrics(meter, "get"); err != nil {
		return err
	}
	if s.list, err = newOpMetrics(meter, "list"); err != nil {
		return err
	}
	s.bytesWritten, err = meter.Int64Counter("blob.put.bytes",
		metric.WithDescription("Total bytes written"), metric.WithUnit("By"))
	if err != nil {
		return err
	}
	s.bytesRead, err = meter.Int64Counter("blob.get.bytes",
		metric.WithDescription("Total bytes read"), metric.WithUnit("By"))
	return err
}

// start opens a span (when tracing) and returns a finisher that records the
// outcome on both the span and the operation's metrics.
func (s *Store) start(ctx context.Context, name string, m opMetrics, attrs []attribute.KeyValue) (context.Context, func(error)) {
	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, name,
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindClient),
		)
	}
	begin := time.Now()

	return ctx, func(err error) {
		if s.opts.metricsEnabled {
			metricAttrs := metric.WithAttributes(attrs...)
			m.duration.Record(ctx, time.Since(begin).Seconds(), metricAttrs)
			m.count.Add(ctx, 1, metricAttrs)
			if err != nil {
				m.errors.Add(ctx, 1, metricAttrs)
			}
		}
		if span != nil {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			span.End()
		}
	}
}

func (s *Store) baseAttrs(kv ...attribute.KeyValue) []attribute.KeyValue {
	return append([]attribute.KeyValue{attribute.String("service.name", s.opts.serviceName)}, kv...)
}

// Put records duration and bytes written.
func (s *Store) Put(ctx context.Context, key, contentType string, content io.Reader) error {
	attrs := s.baseAttrs(attribute.String("blob.content_type", contentType))
	ctx, finish := s.start(ctx, "blob.put", s.put, attrs)

	cr := &countingReader{reader: content}
	err := s.backend.Put(ctx, key, contentType, cr)
	if err == nil && s.opts.metricsEnabled {
		s.bytesWritten.Add(ctx, cr.bytes, metric.WithAttributes(attrs...))
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("blob.key", key),
		attribute.Int64("blob.bytes", cr.bytes),
	)
	finish(err)
	return err
}

// Get records the time to open the blob; bytes read are recorded when the
// returned reader is closed.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	attrs := s.baseAttrs()
	ctx, finish := s.start(ctx, "blob.get", s.get, attrs)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("blob.key", key))

	r, err := s.backend.Get(ctx, key)
	finish(err)
	if err != nil {
		return nil, err
	}
	return &instrumentedReader{reader: r, store: s, ctx: ctx, attrs: attrs}, nil
}

// List spans the whole enumeration, ending when the consumer stops.
func (s *Store) List(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, finish := s.start(ctx, "blob.list", s.list, s.baseAttrs(attribute.String("blob.prefix", prefix)))
		var listErr error
		defer func() { finish(listErr) }()

		for key, err := range s.backend.List(ctx, prefix) {
			if err != nil {
				listErr = err
			}
			if !yield(key, err) {
				return
			}
		}
	}
}

type countingReader struct {
	reader io.Reader
	bytes  int64
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.bytes += int64(n)
	return n, err
}

type instrumentedReader struct {
	reader io.ReadCloser
	store  *Store
	ctx    context.Context
	attrs  []attribute.KeyValue
	bytes  int64
	closed bool
}

func (r *instrumentedReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.bytes += int64(n)
	return n, err
}

func (r *instrumentedReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.store.opts.metricsEnabled {
		r.store.bytesRead.Add(r.ctx, r.bytes, metric.WithAttributes(r.attrs...))
	}
	return r.reader.Close()
}
