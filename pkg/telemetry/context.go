package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry is the observability bundle of one plant process.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

type telemetryContextKey struct{}

// NewTelemetry builds every component from cfg.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tel := &Telemetry{Config: cfg}
	var err error
	if tel.Logger, err = NewLogger(cfg.Logging); err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if tel.Tracer, err = NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment); err != nil {
		return nil, fmt.Errorf("tracer: %w", err)
	}
	if tel.Metrics, err = NewMetrics(cfg.Metrics); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	if tel.Events, err = NewEventPublisher(cfg.Events); err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}
	return tel, nil
}

// Nop returns a bundle that records nothing.
func Nop() *Telemetry {
	return &Telemetry{
		Logger:  NopLogger(),
		Metrics: &Metrics{},
		Events:  &EventPublisher{},
		Config:  DefaultConfig(),
	}
}

// WithContext stores t and its logger in ctx.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext returns the bundle stored in ctx, or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown drains the event bus and flushes the tracer. Both are attempted
// even if the first fails.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.Events.Shutdown(ctx), t.Tracer.Shutdown(ctx))
}

// Operation is one traced and timed step of a plant command, such as
// wiring the plant or validating its map.
type Operation struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger

	name  string
	timer *Timer
}

// StartOperation opens an operation for plant. The span is only created
// when ctx carries a Telemetry; otherwise the operation just logs.
func StartOperation(ctx context.Context, plant, name string, attrs ...attribute.KeyValue) *Operation {
	logger := FromContext(ctx).WithPlant(plant).WithField("operation", name)
	op := &Operation{name: name, timer: NewTimer()}

	tel := FromTelemetryContext(ctx)
	if tel == nil {
		op.Logger = logger
		op.Ctx = logger.WithContext(ctx)
		return op
	}

	attrs = append(attrs, attribute.String("plant", plant))
	spanCtx, span := tel.Tracer.StartSpan(ctx, name, attrs...)
	if sc := span.SpanContext(); sc.IsValid() {
		logger = logger.WithField("trace_id", sc.TraceID().String())
	}
	op.Span = span
	op.Logger = logger
	op.Ctx = logger.WithContext(spanCtx)
	return op
}

// End closes the operation with its outcome.
func (op *Operation) End(err error) {
	elapsed := op.timer.Duration()
	if err != nil {
		op.Logger.zlog.Debug().Err(err).Dur("elapsed", elapsed).Msg("Operation failed")
	} else {
		op.Logger.zlog.Debug().Dur("elapsed", elapsed).Msg("Operation finished")
	}

	if op.Span == nil {
		return
	}
	if err != nil {
		RecordError(op.Span, err)
	} else {
		RecordSuccess(op.Span)
	}
	op.Span.End()
}
