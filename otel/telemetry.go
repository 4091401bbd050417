package otel

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	traceNoop "go.opentelemetry.io/otel/trace/noop"
)

const scopeName = "github.com/hugolhafner/extoffset"

// Telemetry holds all OpenTelemetry instruments for consume loops and the offset manager.
// When no providers are configured, all instruments are noops with zero overhead
type Telemetry struct {
	Tracer     trace.Tracer
	Propagator propagation.TextMapPropagator

	// Consumer metrics
	MessagesConsumed metric.Int64Counter
	PollDuration     metric.Float64Histogram
	OverflowSpills   metric.Int64Counter

	// Processing metrics
	ProcessDuration metric.Float64Histogram

	// Offset store metrics
	StoreFlushes  metric.Int64Counter
	FlushDuration metric.Float64Histogram
	FlushLag      metric.Int64Histogram

	// Error metrics
	Errors              metric.Int64Counter
	ErrorHandlerActions metric.Int64Counter

	// Loop state metrics
	LoopsActive     metric.Int64UpDownCounter
	LoopTransitions metric.Int64Counter
}

// NewTelemetry creates a Telemetry instance from the given providers.
// all providers are optional and defaulted to noops if nil
func NewTelemetry(tp trace.TracerProvider, mp metric.MeterProvider, prop propagation.TextMapPropagator) (
	*Telemetry, error,
) {
	if tp == nil {
		tp = traceNoop.NewTracerProvider()
	}
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	if prop == nil {
		prop = propagation.TraceContext{}
	}

	tracer := tp.Tracer(scopeName)
	meter := mp.Meter(scopeName)

	messagesConsumed, err := meter.Int64Counter(
		"messaging.consumer.messages",
		metric.WithDescription("Records consumed"),
	)
	if err != nil {
		return nil, err
	}

	pollDuration, err := meter.Float64Histogram(
		"extoffset.poll.duration",
		metric.WithDescription("Time per Poll() call"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	overflowSpills, err := meter.Int64Counter(
		"extoffset.overflow.spills",
		metric.WithDescription("Records routed to the overflow queue"),
	)
	if err != nil {
		return nil, err
	}

	processDuration, err := meter.Float64Histogram(
		"extoffset.process.duration",
		metric.WithDescription("Time spent in the processing callback"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	storeFlushes, err := meter.Int64Counter(
		"extoffset.store.flushes",
		metric.WithDescription("Offset record writes to the store"),
	)
	if err != nil {
		return nil, err
	}

	flushDuration, err := meter.Float64Histogram(
		"extoffset.store.flush.duration",
		metric.WithDescription("Time per offset record write"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	flushLag, err := meter.Int64Histogram(
		"extoffset.store.flush.lag",
		metric.WithDescription("Offsets advanced since the previous write, per write"),
	)
	if err != nil {
		return nil, err
	}

	errors, err := meter.Int64Counter(
		"extoffset.errors",
		metric.WithDescription("Processing errors encountered"),
	)
	if err != nil {
		return nil, err
	}

	errorHandlerActions, err := meter.Int64Counter(
		"extoffset.error_handler.actions",
		metric.WithDescription("Error handler decisions"),
	)
	if err != nil {
		return nil, err
	}

	loopsActive, err := meter.Int64UpDownCounter(
		"extoffset.loops.active",
		metric.WithDescription("Running consume loops"),
	)
	if err != nil {
		return nil, err
	}

	loopTransitions, err := meter.Int64Counter(
		"extoffset.loop.transitions",
		metric.WithDescription("Consume loop state transitions"),
	)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Tracer:              tracer,
		Propagator:          prop,
		MessagesConsumed:    messagesConsumed,
		PollDuration:        pollDuration,
		OverflowSpills:      overflowSpills,
		ProcessDuration:     processDuration,
		StoreFlushes:        storeFlushes,
		FlushDuration:       flushDuration,
		FlushLag:            flushLag,
		Errors:              errors,
		ErrorHandlerActions: errorHandlerActions,
		LoopsActive:         loopsActive,
		LoopTransitions:     loopTransitions,
	}, nil
}

// Noop returns a Telemetry instance with all noop instruments
func Noop() *Telemetry {
	t, _ := NewTelemetry(nil, nil, nil)
	return t
}
