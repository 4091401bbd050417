package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/hugolhafner/extoffset/errorhandler"
	"github.com/hugolhafner/extoffset/kafka"
	"github.com/hugolhafner/extoffset/logger"
	extotel "github.com/hugolhafner/extoffset/otel"
	"github.com/hugolhafner/extoffset/serde"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// sleep waits for d or until ctx is done, reporting whether the full duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// invokeProcessor runs p, turning a panic into an error.
func invokeProcessor(ctx context.Context, p Processor, rec kafka.ConsumerRecord) (panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v\n%s", r, debug.Stack())
			panicked = true
		}
	}()

	return false, p.Process(ctx, rec)
}

// processRecordWithRetry runs the error-retry loop for a single record,
// including span creation, context propagation and metric recording.
// It only returns once the record succeeded, was skipped, or ctx is done.
func processRecordWithRetry(
	ctx context.Context,
	loopID int,
	group string,
	rec kafka.ConsumerRecord,
	p Processor,
	handler errorhandler.Handler,
	tel *extotel.Telemetry,
	l logger.Logger,
) {
	ctx = extotel.ExtractRecord(ctx, tel.Propagator, rec)
	partitionID := strconv.FormatInt(int64(rec.Partition), 10)

	processStart := time.Now()
	ctx, span := tel.Tracer.Start(
		ctx, rec.Topic+" process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationTypeProcess,
			semconv.MessagingDestinationName(rec.Topic),
			semconv.MessagingDestinationPartitionID(partitionID),
			semconv.MessagingKafkaOffsetKey.Int64(rec.Offset),
			semconv.MessagingConsumerGroupName(group),
			semconv.MessagingMessageBodySize(rec.Size()),
			extotel.AttrLoopID.Int(loopID),
		),
	)
	defer span.End()

	ec := errorhandler.NewErrorContext(rec, nil).WithLoopID(loopID)
	recordProcessStatus := func(status string) {
		span.SetAttributes(attribute.Int("extoffset.process.attempts", ec.Attempt))
		tel.ProcessDuration.Record(
			ctx, time.Since(processStart).Seconds(), metric.WithAttributes(
				semconv.MessagingDestinationName(rec.Topic),
				semconv.MessagingDestinationPartitionID(partitionID),
				extotel.AttrProcessStatus.String(status),
			),
		)
	}

	for {
		if err := ctx.Err(); err != nil {
			l.Warn("Context cancelled while processing record", "offset", rec.Offset, "error", err)
			span.SetStatus(codes.Error, err.Error())
			recordProcessStatus(extotel.StatusFailed)
			return
		}

		panicked, err := invokeProcessor(ctx, p, rec)
		if err == nil {
			l.Debug("Record processed successfully", "topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset)
			recordProcessStatus(extotel.StatusSuccess)
			return
		}

		phase := errorhandler.PhaseProcessing
		switch {
		case panicked:
			phase = errorhandler.PhasePanic
		case errors.Is(err, serde.ErrDeserialise):
			phase = errorhandler.PhaseSerde
		}
		ec = ec.WithError(err).WithPhase(phase)

		span.RecordError(err)
		tel.Errors.Add(
			ctx, 1, metric.WithAttributes(
				semconv.MessagingDestinationName(rec.Topic),
				extotel.AttrErrorPhase.String(ec.Phase.String()),
			),
		)

		action := handler.Handle(ctx, ec)

		tel.ErrorHandlerActions.Add(
			ctx, 1, metric.WithAttributes(
				extotel.AttrErrorAction.String(action.Type().String()),
				semconv.MessagingDestinationName(rec.Topic),
				extotel.AttrErrorPhase.String(ec.Phase.String()),
			),
		)

		switch action.Type() {
		case errorhandler.ActionTypeRetry:
			l.Debug("Retrying record", "attempt", ec.Attempt, "offset", rec.Offset)
			ec = ec.IncrementAttempt()

			if ec.Attempt%10 == 0 {
				l.Warn(
					"Record seen high number of retry attempts, consider allowing the error handler to skip it",
					"attempt", ec.Attempt, "topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset,
				)
			}
			continue

		case errorhandler.ActionTypeContinue:
			l.Debug("Skipping failed record", "offset", rec.Offset)
			span.SetStatus(codes.Error, err.Error())
			recordProcessStatus(extotel.StatusSkipped)
			return

		default:
			l.Error(
				"Unknown error handler action, skipping record",
				"action", action.Type().String(),
				"error", err,
				"topic", rec.Topic,
				"partition", rec.Partition,
				"offset", rec.Offset,
			)
			span.SetStatus(codes.Error, err.Error())
			recordProcessStatus(extotel.StatusFailed)
			return
		}
	}
}
