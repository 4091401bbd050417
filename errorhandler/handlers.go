package errorhandler

import (
	"context"
	"time"

	"github.com/hugolhafner/dskit/backoff"
	"github.com/hugolhafner/extoffset/logger"
)

// LogAndContinue logs error and continues processing
func LogAndContinue(logger logger.Logger) Handler {
	return HandlerFunc(
		func(ctx context.Context, ec ErrorContext) Action {
			logger.Error("Error processing record, skipping", ec.logFields()...)
			return ActionContinue{}
		},
	)
}

// SilentContinue skips the record without logging
func SilentContinue() Handler {
	return HandlerFunc(
		func(ctx context.Context, ec ErrorContext) Action {
			return ActionContinue{}
		},
	)
}

// WithMaxAttempts retries a record until it has been tried maxAttempts times,
// then hands it to fallback. Records that cannot succeed on retry go straight
// to fallback.
func WithMaxAttempts(maxAttempts int, b backoff.Backoff, fallback Handler) Handler {
	return HandlerFunc(
		func(ctx context.Context, ec ErrorContext) Action {
			if ec.Attempt >= maxAttempts || !ec.Retryable() {
				return fallback.Handle(ctx, ec)
			}

			select {
			case <-ctx.Done():
				return fallback.Handle(ctx, ec)
			case <-time.After(b.Next(uint(ec.Attempt))):
			}

			return ActionRetry{}
		},
	)
}

// ActionLogger logs the action decided by the next handler
func ActionLogger(l logger.Logger, level logger.LogLevel, next Handler) Handler {
	return HandlerFunc(
		func(ctx context.Context, ec ErrorContext) Action {
			action := next.Handle(ctx, ec)

			kv := append([]any{"action", action.Type().String()}, ec.logFields()...)
			l.Log(level, "Error handler decision", kv...)
			return action
		},
	)
}
