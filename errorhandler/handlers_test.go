//go:build unit

package errorhandler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hugolhafner/dskit/backoff"
	"github.com/hugolhafner/extoffset/errorhandler"
	"github.com/hugolhafner/extoffset/kafka"
	"github.com/hugolhafner/extoffset/logger"
	mocklogger "github.com/hugolhafner/extoffset/logger/mock"
	"github.com/stretchr/testify/require"
)

func TestLogAndContinue(t *testing.T) {
	t.Parallel()
	var testErr = errors.New("processing failed")

	tests := []struct {
		name string
		err  error
	}{
		{"simple error", testErr},
		{"nil error", nil},
	}

	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				t.Parallel()
				ec := errorhandler.NewErrorContext(kafka.ConsumerRecord{}, nil)

				l := mocklogger.New()
				h := errorhandler.LogAndContinue(l)
				action := h.Handle(context.Background(), ec.WithError(tt.err))

				require.Equal(t, errorhandler.ActionContinue{}, action)
				l.AssertCalledWithLevelAndMessage(t, logger.ErrorLevel, "Error processing record, skipping")
			},
		)
	}
}

func TestWithMaxAttempts(t *testing.T) {
	t.Parallel()
	t.Run(
		"should call fallback after max attempts", func(t *testing.T) {
			t.Parallel()
			var testErr = errors.New("processing failed")
			var maxAttempts = 3

			ec := errorhandler.NewErrorContext(kafka.ConsumerRecord{}, testErr)

			fallbackCalled := false
			fallback := errorhandler.HandlerFunc(
				func(ctx context.Context, ec errorhandler.ErrorContext) errorhandler.Action {
					fallbackCalled = true
					return errorhandler.ActionContinue{}
				},
			)

			h := errorhandler.WithMaxAttempts(maxAttempts, backoff.NewFixed(0), fallback)

			for i := 1; i < maxAttempts; i++ {
				action := h.Handle(context.Background(), ec.WithAttempt(i))
				require.False(t, fallbackCalled, "fallback should not be called yet on attempt %d", i)
				require.Equal(t, errorhandler.ActionRetry{}, action)
			}

			action := h.Handle(context.Background(), ec.WithAttempt(maxAttempts))
			require.True(t, fallbackCalled, "fallback should have been called")
			require.Equal(t, errorhandler.ActionContinue{}, action)
		},
	)

	t.Run(
		"should not retry undecodable records", func(t *testing.T) {
			t.Parallel()
			ec := errorhandler.NewErrorContext(kafka.ConsumerRecord{}, errors.New("bad payload")).
				WithPhase(errorhandler.PhaseSerde)

			h := errorhandler.WithMaxAttempts(5, backoff.NewFixed(time.Minute), errorhandler.SilentContinue())
			require.Equal(t, errorhandler.ActionContinue{}, h.Handle(context.Background(), ec))
			require.False(t, ec.Retryable())
			require.True(t, ec.WithPhase(errorhandler.PhasePanic).Retryable())
		},
	)

	t.Run(
		"should wait on attempts", func(t *testing.T) {
			t.Parallel()
			ec := errorhandler.NewErrorContext(kafka.ConsumerRecord{}, errors.New("processing failed"))

			h := errorhandler.WithMaxAttempts(
				3, backoff.NewFixed(100*time.Millisecond), errorhandler.SilentContinue(),
			)

			start := time.Now()
			action := h.Handle(context.Background(), ec.WithAttempt(2))
			elapsed := time.Since(start)

			require.Equal(t, errorhandler.ActionRetry{}, action)
			require.GreaterOrEqual(t, elapsed, 100*time.Millisecond, "should have waited on retry attempt")
		},
	)

	t.Run(
		"should give up on context cancellation", func(t *testing.T) {
			t.Parallel()
			ec := errorhandler.NewErrorContext(kafka.ConsumerRecord{}, errors.New("processing failed"))

			fallbackCalled := false
			fallback := errorhandler.HandlerFunc(
				func(ctx context.Context, ec errorhandler.ErrorContext) errorhandler.Action {
					fallbackCalled = true
					return errorhandler.ActionContinue{}
				},
			)

			h := errorhandler.WithMaxAttempts(3, backoff.NewFixed(time.Minute), fallback)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			action := h.Handle(ctx, ec)
			require.True(t, fallbackCalled)
			require.Equal(t, errorhandler.ActionContinue{}, action)
		},
	)
}

func TestActionLogger(t *testing.T) {
	t.Parallel()
	l := mocklogger.New()
	h := errorhandler.ActionLogger(l, logger.WarnLevel, errorhandler.SilentContinue())

	action := h.Handle(
		context.Background(), errorhandler.NewErrorContext(kafka.ConsumerRecord{Topic: "t"}, errors.New("x")),
	)

	require.Equal(t, errorhandler.ActionTypeContinue, action.Type())
	l.AssertCalledWithLevelAndMessage(t, logger.WarnLevel, "Error handler decision")
}

func TestPhaseRouter(t *testing.T) {
	t.Parallel()
	retry := errorhandler.HandlerFunc(
		func(ctx context.Context, ec errorhandler.ErrorContext) errorhandler.Action {
			return errorhandler.ActionRetry{}
		},
	)

	r := errorhandler.NewPhaseRouter(nil, nil, nil, retry)
	ec := errorhandler.NewErrorContext(kafka.ConsumerRecord{}, errors.New("x"))

	require.Equal(t, errorhandler.ActionContinue{}, r.Handle(context.Background(), ec))
	require.Equal(
		t, errorhandler.ActionRetry{}, r.Handle(context.Background(), ec.WithPhase(errorhandler.PhasePanic)),
	)
	require.Equal(t, "panic", errorhandler.PhasePanic.String())
	require.Equal(t, "Retry", errorhandler.ActionTypeRetry.String())
}
