package errorhandler

import (
	"github.com/hugolhafner/extoffset/kafka"
)

// ErrorContext describes one failed attempt at processing a record.
type ErrorContext struct {
	Record kafka.ConsumerRecord

	// Error is what the processor returned, or what it panicked with.
	Error error

	// Attempt counts from 1.
	Attempt int

	// LoopID identifies the consume loop whose worker took the record.
	LoopID int

	Phase ErrorPhase
}

func NewErrorContext(record kafka.ConsumerRecord, err error) ErrorContext {
	return ErrorContext{
		Record:  record,
		Error:   err,
		Attempt: 1,
		Phase:   PhaseProcessing,
	}
}

func (ec ErrorContext) WithError(err error) ErrorContext {
	ec.Error = err
	return ec
}

func (ec ErrorContext) WithAttempt(attempt int) ErrorContext {
	ec.Attempt = attempt
	return ec
}

func (ec ErrorContext) WithLoopID(id int) ErrorContext {
	ec.LoopID = id
	return ec
}

func (ec ErrorContext) WithPhase(phase ErrorPhase) ErrorContext {
	ec.Phase = phase
	return ec
}

func (ec ErrorContext) IncrementAttempt() ErrorContext {
	ec.Attempt++
	return ec
}

// Retryable reports whether processing the same record again could succeed.
// A payload that failed to decode will fail the same way every time.
func (ec ErrorContext) Retryable() bool {
	return ec.Phase != PhaseSerde
}

// logFields locates the failure for log entries.
func (ec ErrorContext) logFields() []any {
	return []any{
		"error", ec.Error,
		"partition", ec.Record.TopicPartition(),
		"offset", ec.Record.Offset,
		"attempt", ec.Attempt,
		"phase", ec.Phase.String(),
		"loop", ec.LoopID,
	}
}
