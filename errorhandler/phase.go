package errorhandler

import (
	"context"
)

// ErrorPhase tells how the processing callback failed.
type ErrorPhase int

const (
	PhaseUnknown    ErrorPhase = iota // zero value - uninitialized phase
	PhaseSerde                        // the record could not be decoded
	PhaseProcessing                   // the callback returned an error
	PhasePanic                        // the callback panicked
)

func (p ErrorPhase) String() string {
	switch p {
	case PhaseSerde:
		return "serde"
	case PhaseProcessing:
		return "processing"
	case PhasePanic:
		return "panic"
	default:
		return "unknown"
	}
}

var _ Handler = (*PhaseRouter)(nil)

type PhaseRouter struct {
	handler           Handler
	serdeHandler      Handler
	processingHandler Handler
	panicHandler      Handler
}

// NewPhaseRouter routes failures to a handler per phase, falling back to handler.
// If handler is nil, it defaults to SilentContinue.
func NewPhaseRouter(handler, serdeHandler, processingHandler, panicHandler Handler) *PhaseRouter {
	if handler == nil {
		handler = SilentContinue()
	}

	return &PhaseRouter{
		handler:           handler,
		serdeHandler:      serdeHandler,
		processingHandler: processingHandler,
		panicHandler:      panicHandler,
	}
}

func (r *PhaseRouter) Handle(ctx context.Context, ec ErrorContext) Action {
	switch ec.Phase {
	case PhaseSerde:
		if r.serdeHandler != nil {
			return r.serdeHandler.Handle(ctx, ec)
		}
	case PhaseProcessing:
		if r.processingHandler != nil {
			return r.processingHandler.Handle(ctx, ec)
		}
	case PhasePanic:
		if r.panicHandler != nil {
			return r.panicHandler.Handle(ctx, ec)
		}
	case PhaseUnknown:
	default:
	}

	return r.handler.Handle(ctx, ec)
}
