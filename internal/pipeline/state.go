package pipeline

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/voicenote/internal/faults"
	"github.com/fyrsmithlabs/voicenote/internal/logging"
	"go.uber.org/zap"
)

// State is a step in the life of one request.
type State int

const (
	StateReceived State = iota
	StateValidated
	StateTranscribed
	StateExtracted
	StatePersisted
	StateResponded
	StateFailed
)

var stateNames = [...]string{
	StateReceived:    "received",
	StateValidated:   "validated",
	StateTranscribed: "transcribed",
	StateExtracted:   "extracted",
	StatePersisted:   "persisted",
	StateResponded:   "responded",
	StateFailed:      "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// transitions lists the forward moves out of each state. Failed is
// reachable from every state before Responded.
var transitions = map[State][]State{
	StateReceived:    {StateValidated},
	StateValidated:   {StateTranscribed, StateExtracted},
	StateTranscribed: {StateExtracted},
	StateExtracted:   {StatePersisted},
	StatePersisted:   {StateResponded},
}

// CanTransition reports whether a request may move from one state to another.
func CanTransition(from, to State) bool {
	if to == StateFailed {
		return from != StateResponded && from != StateFailed
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// run tracks one request through the state machine.
type run struct {
	state     State
	kind      faults.Kind
	inputType string
	start     time.Time
	logger    *logging.Logger
}

func newRun(logger *logging.Logger) *run {
	return &run{state: StateReceived, inputType: "unknown", start: time.Now(), logger: logger}
}

func (r *run) advance(ctx context.Context, to State) {
	if !CanTransition(r.state, to) {
		r.logger.Error(ctx, "invalid pipeline transition",
			zap.Stringer("from", r.state),
			zap.Stringer("to", to),
		)
	}
	r.logger.Debug(ctx, "pipeline state",
		zap.Stringer("from", r.state),
		zap.Stringer("to", to),
	)
	r.state = to
}

// fail moves the run to Failed and returns err tagged with kind. Errors
// that already carry a kind keep it.
func (r *run) fail(ctx context.Context, kind faults.Kind, err error) error {
	if faults.KindOf(err) == faults.KindUnclassified {
		err = classify(kind, err)
	}
	r.kind = faults.KindOf(err)
	r.advance(ctx, StateFailed)
	return err
}

func classify(kind faults.Kind, err error) error {
	switch kind {
	case faults.KindTranscription:
		return faults.Unavailable(faults.ServiceTranscription, faults.IsDeadline(err), err)
	case faults.KindSemanticExtraction:
		return faults.Unavailable(faults.ServiceSemanticExtraction, faults.IsDeadline(err), err)
	case faults.KindStorage:
		return faults.Storage(err)
	default:
		return faults.Unclassified(err)
	}
}
