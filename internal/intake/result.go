package intake

import (
	"time"

	"github.com/gcode-mirror/foe-project/internal/model"
)

// Outcome is the terminal state of one mailbox message within a pass.
// Every outcome except a pass-fatal error still deletes the message.
type Outcome int

const (
	// OutcomePersisted: request row(s) written, Pending status.
	OutcomePersisted Outcome = iota
	// OutcomeIgnored: not a command message (bad token count or keyword).
	OutcomeIgnored
	// OutcomeRejected: sender identity could not be verified.
	OutcomeRejected
	// OutcomeMalformed: payload failed to decode or carried no fields.
	OutcomeMalformed
	// OutcomeDuplicate: request id already processed recently.
	OutcomeDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomePersisted:
		return "persisted"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeRejected:
		return "rejected"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// MessageResult records how one message was handled, so callers and tests
// assert on results rather than log output.
type MessageResult struct {
	Index   int
	Kind    model.RequestKind
	Outcome Outcome
	// Rows is the number of request rows persisted for this message.
	Rows int
}

// PassReport summarizes one complete connect→iterate→disconnect cycle.
type PassReport struct {
	StartedAt    time.Time
	Duration     time.Duration
	MessageCount int
	Results      []MessageResult
}
