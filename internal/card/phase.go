package card

import (
	"encoding/json"
	"fmt"

	gofsrs "github.com/open-spaced-repetition/go-fsrs"
)

// Phase is the single source of truth for where an item is in its
// lifecycle. The coarse status and the decay-model state are both derived
// from it.
type Phase int

const (
	PhaseUnknown Phase = iota
	PhaseNew
	PhaseLearning
	PhaseReview
	PhaseRelearning
	PhaseKnown
	PhaseSuspended
)

// Status is the coarse lifecycle label used by persistence and rendering.
type Status string

const (
	StatusNew        Status = "new"
	StatusLearning   Status = "learning"
	StatusReview     Status = "review"
	StatusRelearning Status = "relearning"
	StatusKnown      Status = "known"
	StatusSuspended  Status = "suspended"
)

// Bucket is the ordering class an item belongs to.
type Bucket int

const (
	BucketNew Bucket = iota
	BucketLearning
	BucketReview
	BucketOther
)

var phaseStatus = map[Phase]Status{
	PhaseNew:        StatusNew,
	PhaseLearning:   StatusLearning,
	PhaseReview:     StatusReview,
	PhaseRelearning: StatusRelearning,
	PhaseKnown:      StatusKnown,
	PhaseSuspended:  StatusSuspended,
}

// Status maps the phase to its coarse status. PhaseUnknown maps to "".
func (p Phase) Status() Status {
	return phaseStatus[p]
}

// State maps the phase to the decay-model state.
func (p Phase) State() gofsrs.State {
	switch p {
	case PhaseNew:
		return gofsrs.New
	case PhaseLearning:
		return gofsrs.Learning
	case PhaseRelearning:
		return gofsrs.Relearning
	default:
		return gofsrs.Review
	}
}

// Bucket classifies the phase for queue ordering.
func (p Phase) Bucket() Bucket {
	switch p {
	case PhaseNew:
		return BucketNew
	case PhaseLearning, PhaseRelearning:
		return BucketLearning
	case PhaseReview:
		return BucketReview
	default:
		return BucketOther
	}
}

// IsLearning reports whether the phase runs on short learning steps.
func (p Phase) IsLearning() bool {
	return p == PhaseLearning || p == PhaseRelearning
}

func (p Phase) String() string {
	if s, ok := phaseStatus[p]; ok {
		return string(s)
	}
	return "unknown"
}

// ParsePhase resolves an external record carrying both a status and a
// decay-model state. The status decides the lifecycle; the state only
// separates learning from relearning.
func ParsePhase(status string, state gofsrs.State) Phase {
	switch Status(status) {
	case StatusNew:
		return PhaseNew
	case StatusLearning, StatusRelearning:
		if state == gofsrs.Relearning || Status(status) == StatusRelearning {
			return PhaseRelearning
		}
		return PhaseLearning
	case StatusReview:
		return PhaseReview
	case StatusKnown:
		return PhaseKnown
	case StatusSuspended:
		return PhaseSuspended
	default:
		return PhaseUnknown
	}
}

// MarshalJSON encodes the phase as its status string.
func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(p.Status()))
}

// UnmarshalJSON decodes a status string. Unrecognised values become
// PhaseUnknown rather than failing, so malformed records still load.
func (p *Phase) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("card: invalid phase: %s", data)
	}
	*p = ParsePhase(s, gofsrs.New)
	return nil
}
