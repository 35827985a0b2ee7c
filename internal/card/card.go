// Package card defines the plain records shared by the scheduling engine:
// learnable items, their lifecycle phase, grades and review log entries.
package card

import (
	"math"
	"time"

	gofsrs "github.com/open-spaced-repetition/go-fsrs"
)

// Grade is the learner's self-reported recall quality.
// From go-fsrs: Again=1, Hard=2, Good=3, Easy=4.
type Grade = gofsrs.Rating

const (
	Again = gofsrs.Again
	Hard  = gofsrs.Hard
	Good  = gofsrs.Good
	Easy  = gofsrs.Easy
)

// ValidGrade reports whether g is one of Again, Hard, Good or Easy.
func ValidGrade(g Grade) bool {
	return g >= Again && g <= Easy
}

// Epoch is the pinned due date. Items due at the Unix epoch always sort to
// the front of their bucket.
var Epoch = time.Unix(0, 0).UTC()

// Item is a learnable unit together with its scheduling state.
type Item struct {
	ID           string    `json:"id"`
	Phase        Phase     `json:"phase"`
	Stability    float64   `json:"stability"`
	Difficulty   float64   `json:"difficulty"`
	Interval     float64   `json:"interval"` // days
	Due          time.Time `json:"due"`
	Reps         int       `json:"reps"`
	Lapses       int       `json:"lapses"`
	LearningStep int       `json:"learning_step"`
	LastReview   time.Time `json:"last_review,omitempty"`
	Category     string    `json:"category,omitempty"`

	// Content is owned by the presentation layer; the engine never reads it.
	Front string   `json:"front,omitempty"`
	Back  string   `json:"back,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

// Clone returns a copy of the item that shares no slices with the original.
func (it Item) Clone() Item {
	out := it
	if it.Tags != nil {
		out.Tags = append([]string(nil), it.Tags...)
	}
	return out
}

// EffectiveInterval returns the interval in days, substituting 1 for
// missing, zero, negative or NaN values.
func (it Item) EffectiveInterval() float64 {
	if it.Interval <= 0 || math.IsNaN(it.Interval) {
		return 1
	}
	return it.Interval
}

// DueAt returns the due date, treating an unset date as now.
func (it Item) DueAt(now time.Time) time.Time {
	if it.Due.IsZero() {
		return now
	}
	return it.Due
}

// Pinned reports whether the item carries the epoch due date.
func (it Item) Pinned() bool {
	return it.Due.Equal(Epoch)
}

// IsDue reports whether the item may be presented at now. New items are
// always due.
func (it Item) IsDue(now time.Time) bool {
	if it.Phase == PhaseNew {
		return true
	}
	return !it.DueAt(now).After(now)
}

// HasTag reports whether the item carries tag.
func (it Item) HasTag(tag string) bool {
	for _, t := range it.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ReviewLogEntry records one grading event. Entries are append-only.
type ReviewLogEntry struct {
	ID            string       `json:"id"`
	CardID        string       `json:"card_id"`
	Grade         Grade        `json:"grade"`
	State         gofsrs.State `json:"state"`
	ElapsedDays   float64      `json:"elapsed_days"`
	ScheduledDays float64      `json:"scheduled_days"`
	Stability     float64      `json:"stability"`
	Difficulty    float64      `json:"difficulty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Success reports whether the entry counts as a successful recall.
func (e ReviewLogEntry) Success() bool {
	return e.Grade > Again
}
