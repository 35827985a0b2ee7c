// Package fsrs implements the retention model: a power-law forgetting curve
// with FSRS-5 stability and difficulty updates, and the schedulers that turn
// a grade into an updated item.
package fsrs

import (
	"time"

	"github.com/danieldreier/flashcard-scheduler/internal/card"
	gofsrs "github.com/open-spaced-repetition/go-fsrs"
)

// Scheduler computes post-review item state.
type Scheduler interface {
	// NextReview returns the item after applying grade at now.
	NextReview(item card.Item, grade card.Grade, now time.Time) card.Item

	// Retrievability returns the predicted recall probability of the item
	// at now.
	Retrievability(item card.Item, now time.Time) float64

	// Params returns the configuration the scheduler runs with.
	Params() Params
}

// Engine names a Scheduler implementation.
type Engine string

const (
	EngineNative  Engine = "fsrs5"
	EngineLibrary Engine = "go-fsrs"
)

// NewScheduler returns the scheduler for engine, defaulting to the native
// model for unknown names.
func NewScheduler(engine Engine, p Params) Scheduler {
	if engine == EngineLibrary {
		return NewLibraryScheduler(p)
	}
	return NewModel(p)
}

// Model is the native FSRS-5 scheduler.
type Model struct {
	params Params
}

// NewModel creates a Model. Zero-valued settings receive defaults.
func NewModel(p Params) *Model {
	return &Model{params: p.normalized()}
}

// NextReview implements Scheduler.
func (m *Model) NextReview(item card.Item, grade card.Grade, now time.Time) card.Item {
	return NextReview(item, grade, now, m.params)
}

// Retrievability implements Scheduler.
func (m *Model) Retrievability(item card.Item, now time.Time) float64 {
	if item.Phase == card.PhaseNew {
		return 0
	}
	return Retrievability(ElapsedDays(item, now), item.Stability)
}

// Params implements Scheduler.
func (m *Model) Params() Params {
	return m.params
}

// LibraryScheduler delegates scheduling to go-fsrs. It is kept as a
// reference engine to compare against the native model.
type LibraryScheduler struct {
	parameters gofsrs.Parameters
	params     Params
}

// NewLibraryScheduler creates a go-fsrs backed scheduler. Only the request
// retention is carried over; go-fsrs uses its own weights and steps.
func NewLibraryScheduler(p Params) *LibraryScheduler {
	p = p.normalized()
	parameters := gofsrs.DefaultParam()
	parameters.RequestRetention = p.RequestRetention
	return &LibraryScheduler{parameters: parameters, params: p}
}

// NextReview implements Scheduler.
func (l *LibraryScheduler) NextReview(item card.Item, grade card.Grade, now time.Time) card.Item {
	out := item.Clone()
	if out.Phase == card.PhaseSuspended {
		out.Reps++
		out.LastReview = now
		return out
	}
	grade = card.Grade(gradeIndex(grade))

	// Use the Repeat method from the go-fsrs library to calculate the next schedule
	schedulingInfos := l.parameters.Repeat(toLibraryCard(item, now), now)
	next := schedulingInfos[grade].Card

	wasReview := item.Phase.Bucket() == card.BucketReview || item.Phase.Bucket() == card.BucketOther
	out.Phase = phaseFromState(next.State)
	out.Stability = next.Stability
	out.Difficulty = next.Difficulty
	out.Due = next.Due
	out.Interval = next.Due.Sub(now).Hours() / 24
	out.Reps++
	out.LastReview = now
	if wasReview && grade == card.Again {
		out.Lapses++
		handleLeech(&out, l.params.Leech)
	}
	return out
}

// Retrievability implements Scheduler. go-fsrs shares the native decay
// curve, so the native formula is used.
func (l *LibraryScheduler) Retrievability(item card.Item, now time.Time) float64 {
	if item.Phase == card.PhaseNew {
		return 0
	}
	return Retrievability(ElapsedDays(item, now), item.Stability)
}

// Params implements Scheduler.
func (l *LibraryScheduler) Params() Params {
	return l.params
}

func toLibraryCard(item card.Item, now time.Time) gofsrs.Card {
	c := gofsrs.NewCard()
	c.Due = item.DueAt(now)
	c.State = item.Phase.State()
	c.Stability = item.Stability
	c.Difficulty = item.Difficulty
	c.Reps = uint64(max(item.Reps, 0))
	c.ElapsedDays = uint64(ElapsedDays(item, now))
	c.ScheduledDays = uint64(max(item.Interval, 0))
	c.LastReview = item.LastReview
	if c.State != gofsrs.New && c.LastReview.IsZero() {
		c.LastReview = now.Add(-time.Duration(item.EffectiveInterval() * float64(day)))
	}
	return c
}

func phaseFromState(s gofsrs.State) card.Phase {
	switch s {
	case gofsrs.New:
		return card.PhaseNew
	case gofsrs.Learning:
		return card.PhaseLearning
	case gofsrs.Relearning:
		return card.PhaseRelearning
	default:
		return card.PhaseReview
	}
}
