// Package session drives one study session: the ordered working queue, the
// flip/grade lifecycle of the current item, the reserve pool and the undo
// history.
package session

import (
	"errors"
	"time"

	"github.com/danieldreier/flashcard-scheduler/internal/card"
)

var (
	// ErrNoSession is returned when an operation needs a session and none is running.
	ErrNoSession = errors.New("no active session")
	// ErrNoCurrentCard is returned when the session has nothing to present.
	ErrNoCurrentCard = errors.New("no current card")
)

// Status is the session's lifecycle state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusFlipped    Status = "flipped"
	StatusProcessing Status = "processing"
	StatusWaiting    Status = "waiting"
	StatusComplete   Status = "complete"
)

// HistoryEntry is one committed grading. AddedID names the copy that was
// re-queued at the tail, if any.
type HistoryEntry struct {
	AddedID  string    `json:"added_id,omitempty"`
	Snapshot card.Item `json:"snapshot"`
	Index    int       `json:"index"`
}

// State is a point-in-time view of the session. CurrentIndex points at a
// valid card unless Status is StatusComplete.
type State struct {
	Status       Status         `json:"status"`
	Cards        []card.Item    `json:"cards"`
	Reserve      []card.Item    `json:"reserve"`
	CurrentIndex int            `json:"current_index"`
	History      []HistoryEntry `json:"history"`
}

func (s State) clone() State {
	out := State{
		Status:       s.Status,
		CurrentIndex: s.CurrentIndex,
		Cards:        cloneItems(s.Cards),
		Reserve:      cloneItems(s.Reserve),
		History:      make([]HistoryEntry, len(s.History)),
	}
	for i, h := range s.History {
		out.History[i] = HistoryEntry{AddedID: h.AddedID, Snapshot: h.Snapshot.Clone(), Index: h.Index}
	}
	return out
}

func cloneItems(items []card.Item) []card.Item {
	out := make([]card.Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

// GradeResult carries a scheduled item back into the machine.
type GradeResult struct {
	// Item is the current card after scheduling.
	Item card.Item
	// IsLast suppresses re-queueing of a card still in learning.
	IsLast              bool
	Now                 time.Time
	IgnoreLearningSteps bool
}

// Counts are the remaining queue entries per bucket.
type Counts struct {
	New      int `json:"new"`
	Learning int `json:"learning"`
	Review   int `json:"review"`
}
