package session

import (
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/danieldreier/flashcard-scheduler/internal/card"
	"github.com/danieldreier/flashcard-scheduler/internal/queue"
	"go.uber.org/zap"
)

// Machine owns one session. Every transition method returns true when it
// was applied and false when the event is not valid in the current status;
// ignored events leave the state untouched.
type Machine struct {
	mu      sync.Mutex
	logger  *zap.Logger
	rng     *rand.Rand
	legacy  queue.NewReviewOrder
	display *queue.DisplayConfig
	state   State
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger used for transition tracing.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithRand sets the random source handed to the queue sorter.
func WithRand(rng *rand.Rand) Option {
	return func(m *Machine) { m.rng = rng }
}

// WithOrder sets the ordering used when the session is initialised. A nil
// display config selects the legacy two-bucket order.
func WithOrder(legacy queue.NewReviewOrder, display *queue.DisplayConfig) Option {
	return func(m *Machine) {
		m.legacy = legacy
		if display != nil {
			d := *display
			m.display = &d
		} else {
			m.display = nil
		}
	}
}

// New creates a machine in the complete state. Call Init to load a queue.
func New(opts ...Option) *Machine {
	def := queue.DefaultDisplayConfig()
	m := &Machine{
		logger:  zap.NewNop(),
		legacy:  queue.NewFirst,
		display: &def,
		state:   State{Status: StatusComplete},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) ignored(event string) bool {
	m.logger.Debug("Ignoring session event",
		zap.String("event", event),
		zap.String("status", string(m.state.Status)))
	return false
}

// Init sorts items into a fresh queue, resets the index and history and
// computes the initial status.
func (m *Machine) Init(items, reserve []card.Item, now time.Time, ignoreLearningSteps bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sorter := queue.NewSorter(m.rng, now)
	m.state = State{
		Cards:   sorter.Sort(items, m.legacy, m.display),
		Reserve: cloneItems(reserve),
	}
	if len(m.state.Cards) == 0 {
		m.state.Status = StatusComplete
	} else {
		m.scheduleCheck(now, ignoreLearningSteps)
	}
	m.logger.Debug("Session initialised",
		zap.Int("cards", len(m.state.Cards)),
		zap.Int("reserve", len(m.state.Reserve)),
		zap.String("status", string(m.state.Status)))
	return true
}

// Flip reveals the answer of the current card.
func (m *Machine) Flip() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status != StatusIdle {
		return m.ignored("flip")
	}
	m.state.Status = StatusFlipped
	return true
}

// StartProcessing marks a grade as submitted.
func (m *Machine) StartProcessing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status != StatusFlipped && m.state.Status != StatusIdle {
		return m.ignored("start_processing")
	}
	m.state.Status = StatusProcessing
	return true
}

// GradeSuccess commits a grade: it records history, stores the updated card,
// re-queues it while it is still learning and moves to the next card.
func (m *Machine) GradeSuccess(r GradeResult) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &m.state
	if s.Status != StatusProcessing || s.CurrentIndex >= len(s.Cards) {
		return m.ignored("grade_success")
	}

	idx := s.CurrentIndex
	entry := HistoryEntry{Snapshot: s.Cards[idx].Clone(), Index: idx}
	updated := r.Item.Clone()
	s.Cards[idx] = updated

	if updated.Phase.IsLearning() && !r.IsLast {
		s.Cards = append(s.Cards, updated.Clone())
		entry.AddedID = updated.ID
	}
	s.History = append(s.History, entry)

	if idx+1 >= len(s.Cards) {
		s.Status = StatusComplete
		return true
	}
	s.CurrentIndex = idx + 1
	m.scheduleCheck(r.Now, r.IgnoreLearningSteps)
	return true
}

// GradeFailure returns a processing session to a gradable state.
func (m *Machine) GradeFailure() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status != StatusProcessing {
		return m.ignored("grade_failure")
	}
	if len(m.state.History) > 0 {
		m.state.Status = StatusFlipped
	} else {
		m.state.Status = StatusIdle
	}
	return true
}

// Undo reverts the last committed grade and leaves the restored card flipped.
func (m *Machine) Undo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &m.state
	if len(s.History) == 0 {
		return m.ignored("undo")
	}

	entry := s.History[len(s.History)-1]
	s.History = s.History[:len(s.History)-1]

	if entry.AddedID != "" {
		s.Cards = removeRequeued(s.Cards, entry.AddedID, entry.Index)
	}

	pos := restorePosition(s.Cards, entry, s.CurrentIndex)
	if pos >= len(s.Cards) || s.Cards[pos].ID != entry.Snapshot.ID {
		pos = min(pos, len(s.Cards))
		s.Cards = slices.Insert(s.Cards, pos, entry.Snapshot.Clone())
	} else {
		s.Cards[pos] = entry.Snapshot.Clone()
	}
	s.CurrentIndex = pos
	s.Status = StatusFlipped
	return true
}

// removeRequeued drops the copy a grade appended. The tail is checked first;
// otherwise the last occurrence after the graded position is removed.
func removeRequeued(cards []card.Item, id string, after int) []card.Item {
	if n := len(cards); n > 0 && cards[n-1].ID == id && n-1 > after {
		return cards[:n-1]
	}
	for i := len(cards) - 1; i > after; i-- {
		if cards[i].ID == id {
			return slices.Delete(cards, i, i+1)
		}
	}
	return cards
}

// restorePosition finds where the snapshot came from. Cards may have moved
// since the grade, so the id is searched backwards from the current index.
func restorePosition(cards []card.Item, entry HistoryEntry, current int) int {
	if entry.Index < len(cards) && cards[entry.Index].ID == entry.Snapshot.ID {
		return entry.Index
	}
	for i := min(current, len(cards)-1); i >= 0; i-- {
		if cards[i].ID == entry.Snapshot.ID {
			return i
		}
	}
	return max(min(entry.Index, len(cards)), 0)
}

// Tick re-runs the schedule check while waiting.
func (m *Machine) Tick(now time.Time, ignoreLearningSteps bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status != StatusWaiting {
		return m.ignored("tick")
	}
	m.scheduleCheck(now, ignoreLearningSteps)
	return true
}

// RemoveCard drops every queue, reserve and history entry with id. When a
// new card was removed, replacement (or else the head of the reserve pool)
// takes its place: at the tail for reviewFirst, otherwise right after the
// last new or learning card at or after the current position, or right
// after the current card when there is none.
func (m *Machine) RemoveCard(id string, replacement *card.Item, now time.Time, ignoreLearningSteps bool, order queue.NewReviewOrder) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &m.state

	var currentID string
	if s.CurrentIndex < len(s.Cards) {
		currentID = s.Cards[s.CurrentIndex].ID
	}

	kept := s.Cards[:0:0]
	removedBefore, removedNew, found := 0, false, false
	for i, it := range s.Cards {
		if it.ID != id {
			kept = append(kept, it)
			continue
		}
		found = true
		removedNew = removedNew || it.Phase == card.PhaseNew
		if i < s.CurrentIndex {
			removedBefore++
		}
	}
	reserveLen := len(s.Reserve)
	s.Reserve = slices.DeleteFunc(s.Reserve, func(it card.Item) bool { return it.ID == id })
	if !found && reserveLen == len(s.Reserve) {
		return m.ignored("remove_card")
	}
	s.Cards = kept
	s.CurrentIndex = max(s.CurrentIndex-removedBefore, 0)
	// A removed card can no longer be restored by undo.
	s.History = slices.DeleteFunc(s.History, func(h HistoryEntry) bool { return h.Snapshot.ID == id })

	if removedNew {
		m.promote(replacement, order, currentID == id)
	}

	if len(s.Cards) == 0 {
		s.CurrentIndex = 0
		s.Status = StatusComplete
		return true
	}
	if s.Status == StatusComplete {
		s.CurrentIndex = min(s.CurrentIndex, len(s.Cards)-1)
		return true
	}
	if s.CurrentIndex >= len(s.Cards) {
		s.CurrentIndex = len(s.Cards) - 1
		s.Status = StatusComplete
		return true
	}
	unchanged := s.Cards[s.CurrentIndex].ID == currentID
	if unchanged && (s.Status == StatusFlipped || s.Status == StatusProcessing) {
		return true
	}
	m.scheduleCheck(now, ignoreLearningSteps)
	return true
}

// promote inserts a reserve card. The card being shown keeps its place
// unless it was the one removed.
func (m *Machine) promote(replacement *card.Item, order queue.NewReviewOrder, removedCurrent bool) {
	s := &m.state
	var next card.Item
	switch {
	case replacement != nil:
		next = replacement.Clone()
		s.Reserve = slices.DeleteFunc(s.Reserve, func(it card.Item) bool { return it.ID == next.ID })
	case len(s.Reserve) > 0:
		next = s.Reserve[0]
		s.Reserve = s.Reserve[1:]
	default:
		return
	}

	pos := len(s.Cards)
	if order != queue.ReviewFirst {
		pos = min(s.CurrentIndex+1, len(s.Cards))
		if removedCurrent {
			pos = min(s.CurrentIndex, len(s.Cards))
		}
		for i := len(s.Cards) - 1; i >= s.CurrentIndex; i-- {
			if b := s.Cards[i].Phase.Bucket(); b == card.BucketNew || b == card.BucketLearning {
				pos = i + 1
				break
			}
		}
	}
	s.Cards = slices.Insert(s.Cards, pos, next)
	m.logger.Debug("Promoted reserve card", zap.String("card_id", next.ID), zap.Int("position", pos))
}

// UpdateCard replaces every entry with the item's id in place. Order and
// index are unchanged.
func (m *Machine) UpdateCard(item card.Item) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for _, list := range [][]card.Item{m.state.Cards, m.state.Reserve} {
		for i := range list {
			if list[i].ID == item.ID {
				list[i] = item.Clone()
				found = true
			}
		}
	}
	if !found {
		return m.ignored("update_card")
	}
	return true
}

// scheduleCheck decides between idle and waiting for the current index,
// promoting the first later card that is already due. Learning cards may be
// shown early when ignoreLearningSteps is set; review cards never are.
func (m *Machine) scheduleCheck(now time.Time, ignoreLearningSteps bool) {
	s := &m.state
	if s.CurrentIndex >= len(s.Cards) {
		s.Status = StatusComplete
		return
	}
	current := s.Cards[s.CurrentIndex]
	if current.IsDue(now) {
		s.Status = StatusIdle
		return
	}
	for j := s.CurrentIndex + 1; j < len(s.Cards); j++ {
		if s.Cards[j].IsDue(now) {
			s.Cards[s.CurrentIndex], s.Cards[j] = s.Cards[j], s.Cards[s.CurrentIndex]
			s.Status = StatusIdle
			return
		}
	}
	if ignoreLearningSteps && current.Phase.IsLearning() {
		s.Status = StatusIdle
		return
	}
	s.Status = StatusWaiting
}

// Status returns the current status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Status
}

// Current returns the card at the current index.
func (m *Machine) Current() (card.Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	if s.Status == StatusComplete || s.CurrentIndex >= len(s.Cards) {
		return card.Item{}, false
	}
	return s.Cards[s.CurrentIndex].Clone(), true
}

// IsFlipped reports whether the answer is showing.
func (m *Machine) IsFlipped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Status == StatusFlipped
}

// IsLast reports whether the current card is the final queue entry.
func (m *Machine) IsLast() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.CurrentIndex >= len(m.state.Cards)-1
}

// Progress is the fraction of the queue already passed.
func (m *Machine) Progress() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	if s.Status == StatusComplete {
		return 1
	}
	if len(s.Cards) == 0 {
		return 0
	}
	return float64(s.CurrentIndex) / float64(len(s.Cards))
}

// Counts tallies the remaining queue, current card included, by bucket.
func (m *Machine) Counts() Counts {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c Counts
	if m.state.Status == StatusComplete {
		return c
	}
	for _, it := range m.state.Cards[m.state.CurrentIndex:] {
		switch it.Phase.Bucket() {
		case card.BucketNew:
			c.New++
		case card.BucketLearning:
			c.Learning++
		default:
			c.Review++
		}
	}
	return c
}

// Snapshot returns a deep copy of the state.
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}
