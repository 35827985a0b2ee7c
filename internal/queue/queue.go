// Package queue orders a study session's items. Sorting is pure apart from
// the injected random source, which is only consumed by random policies.
package queue

import (
	"cmp"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/danieldreier/flashcard-scheduler/internal/card"
)

// NewGatherOrder controls how new items are collected before sorting.
type NewGatherOrder string

const (
	GatherInsertion NewGatherOrder = "insertion"
	GatherRandom    NewGatherOrder = "random"
)

// NewSortOrder controls the order of new items.
type NewSortOrder string

const (
	NewSortDue      NewSortOrder = "due"
	NewSortRandom   NewSortOrder = "random"
	NewSortCategory NewSortOrder = "category"
)

// NewReviewOrder controls how new items are merged with the rest.
type NewReviewOrder string

const (
	NewFirst    NewReviewOrder = "newFirst"
	ReviewFirst NewReviewOrder = "reviewFirst"
	Mixed       NewReviewOrder = "mixed"
)

// InterdayOrder controls where learning items go relative to reviews.
type InterdayOrder string

const (
	InterdayBefore InterdayOrder = "before"
	InterdayAfter  InterdayOrder = "after"
	InterdayMixed  InterdayOrder = "mixed"
)

// ReviewSortOrder controls the order of review items.
type ReviewSortOrder string

const (
	ReviewSortDue         ReviewSortOrder = "due"
	ReviewSortDueRandom   ReviewSortOrder = "dueRandom"
	ReviewSortOverdueness ReviewSortOrder = "overdueness"
	ReviewSortRandom      ReviewSortOrder = "random"
)

// DisplayConfig bundles the independent ordering knobs. Unknown values fall
// back to the defaults returned by DefaultDisplayConfig.
type DisplayConfig struct {
	NewGatherOrder        NewGatherOrder  `json:"new_gather_order"`
	NewSortOrder          NewSortOrder    `json:"new_sort_order"`
	NewReviewOrder        NewReviewOrder  `json:"new_review_order"`
	InterdayLearningOrder InterdayOrder   `json:"interday_learning_order"`
	ReviewSortOrder       ReviewSortOrder `json:"review_sort_order"`
}

// DefaultDisplayConfig returns insertion/due/newFirst/mixed/due.
func DefaultDisplayConfig() DisplayConfig {
	return DisplayConfig{
		NewGatherOrder:        GatherInsertion,
		NewSortOrder:          NewSortDue,
		NewReviewOrder:        NewFirst,
		InterdayLearningOrder: InterdayMixed,
		ReviewSortOrder:       ReviewSortDue,
	}
}

func (c DisplayConfig) normalized() DisplayConfig {
	def := DefaultDisplayConfig()
	switch c.NewGatherOrder {
	case GatherInsertion, GatherRandom:
	default:
		c.NewGatherOrder = def.NewGatherOrder
	}
	switch c.NewSortOrder {
	case NewSortDue, NewSortRandom, NewSortCategory:
	default:
		c.NewSortOrder = def.NewSortOrder
	}
	switch c.NewReviewOrder {
	case NewFirst, ReviewFirst, Mixed:
	default:
		c.NewReviewOrder = def.NewReviewOrder
	}
	switch c.InterdayLearningOrder {
	case InterdayBefore, InterdayAfter, InterdayMixed:
	default:
		c.InterdayLearningOrder = def.InterdayLearningOrder
	}
	switch c.ReviewSortOrder {
	case ReviewSortDue, ReviewSortDueRandom, ReviewSortOverdueness, ReviewSortRandom:
	default:
		c.ReviewSortOrder = def.ReviewSortOrder
	}
	return c
}

// Sorter orders items relative to a fixed "now".
type Sorter struct {
	rng *rand.Rand
	now time.Time
}

// NewSorter creates a Sorter. A nil rng gets a fixed seed so orderings stay
// reproducible; pass a time-seeded generator for real shuffling.
func NewSorter(rng *rand.Rand, now time.Time) *Sorter {
	if rng == nil {
		rng = rand.New(rand.NewPCG(1, 2))
	}
	return &Sorter{rng: rng, now: now}
}

// Sort returns items in presentation order. With a nil display config the
// legacy two-bucket order is used. The input slice is not modified.
func (s *Sorter) Sort(items []card.Item, legacy NewReviewOrder, display *DisplayConfig) []card.Item {
	out := make([]card.Item, 0, len(items))
	for _, it := range items {
		out = append(out, it.Clone())
	}
	if len(out) == 0 {
		return out
	}
	if display == nil {
		return s.legacySort(out, legacy)
	}
	cfg := display.normalized()

	var newItems, learning, review []card.Item
	for _, it := range out {
		switch it.Phase.Bucket() {
		case card.BucketNew:
			newItems = append(newItems, it)
		case card.BucketLearning:
			learning = append(learning, it)
		default:
			// review and other share a bucket
			review = append(review, it)
		}
	}

	newItems = s.sortNew(newItems, cfg)
	review = s.sortReview(review, cfg.ReviewSortOrder)
	slices.SortStableFunc(learning, s.byDue)
	learning = pinFirst(learning)

	switch cfg.NewReviewOrder {
	case ReviewFirst:
		merged := interleave(review, len(review), learning, cfg.InterdayLearningOrder)
		return append(merged, newItems...)
	case Mixed:
		base := spread(review, newItems)
		return interleave(base, len(review), learning, cfg.InterdayLearningOrder)
	default:
		merged := interleave(review, len(review), learning, cfg.InterdayLearningOrder)
		return append(newItems, merged...)
	}
}

func (s *Sorter) legacySort(items []card.Item, order NewReviewOrder) []card.Item {
	slices.SortStableFunc(items, s.byDue)
	if order == Mixed {
		s.shuffle(items)
		return items
	}
	var newItems, rest []card.Item
	for _, it := range items {
		if it.Phase == card.PhaseNew {
			newItems = append(newItems, it)
		} else {
			rest = append(rest, it)
		}
	}
	if order == ReviewFirst {
		return append(rest, newItems...)
	}
	return append(newItems, rest...)
}

func (s *Sorter) sortNew(items []card.Item, cfg DisplayConfig) []card.Item {
	if cfg.NewGatherOrder == GatherRandom {
		s.shuffle(items)
	}
	switch cfg.NewSortOrder {
	case NewSortRandom:
		if cfg.NewGatherOrder != GatherRandom {
			s.shuffle(items)
		}
	case NewSortCategory:
		slices.SortStableFunc(items, func(a, b card.Item) int {
			if c := cmp.Compare(a.Category, b.Category); c != 0 {
				return c
			}
			return s.byDue(a, b)
		})
	default:
		slices.SortStableFunc(items, s.byDue)
	}
	return pinFirst(items)
}

func (s *Sorter) sortReview(items []card.Item, order ReviewSortOrder) []card.Item {
	switch order {
	case ReviewSortDueRandom:
		slices.SortStableFunc(items, func(a, b card.Item) int {
			if c := cmp.Compare(s.dayKey(a), s.dayKey(b)); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		})
		for start := 0; start < len(items); {
			end := start + 1
			for end < len(items) && s.dayKey(items[end]) == s.dayKey(items[start]) {
				end++
			}
			s.shuffle(items[start:end])
			start = end
		}
	case ReviewSortOverdueness:
		slices.SortStableFunc(items, func(a, b card.Item) int {
			// descending
			if c := cmp.Compare(Overdueness(b, s.now), Overdueness(a, s.now)); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		})
	case ReviewSortRandom:
		s.shuffle(items)
	default:
		slices.SortStableFunc(items, s.byDue)
	}
	return pinFirst(items)
}

// Overdueness ranks how far an item is behind its own schedule:
// (now - due) / max(interval, 1) in days. A due item with no positive
// interval is maximally overdue; one that is not yet due uses an interval
// of one day.
func Overdueness(it card.Item, now time.Time) float64 {
	due := it.DueAt(now)
	if !(it.Interval > 0) && !now.Before(due) {
		return math.Inf(1)
	}
	late := now.Sub(due).Hours() / 24
	return late / math.Max(it.EffectiveInterval(), 1)
}

// byDue orders by due date with the ID as a total tiebreak.
func (s *Sorter) byDue(a, b card.Item) int {
	if c := a.DueAt(s.now).Compare(b.DueAt(s.now)); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// dayKey is the calendar day of the due date in the sorter's location.
func (s *Sorter) dayKey(it card.Item) int {
	y, m, d := it.DueAt(s.now).In(s.now.Location()).Date()
	return y*10000 + int(m)*100 + d
}

func (s *Sorter) shuffle(items []card.Item) {
	s.rng.Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})
}

// pinFirst moves epoch-dated items to the front, ordered by ID, keeping the
// relative order of everything else.
func pinFirst(items []card.Item) []card.Item {
	var pinned, rest []card.Item
	for _, it := range items {
		if it.Pinned() {
			pinned = append(pinned, it)
		} else {
			rest = append(rest, it)
		}
	}
	if len(pinned) == 0 {
		return items
	}
	slices.SortStableFunc(pinned, func(a, b card.Item) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return append(pinned, rest...)
}

// interleave places learning items relative to the review sequence base.
// reviewCount is the number of genuine review items in base; with none, the
// learning items simply follow.
func interleave(base []card.Item, reviewCount int, learning []card.Item, order InterdayOrder) []card.Item {
	switch order {
	case InterdayBefore:
		return append(append([]card.Item{}, learning...), base...)
	case InterdayAfter:
		return append(append([]card.Item{}, base...), learning...)
	default:
		if reviewCount == 0 {
			return append(append([]card.Item{}, base...), learning...)
		}
		return spread(base, learning)
	}
}

// spread splices extra into base at even spacing:
// step = floor(len(base) / (len(extra)+1)), at least 1. Leftovers trail.
func spread(base, extra []card.Item) []card.Item {
	if len(extra) == 0 {
		return append([]card.Item{}, base...)
	}
	if len(base) == 0 {
		return append([]card.Item{}, extra...)
	}
	step := max(len(base)/(len(extra)+1), 1)
	out := make([]card.Item, 0, len(base)+len(extra))
	j := 0
	for i, it := range base {
		out = append(out, it)
		if (i+1)%step == 0 && j < len(extra) {
			out = append(out, extra[j])
			j++
		}
	}
	return append(out, extra[j:]...)
}
