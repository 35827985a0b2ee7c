package queue

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/danieldreier/flashcard-scheduler/internal/card"
	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

func ids(items []card.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func newItem(id string, due time.Time) card.Item {
	return card.Item{ID: id, Phase: card.PhaseNew, Due: due}
}

func reviewItem(id string, due time.Time, interval float64) card.Item {
	return card.Item{ID: id, Phase: card.PhaseReview, Due: due, Interval: interval, Stability: interval}
}

func learningItem(id string, due time.Time) card.Item {
	return card.Item{ID: id, Phase: card.PhaseLearning, Due: due}
}

func display(mutate func(*DisplayConfig)) *DisplayConfig {
	cfg := DefaultDisplayConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return &cfg
}

func TestSortEmpty(t *testing.T) {
	s := NewSorter(nil, testNow)
	got := s.Sort(nil, NewFirst, display(nil))
	require.NotNil(t, got)
	assert.Empty(t, got)

	got = s.Sort([]card.Item{}, NewFirst, nil)
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSortBucketPrecedence(t *testing.T) {
	items := []card.Item{
		reviewItem("r1", testNow.Add(-24*time.Hour), 3),
		newItem("n1", time.Time{}),
		learningItem("l1", testNow.Add(-time.Hour)),
	}

	tests := []struct {
		name   string
		mutate func(*DisplayConfig)
		want   []string
	}{
		{"defaults", nil, []string{"n1", "r1", "l1"}},
		{"interday before", func(c *DisplayConfig) { c.InterdayLearningOrder = InterdayBefore }, []string{"n1", "l1", "r1"}},
		{"interday after", func(c *DisplayConfig) { c.InterdayLearningOrder = InterdayAfter }, []string{"n1", "r1", "l1"}},
		{"review first", func(c *DisplayConfig) {
			c.NewReviewOrder = ReviewFirst
			c.InterdayLearningOrder = InterdayBefore
		}, []string{"l1", "r1", "n1"}},
		{"unknown values fall back", func(c *DisplayConfig) {
			c.NewReviewOrder = "sideways"
			c.InterdayLearningOrder = "whenever"
		}, []string{"n1", "r1", "l1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewSorter(nil, testNow).Sort(items, NewFirst, display(tt.mutate))
			if diff := cmp.Diff(tt.want, ids(got)); diff != "" {
				t.Errorf("Sort() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSortLearningFollowsNewWithoutReviews(t *testing.T) {
	items := []card.Item{
		learningItem("l1", testNow.Add(-time.Minute)),
		newItem("n1", time.Time{}),
		newItem("n2", time.Time{}),
	}
	got := NewSorter(nil, testNow).Sort(items, NewFirst, display(func(c *DisplayConfig) {
		c.NewReviewOrder = Mixed
	}))
	assert.Equal(t, []string{"n1", "n2", "l1"}, ids(got))
}

func TestSortTiesBreakOnID(t *testing.T) {
	due := testNow.Add(-time.Hour)
	items := []card.Item{
		reviewItem("b", due, 2),
		reviewItem("c", due, 2),
		reviewItem("a", due, 2),
	}
	for _, order := range []ReviewSortOrder{ReviewSortDue, ReviewSortOverdueness} {
		got := NewSorter(nil, testNow).Sort(items, NewFirst, display(func(c *DisplayConfig) {
			c.ReviewSortOrder = order
		}))
		assert.Equal(t, []string{"a", "b", "c"}, ids(got), "order %s", order)
	}
}

func TestSortOverdueness(t *testing.T) {
	dayAgo := testNow.Add(-24 * time.Hour)
	items := []card.Item{
		reviewItem("b", dayAgo, 10),
		reviewItem("a", dayAgo, 1),
		reviewItem("z", testNow.Add(time.Hour), 0),
		reviewItem("y", dayAgo, 0),
	}
	got := NewSorter(nil, testNow).Sort(items, NewFirst, display(func(c *DisplayConfig) {
		c.ReviewSortOrder = ReviewSortOverdueness
	}))
	assert.Equal(t, []string{"y", "a", "b", "z"}, ids(got),
		"a zero interval only counts as maximally overdue once the item is due")

	assert.InDelta(t, 1.0, Overdueness(items[1], testNow), 1e-9)
	assert.InDelta(t, 0.1, Overdueness(items[0], testNow), 1e-9)
	assert.InDelta(t, -1.0/24, Overdueness(items[2], testNow), 1e-9)
	assert.True(t, math.IsInf(Overdueness(items[3], testNow), 1))
	assert.InDelta(t, 2.0, Overdueness(reviewItem("x", dayAgo.Add(-24*time.Hour), 0.5), testNow), 1e-9,
		"intervals below one day count as one")
}

func TestSortNewByCategory(t *testing.T) {
	items := []card.Item{
		{ID: "n1", Phase: card.PhaseNew, Category: "b", Due: testNow.Add(-3 * time.Hour)},
		{ID: "n2", Phase: card.PhaseNew, Category: "a", Due: testNow.Add(-time.Hour)},
		{ID: "n3", Phase: card.PhaseNew, Category: "a", Due: testNow.Add(-2 * time.Hour)},
	}
	got := NewSorter(nil, testNow).Sort(items, NewFirst, display(func(c *DisplayConfig) {
		c.NewSortOrder = NewSortCategory
	}))
	assert.Equal(t, []string{"n3", "n2", "n1"}, ids(got))
}

func TestSortPinnedItemsLead(t *testing.T) {
	items := []card.Item{
		reviewItem("r1", testNow.Add(-5*24*time.Hour), 3),
		reviewItem("r3", card.Epoch, 3),
		reviewItem("r2", card.Epoch, 3),
		{ID: "n1", Phase: card.PhaseNew, Category: "a", Due: testNow.Add(-48 * time.Hour)},
		{ID: "n2", Phase: card.PhaseNew, Category: "z", Due: card.Epoch},
	}

	for _, mutate := range []func(*DisplayConfig){
		func(c *DisplayConfig) { c.ReviewSortOrder = ReviewSortRandom; c.NewSortOrder = NewSortCategory },
		func(c *DisplayConfig) { c.ReviewSortOrder = ReviewSortOverdueness; c.NewSortOrder = NewSortRandom },
		func(c *DisplayConfig) { c.ReviewSortOrder = ReviewSortDueRandom; c.NewGatherOrder = GatherRandom },
	} {
		rng := rand.New(rand.NewPCG(42, 42))
		got := ids(NewSorter(rng, testNow).Sort(items, NewFirst, display(mutate)))
		require.Len(t, got, 5)
		assert.Equal(t, []string{"n2", "n1"}, got[:2])
		assert.Equal(t, []string{"r2", "r3"}, got[2:4])
		assert.Equal(t, "r1", got[4])
	}
}

func TestSortLegacy(t *testing.T) {
	items := []card.Item{
		learningItem("l1", testNow.Add(-2*time.Hour)),
		reviewItem("r1", testNow.Add(-24*time.Hour), 2),
		newItem("n1", time.Time{}),
		newItem("n2", testNow.Add(-72*time.Hour)),
	}
	s := NewSorter(nil, testNow)

	assert.Equal(t, []string{"n2", "n1", "r1", "l1"}, ids(s.Sort(items, NewFirst, nil)))
	assert.Equal(t, []string{"r1", "l1", "n2", "n1"}, ids(s.Sort(items, ReviewFirst, nil)))
	assert.ElementsMatch(t, []string{"n2", "n1", "r1", "l1"}, ids(s.Sort(items, Mixed, nil)))
}

func TestSortMixedSpacing(t *testing.T) {
	var items []card.Item
	for i := 1; i <= 6; i++ {
		items = append(items, reviewItem(fmt.Sprintf("r%d", i), testNow.Add(-time.Duration(10-i)*time.Hour), 2))
	}
	items = append(items, newItem("n1", time.Time{}), newItem("n2", time.Time{}))

	got := NewSorter(nil, testNow).Sort(items, NewFirst, display(func(c *DisplayConfig) {
		c.NewReviewOrder = Mixed
	}))
	want := []string{"r1", "r2", "n1", "r3", "r4", "n2", "r5", "r6"}
	if diff := cmp.Diff(want, ids(got)); diff != "" {
		t.Errorf("Sort() mismatch (-want +got):\n%s", diff)
	}
}

func TestSortDueRandomGroupsByDay(t *testing.T) {
	dayOne := time.Date(2024, 5, 8, 0, 0, 0, 0, time.UTC)
	dayTwo := dayOne.Add(24 * time.Hour)
	items := []card.Item{
		reviewItem("d2a", dayTwo.Add(time.Hour), 2),
		reviewItem("d1a", dayOne.Add(time.Hour), 2),
		reviewItem("d2b", dayTwo.Add(5*time.Hour), 2),
		reviewItem("d1b", dayOne.Add(20*time.Hour), 2),
		reviewItem("d1c", dayOne.Add(10*time.Hour), 2),
	}
	for seed := uint64(0); seed < 10; seed++ {
		got := ids(NewSorter(rand.New(rand.NewPCG(seed, 0)), testNow).Sort(items, NewFirst, display(func(c *DisplayConfig) {
			c.ReviewSortOrder = ReviewSortDueRandom
		})))
		assert.ElementsMatch(t, []string{"d1a", "d1b", "d1c"}, got[:3])
		assert.ElementsMatch(t, []string{"d2a", "d2b"}, got[3:])
	}
}

func TestSortDoesNotMutateInput(t *testing.T) {
	items := []card.Item{
		reviewItem("r2", testNow.Add(-time.Hour), 2),
		reviewItem("r1", testNow.Add(-2*time.Hour), 2),
		{ID: "n1", Phase: card.PhaseNew, Tags: []string{"x"}},
	}
	before := make([]card.Item, len(items))
	for i, it := range items {
		before[i] = it.Clone()
	}

	got := NewSorter(nil, testNow).Sort(items, NewFirst, display(nil))
	got[0].Tags[0] = "changed"

	if diff := cmp.Diff(before, items); diff != "" {
		t.Errorf("input mutated (-before +after):\n%s", diff)
	}
}

func randomItems(seed uint64, n int) []card.Item {
	r := rand.New(rand.NewPCG(seed, 7))
	phases := []card.Phase{
		card.PhaseNew, card.PhaseLearning, card.PhaseReview, card.PhaseRelearning,
		card.PhaseKnown, card.PhaseSuspended, card.PhaseUnknown,
	}
	items := make([]card.Item, n)
	for i := range items {
		items[i] = card.Item{
			ID:       fmt.Sprintf("c%03d", i),
			Phase:    phases[r.IntN(len(phases))],
			Due:      testNow.Add(time.Duration(r.IntN(96)-72) * time.Hour),
			Interval: float64(r.IntN(20)),
			Category: string(rune('a' + r.IntN(3))),
		}
		if r.IntN(10) == 0 {
			items[i].Due = card.Epoch
		}
	}
	return items
}

func rank(it card.Item) int {
	switch it.Phase.Bucket() {
	case card.BucketNew:
		return 0
	case card.BucketLearning:
		return 1
	default:
		return 2
	}
}

func TestSortProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	randomPolicies := &DisplayConfig{
		NewGatherOrder:        GatherRandom,
		NewSortOrder:          NewSortRandom,
		NewReviewOrder:        Mixed,
		InterdayLearningOrder: InterdayMixed,
		ReviewSortOrder:       ReviewSortDueRandom,
	}

	properties.Property("output is a permutation of the input", prop.ForAll(
		func(seed uint64, n int) bool {
			items := randomItems(seed, n)
			got := NewSorter(rand.New(rand.NewPCG(seed, 1)), testNow).Sort(items, NewFirst, randomPolicies)
			if len(got) != len(items) {
				return false
			}
			seen := map[string]int{}
			for _, it := range got {
				seen[it.ID]++
			}
			for _, it := range items {
				if seen[it.ID] != 1 {
					return false
				}
			}
			return true
		},
		gen.UInt64(),
		gen.IntRange(0, 40),
	))

	properties.Property("same seed gives the same order", prop.ForAll(
		func(seed uint64, n int) bool {
			items := randomItems(seed, n)
			a := NewSorter(rand.New(rand.NewPCG(seed, 3)), testNow).Sort(items, Mixed, randomPolicies)
			b := NewSorter(rand.New(rand.NewPCG(seed, 3)), testNow).Sort(items, Mixed, randomPolicies)
			return cmp.Equal(ids(a), ids(b))
		},
		gen.UInt64(),
		gen.IntRange(0, 40),
	))

	properties.Property("newFirst with learning before keeps bucket order", prop.ForAll(
		func(seed uint64, n int) bool {
			cfg := display(func(c *DisplayConfig) { c.InterdayLearningOrder = InterdayBefore })
			got := NewSorter(nil, testNow).Sort(randomItems(seed, n), NewFirst, cfg)
			for i := 1; i < len(got); i++ {
				if rank(got[i]) < rank(got[i-1]) {
					return false
				}
			}
			return true
		},
		gen.UInt64(),
		gen.IntRange(0, 40),
	))

	properties.TestingRun(t)
}
