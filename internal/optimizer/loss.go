package optimizer

import (
	"cmp"
	"context"
	"math"
	"slices"
	"time"

	"github.com/danieldreier/flashcard-scheduler/internal/card"
	"github.com/danieldreier/flashcard-scheduler/internal/fsrs"
	gofsrs "github.com/open-spaced-repetition/go-fsrs"
	"golang.org/x/sync/errgroup"
)

const (
	minProb = 1e-4
	maxProb = 0.9999
)

// history is one card's review log in chronological order.
type history struct {
	cardID  string
	entries []card.ReviewLogEntry
}

// groupByCard splits logs per card, sorts each group by time and returns
// the groups ordered by card id.
func groupByCard(logs []card.ReviewLogEntry) []history {
	groups := make(map[string][]card.ReviewLogEntry)
	for _, e := range logs {
		groups[e.CardID] = append(groups[e.CardID], e)
	}
	out := make([]history, 0, len(groups))
	for id, entries := range groups {
		slices.SortStableFunc(entries, func(a, b card.ReviewLogEntry) int {
			return a.CreatedAt.Compare(b.CreatedAt)
		})
		out = append(out, history{cardID: id, entries: entries})
	}
	slices.SortFunc(out, func(a, b history) int { return cmp.Compare(a.cardID, b.cardID) })
	return out
}

// Prediction is the model's recall probability for one review-phase entry.
type Prediction struct {
	CardID         string
	ElapsedDays    float64
	Retrievability float64
	Recalled       bool
}

// replay walks one card's history. Learning-phase entries seed or update
// memory without contributing loss; review-phase entries are scored with
// the retrievability predicted before they happened. visit may be nil.
func replay(h history, w fsrs.Weights, visit func(Prediction)) (sum float64, n int) {
	var (
		s, d   float64
		seeded bool
		prev   time.Time
	)
	for i, e := range h.entries {
		elapsed := e.ElapsedDays
		if i > 0 && !prev.IsZero() && !e.CreatedAt.IsZero() {
			elapsed = e.CreatedAt.Sub(prev).Hours() / 24
		}
		prev = e.CreatedAt
		g := e.Grade

		switch e.State {
		case gofsrs.New, gofsrs.Learning:
			if !seeded {
				s, d = fsrs.InitStability(g, w), fsrs.InitDifficulty(g, w)
				seeded = true
				continue
			}
			s, d = fsrs.ShortTermStability(s, g, w), fsrs.NextDifficulty(d, g, w)
			continue
		}

		if !seeded {
			if !(e.Stability > 0) {
				s, d = fsrs.InitStability(g, w), fsrs.InitDifficulty(g, w)
				seeded = true
				continue
			}
			s, d = e.Stability, e.Difficulty
			if d < 1 || d > 10 || math.IsNaN(d) {
				d = fsrs.InitDifficulty(card.Good, w)
			}
			seeded = true
		}

		if e.State == gofsrs.Relearning && elapsed < 1 {
			s, d = fsrs.ShortTermStability(s, g, w), fsrs.NextDifficulty(d, g, w)
			continue
		}

		r := fsrs.Retrievability(elapsed, s)
		p := math.Min(math.Max(r, minProb), maxProb)
		y := 0.0
		if e.Success() {
			y = 1
		}
		sum += -(y*math.Log(p) + (1-y)*math.Log(1-p))
		n++
		if visit != nil {
			visit(Prediction{CardID: h.cardID, ElapsedDays: elapsed, Retrievability: r, Recalled: e.Success()})
		}

		s = fsrs.NextStability(s, d, r, g, w)
		d = fsrs.NextDifficulty(d, g, w)
	}
	return sum, n
}

// Loss is the mean negative log-likelihood of logs under w. It is 0 when no
// entry is scored.
func Loss(logs []card.ReviewLogEntry, w fsrs.Weights) float64 {
	loss, _ := batchLoss(context.Background(), groupByCard(logs), w, 0)
	return loss
}

// Predict returns the scored predictions for logs under w, in card order.
func Predict(logs []card.ReviewLogEntry, w fsrs.Weights) []Prediction {
	var out []Prediction
	for _, h := range groupByCard(logs) {
		replay(h, w, func(p Prediction) { out = append(out, p) })
	}
	return out
}

// batchLoss replays every history concurrently. A limit below one means
// no limit.
func batchLoss(ctx context.Context, batch []history, w fsrs.Weights, limit int) (float64, error) {
	sums := make([]float64, len(batch))
	counts := make([]int, len(batch))

	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, h := range batch {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			sums[i], counts[i] = replay(h, w, nil)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var total float64
	var n int
	for i := range sums {
		total += sums[i]
		n += counts[i]
	}
	if n == 0 {
		return 0, nil
	}
	return total / float64(n), nil
}
