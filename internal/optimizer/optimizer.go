// Package optimizer fits the retention model's weights to a review log by
// mini-batch gradient descent on the negative log-likelihood of observed
// recalls.
package optimizer

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"runtime"
	"time"

	"github.com/danieldreier/flashcard-scheduler/internal/card"
	"github.com/danieldreier/flashcard-scheduler/internal/fsrs"
	"golang.org/x/time/rate"
)

// MinItems is the fewest distinct cards a log must cover.
const MinItems = 5

// ErrInsufficientData is returned before any work when the log covers fewer
// than MinItems cards.
var ErrInsufficientData = errors.New("optimizer: insufficient review history")

const (
	gradStep = 1e-4
	// Only the review-phase weights are fitted; the seed weights are left alone.
	firstFitted = 6
	lastFitted  = 16
)

// Config configures a run. Zero fields receive defaults: Epochs=5,
// BatchSize=32, LearningRate=0.05, Concurrency=GOMAXPROCS.
type Config struct {
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batch_size"` // cards per gradient step
	LearningRate float64 `json:"learning_rate"`
	Concurrency  int     `json:"concurrency"`

	// ProgressInterval throttles progress callbacks. Defaults to 200ms.
	ProgressInterval time.Duration `json:"progress_interval"`
}

func (c Config) withDefaults() Config {
	if c.Epochs <= 0 {
		c.Epochs = 5
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.LearningRate <= 0 || math.IsNaN(c.LearningRate) {
		c.LearningRate = 0.05
	}
	if c.Concurrency <= 0 {
		c.Concurrency = runtime.GOMAXPROCS(0)
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = 200 * time.Millisecond
	}
	return c
}

// CountItems returns the number of distinct cards in logs.
func CountItems(logs []card.ReviewLogEntry) int {
	seen := make(map[string]struct{})
	for _, e := range logs {
		seen[e.CardID] = struct{}{}
	}
	return len(seen)
}

// Optimize fits weights to logs starting from initial. The returned weights
// are the best seen, so the loss never ends above the starting loss. On
// cancellation the best weights so far are returned together with the
// context error. onProgress, when non-nil, receives fractions in [0, 1];
// 1 is always delivered on success.
func Optimize(ctx context.Context, logs []card.ReviewLogEntry, initial fsrs.Weights, cfg Config, onProgress func(float64)) (fsrs.Weights, error) {
	data := groupByCard(logs)
	if len(data) < MinItems {
		return initial, ErrInsufficientData
	}
	cfg = cfg.withDefaults()
	if initial == (fsrs.Weights{}) {
		initial = fsrs.DefaultWeights
	}
	w := initial.Clamp()

	report := func(float64) {}
	if onProgress != nil {
		throttle := &rate.Sometimes{First: 1, Interval: cfg.ProgressInterval}
		report = func(p float64) { throttle.Do(func() { onProgress(p) }) }
	}

	best := w
	bestLoss, err := batchLoss(ctx, data, w, cfg.Concurrency)
	if err != nil {
		return best, err
	}

	batches := (len(data) + cfg.BatchSize - 1) / cfg.BatchSize
	total := float64(cfg.Epochs * batches)
	rng := rand.New(rand.NewPCG(42, 42))
	step := 0

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		rng.Shuffle(len(data), func(i, j int) { data[i], data[j] = data[j], data[i] })

		for start := 0; start < len(data); start += cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return best, err
			}
			batch := data[start:min(start+cfg.BatchSize, len(data))]
			grad, err := gradient(ctx, batch, w, cfg.Concurrency)
			if err != nil {
				return best, err
			}
			for i := firstFitted; i <= lastFitted; i++ {
				w[i] -= cfg.LearningRate * grad[i]
			}
			w = w.Clamp()

			step++
			report(float64(step) / total)
			runtime.Gosched()
		}

		loss, err := batchLoss(ctx, data, w, cfg.Concurrency)
		if err != nil {
			return best, err
		}
		if loss < bestLoss {
			bestLoss, best = loss, w
		}
	}

	if onProgress != nil {
		onProgress(1)
	}
	return best, nil
}

// gradient estimates dLoss/dw by forward differences over the fitted indices.
func gradient(ctx context.Context, batch []history, w fsrs.Weights, limit int) (fsrs.Weights, error) {
	var grad fsrs.Weights
	base, err := batchLoss(ctx, batch, w, limit)
	if err != nil {
		return grad, err
	}
	for i := firstFitted; i <= lastFitted; i++ {
		shifted := w
		shifted[i] += gradStep
		loss, err := batchLoss(ctx, batch, shifted, limit)
		if err != nil {
			return grad, err
		}
		grad[i] = (loss - base) / gradStep
	}
	return grad, nil
}
