package optimizer

import (
	"context"
	"time"

	"github.com/danieldreier/flashcard-scheduler/internal/card"
	"github.com/danieldreier/flashcard-scheduler/internal/fsrs"
	"go.uber.org/zap"
)

// Message is one update from a running optimization. The final message has
// Done set and carries either Weights or Err.
type Message struct {
	Progress float64
	Weights  fsrs.Weights
	Err      error
	Done     bool
}

// Worker runs Optimize on its own goroutine and reports over a channel.
type Worker struct {
	cfg    Config
	logger *zap.Logger
}

// NewWorker creates a Worker. A nil logger disables logging.
func NewWorker(cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{cfg: cfg, logger: logger}
}

// Start validates the log and launches the optimization. Insufficient data
// is reported synchronously. The returned channel is closed after the final
// message; progress messages are dropped when the reader falls behind.
// Cancelling ctx stops the run.
func (w *Worker) Start(ctx context.Context, logs []card.ReviewLogEntry, initial fsrs.Weights) (<-chan Message, error) {
	items := CountItems(logs)
	if items < MinItems {
		w.logger.Info("Not enough review history to optimize",
			zap.Int("items", items),
			zap.Int("required", MinItems))
		return nil, ErrInsufficientData
	}

	logs = append([]card.ReviewLogEntry(nil), logs...)
	out := make(chan Message, 8)

	go func() {
		defer close(out)
		started := time.Now()
		w.logger.Info("Starting parameter optimization",
			zap.Int("items", items),
			zap.Int("entries", len(logs)))

		weights, err := Optimize(ctx, logs, initial, w.cfg, func(p float64) {
			select {
			case out <- Message{Progress: p}:
			default:
			}
		})

		final := Message{Progress: 1, Weights: weights, Done: true}
		if err != nil {
			w.logger.Warn("Parameter optimization failed", zap.Error(err))
			final = Message{Err: err, Done: true}
		} else {
			w.logger.Info("Parameter optimization finished", zap.Duration("elapsed", time.Since(started)))
		}

		select {
		case out <- final:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

// Wait drains msgs and returns the final weights or error.
func Wait(ctx context.Context, msgs <-chan Message) (fsrs.Weights, error) {
	for {
		select {
		case <-ctx.Done():
			return fsrs.Weights{}, ctx.Err()
		case m, ok := <-msgs:
			if !ok {
				return fsrs.Weights{}, context.Canceled
			}
			if m.Done {
				return m.Weights, m.Err
			}
		}
	}
}
