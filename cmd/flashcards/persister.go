package main

import (
	"context"
	"errors"
	"sync"

	"github.com/danieldreier/flashcard-scheduler/internal/card"
	"github.com/danieldreier/flashcard-scheduler/internal/storage"
	"go.uber.org/zap"
)

// Persister receives scheduling changes that have to reach durable storage.
// Calls return immediately; the writes happen in the background.
type Persister interface {
	ItemUpdated(ctx context.Context, item card.Item)
	ReviewRecorded(ctx context.Context, entry card.ReviewLogEntry)
}

// storePersister writes through the card store and, when configured, the
// SQLite review log. Jobs run one at a time in submission order so a grade
// followed by an undo lands in the right order.
type storePersister struct {
	storage   storage.Storage
	reviewLog *storage.ReviewLogStore
	logger    *zap.Logger

	jobs chan func()
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

func newStorePersister(store storage.Storage, reviewLog *storage.ReviewLogStore, logger *zap.Logger) *storePersister {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &storePersister{
		storage:   store,
		reviewLog: reviewLog,
		logger:    logger,
		jobs:      make(chan func(), 64),
		done:      make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *storePersister) run() {
	defer close(p.done)
	for job := range p.jobs {
		job()
	}
}

func (p *storePersister) enqueue(name string, job func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.logger.Warn("Persister closed, dropping write", zap.String("job", name))
		return
	}
	p.jobs <- job
}

// ItemUpdated stores the item's new scheduling state.
func (p *storePersister) ItemUpdated(_ context.Context, item card.Item) {
	p.enqueue("item_updated", func() {
		if err := p.storage.UpdateCard(item); err != nil {
			if errors.Is(err, storage.ErrCardNotFound) {
				p.logger.Debug("Card deleted before update was persisted", zap.String("card_id", item.ID))
				return
			}
			p.logger.Error("Failed to persist card", zap.String("card_id", item.ID), zap.Error(err))
			return
		}
		p.save(item.ID)
	})
}

// ReviewRecorded appends the entry to the review log.
func (p *storePersister) ReviewRecorded(ctx context.Context, entry card.ReviewLogEntry) {
	ctx = context.WithoutCancel(ctx)
	p.enqueue("review_recorded", func() {
		if _, err := p.storage.AddReview(entry); err != nil {
			p.logger.Warn("Failed to record review", zap.String("card_id", entry.CardID), zap.Error(err))
		}
		if p.reviewLog != nil {
			if _, err := p.reviewLog.AppendReview(ctx, entry); err != nil {
				p.logger.Error("Failed to append review to review log", zap.String("card_id", entry.CardID), zap.Error(err))
			}
		}
		p.save(entry.CardID)
	})
}

func (p *storePersister) save(cardID string) {
	if err := p.storage.Save(); err != nil {
		p.logger.Error("Failed to save storage", zap.String("card_id", cardID), zap.Error(err))
	}
}

// Flush blocks until every write submitted before it has finished.
func (p *storePersister) Flush() {
	barrier := make(chan struct{})
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return
	}
	p.jobs <- func() { close(barrier) }
	p.mu.Unlock()
	<-barrier
}

// Close drains outstanding writes and stops the worker. Later writes are
// dropped.
func (p *storePersister) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	<-p.done
}
