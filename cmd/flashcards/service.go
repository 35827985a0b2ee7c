// Package main provides implementation for the flashcards MCP service.
package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/danieldreier/flashcard-scheduler/internal/card"
	"github.com/danieldreier/flashcard-scheduler/internal/config"
	"github.com/danieldreier/flashcard-scheduler/internal/fsrs"
	"github.com/danieldreier/flashcard-scheduler/internal/optimizer"
	"github.com/danieldreier/flashcard-scheduler/internal/session"
	"github.com/danieldreier/flashcard-scheduler/internal/storage"
	"github.com/google/uuid"
	gofsrs "github.com/open-spaced-repetition/go-fsrs"
	"go.uber.org/zap"
)

var (
	errCardNotDue    = errors.New("current card is not due yet")
	errNothingToUndo = errors.New("nothing to undo")
)

// Variable to allow mocking time.Now in tests
var timeNow = time.Now

// StudyService ties card storage, the scheduler and the study session
// together for the tool handlers.
type StudyService struct {
	storage   storage.Storage
	reviewLog *storage.ReviewLogStore
	cfg       config.Config
	logger    *zap.Logger
	persister *storePersister

	mu        sync.Mutex
	scheduler fsrs.Scheduler
	machine   *session.Machine
	sessionID string
	rng       *rand.Rand
}

// NewStudyService creates a service. reviewLog may be nil. Weights saved
// by an earlier optimization take precedence over the defaults.
func NewStudyService(store storage.Storage, reviewLog *storage.ReviewLogStore, cfg config.Config, logger *zap.Logger) *StudyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	weights, ok := store.Weights()
	if ok {
		logger.Info("Using optimized weights from storage")
	}
	seed := uint64(timeNow().UnixNano())
	return &StudyService{
		storage:   store,
		reviewLog: reviewLog,
		cfg:       cfg,
		logger:    logger,
		persister: newStorePersister(store, reviewLog, logger),
		scheduler: fsrs.NewScheduler(fsrs.Engine(cfg.Engine), cfg.Params(weights)),
		rng:       rand.New(rand.NewPCG(seed, seed>>1)),
	}
}

// Close waits for pending writes to reach storage.
func (s *StudyService) Close() {
	s.persister.Close()
}

// CreateCard creates a new flashcard using the Storage layer
func (s *StudyService) CreateCard(front, back, category string, tags []string) (Card, error) {
	if front == "" || back == "" {
		return Card{}, errors.New("front and back are required")
	}
	s.logger.Debug("Service CreateCard called", zap.String("front", front), zap.Strings("tags", tags))

	item, err := s.storage.CreateCard(front, back, category, tags)
	if err != nil {
		return Card{}, fmt.Errorf("error creating card in storage: %w", err)
	}
	if err := s.storage.Save(); err != nil {
		s.logger.Warn("Failed to save storage after creating card, but card exists in memory",
			zap.String("card_id", item.ID), zap.Error(err))
	}
	return newCard(item, 0), nil
}

// UpdateCard changes the content fields that are non-nil. Scheduling state
// is left alone. A running session sees the new content immediately.
func (s *StudyService) UpdateCard(cardID string, front, back, category *string, tags *[]string) (Card, error) {
	s.persister.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.storage.GetCard(cardID)
	if err != nil {
		return Card{}, fmt.Errorf("error getting card %s: %w", cardID, err)
	}

	updated := false
	if front != nil && *front != item.Front {
		item.Front = *front
		updated = true
	}
	if back != nil && *back != item.Back {
		item.Back = *back
		updated = true
	}
	if category != nil && *category != item.Category {
		item.Category = *category
		updated = true
	}
	if tags != nil && !slices.Equal(item.Tags, *tags) {
		item.Tags = slices.Clone(*tags)
		updated = true
	}

	if updated {
		if err := s.storage.UpdateCard(item); err != nil {
			return Card{}, fmt.Errorf("error updating card %s in storage: %w", cardID, err)
		}
		if err := s.storage.Save(); err != nil {
			return Card{}, fmt.Errorf("error saving storage after updating card %s: %w", cardID, err)
		}
		if s.machine != nil {
			s.machine.UpdateCard(item)
		}
	}
	return newCard(item, s.scheduler.Retrievability(item, timeNow())), nil
}

// DeleteCard deletes a flashcard and drops it from the running session.
func (s *StudyService) DeleteCard(cardID string) error {
	s.persister.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.storage.DeleteCard(cardID); err != nil {
		return fmt.Errorf("error deleting card: %w", err)
	}
	if err := s.storage.Save(); err != nil {
		return fmt.Errorf("error saving storage: %w", err)
	}
	if s.machine != nil {
		s.machine.RemoveCard(cardID, nil, timeNow(), s.cfg.IgnoreLearningSteps, s.cfg.NewReviewOrder())
	}
	s.logger.Debug("Card deleted", zap.String("card_id", cardID))
	return nil
}

// ListCards lists all flashcards, optionally filtered by tags
func (s *StudyService) ListCards(filterTags []string, includeStats bool) ([]Card, *CardStats, error) {
	s.persister.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.storage.ListCards(filterTags)
	if err != nil {
		return nil, nil, fmt.Errorf("error listing cards from storage: %w", err)
	}
	now := timeNow()
	cards := make([]Card, 0, len(items))
	for _, it := range items {
		cards = append(cards, newCard(it, s.scheduler.Retrievability(it, now)))
	}
	if !includeStats {
		return cards, nil, nil
	}
	stats, err := s.calculateStats(items, now)
	if err != nil {
		return nil, nil, err
	}
	return cards, &stats, nil
}

// calculateStats calculates statistics from card and review data
func (s *StudyService) calculateStats(items []card.Item, now time.Time) (CardStats, error) {
	stats := CardStats{TotalCards: len(items)}
	for _, it := range items {
		if it.Phase != card.PhaseSuspended && it.IsDue(now) {
			stats.DueCards++
		}
	}

	reviews, err := s.storage.ListReviews()
	if err != nil {
		return CardStats{}, fmt.Errorf("error listing reviews: %w", err)
	}
	today := startOfDay(now)
	correct := 0
	for _, r := range reviews {
		if r.CreatedAt.Before(today) {
			continue
		}
		stats.ReviewsToday++
		if r.Success() {
			correct++
		}
	}
	if stats.ReviewsToday > 0 {
		stats.RetentionRate = float64(correct) / float64(stats.ReviewsToday) * 100.0
	}
	return stats, nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// StartSession builds a new study queue from the cards matching any of
// filterTags. Due review cards and today's learning cards are always
// included; new cards fill the remaining daily allowance and the rest wait
// in the reserve pool.
func (s *StudyService) StartSession(filterTags []string) (SessionView, error) {
	s.persister.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.storage.ListCards(filterTags)
	if err != nil {
		return SessionView{}, fmt.Errorf("error listing cards from storage: %w", err)
	}
	now := timeNow()
	allowance, err := s.newAllowance(now)
	if err != nil {
		return SessionView{}, err
	}

	endOfDay := startOfDay(now).AddDate(0, 0, 1)
	var active, reserve []card.Item
	for _, it := range items {
		switch {
		case it.Phase == card.PhaseSuspended:
		case it.Phase == card.PhaseNew:
			if allowance > 0 {
				active = append(active, it)
				allowance--
			} else {
				reserve = append(reserve, it)
			}
		case it.Phase.IsLearning():
			if it.DueAt(now).Before(endOfDay) {
				active = append(active, it)
			}
		case it.IsDue(now):
			active = append(active, it)
		}
	}

	machine := session.New(
		session.WithLogger(s.logger),
		session.WithRand(s.rng),
		session.WithOrder(s.cfg.NewReviewOrder(), s.cfg.Display()),
	)
	machine.Init(active, reserve, now, s.cfg.IgnoreLearningSteps)
	s.machine = machine
	s.sessionID = uuid.New().String()

	s.logger.Info("Study session started",
		zap.String("session_id", s.sessionID),
		zap.Strings("tags", filterTags),
		zap.Int("cards", len(active)),
		zap.Int("reserve", len(reserve)))
	return s.viewLocked(now), nil
}

// newAllowance is the number of new cards still allowed today. Cards first
// graded today count against the limit.
func (s *StudyService) newAllowance(now time.Time) (int, error) {
	reviews, err := s.storage.ListReviews()
	if err != nil {
		return 0, fmt.Errorf("error listing reviews: %w", err)
	}
	today := startOfDay(now)
	introduced := 0
	for _, r := range reviews {
		if r.State == gofsrs.New && !r.CreatedAt.Before(today) {
			introduced++
		}
	}
	return max(s.cfg.DailyNewLimit-introduced, 0), nil
}

// CurrentCard returns the session view, first checking whether a waiting
// learning card has come due.
func (s *StudyService) CurrentCard() (SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine == nil {
		return SessionView{}, session.ErrNoSession
	}
	now := timeNow()
	s.tickLocked(now)
	return s.viewLocked(now), nil
}

// FlipCard reveals the answer of the current card.
func (s *StudyService) FlipCard() (SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine == nil {
		return SessionView{}, session.ErrNoSession
	}
	now := timeNow()
	s.tickLocked(now)
	if !s.machine.Flip() {
		switch status := s.machine.Status(); status {
		case session.StatusComplete:
			return SessionView{}, session.ErrNoCurrentCard
		case session.StatusWaiting:
			return SessionView{}, errCardNotDue
		default:
			return SessionView{}, fmt.Errorf("cannot flip card while session is %s", status)
		}
	}
	return s.viewLocked(now), nil
}

// SubmitReview grades the current card, records the review and moves the
// session on. An invalid grade leaves the card in place and returns an
// error.
func (s *StudyService) SubmitReview(ctx context.Context, grade card.Grade) (Card, SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine == nil {
		return Card{}, SessionView{}, session.ErrNoSession
	}
	m := s.machine
	now := timeNow()
	s.tickLocked(now)

	current, ok := m.Current()
	if !ok {
		return Card{}, SessionView{}, session.ErrNoCurrentCard
	}
	if !m.StartProcessing() {
		return Card{}, SessionView{}, errCardNotDue
	}
	if !card.ValidGrade(grade) {
		m.GradeFailure()
		return Card{}, SessionView{}, fmt.Errorf("invalid grade %d: must be between 1 and 4", grade)
	}

	isLast := m.IsLast()
	updated := s.scheduler.NextReview(current, grade, now)
	entry := card.ReviewLogEntry{
		ID:            uuid.New().String(),
		CardID:        current.ID,
		Grade:         grade,
		State:         current.Phase.State(),
		ElapsedDays:   fsrs.ElapsedDays(current, now),
		ScheduledDays: current.Interval,
		Stability:     current.Stability,
		Difficulty:    current.Difficulty,
		CreatedAt:     now,
	}

	m.GradeSuccess(session.GradeResult{
		Item:                updated,
		IsLast:              isLast,
		Now:                 now,
		IgnoreLearningSteps: s.cfg.IgnoreLearningSteps,
	})
	s.persister.ItemUpdated(ctx, updated)
	s.persister.ReviewRecorded(ctx, entry)

	s.logger.Debug("Review submitted",
		zap.String("card_id", current.ID),
		zap.Int("grade", int(grade)),
		zap.String("phase", updated.Phase.String()),
		zap.Time("due", updated.Due))
	return newCard(updated, s.scheduler.Retrievability(updated, now)), s.viewLocked(now), nil
}

// UndoReview reverts the most recent grade in the session and writes the
// restored card back. The review log keeps the undone entry.
func (s *StudyService) UndoReview(ctx context.Context) (SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine == nil {
		return SessionView{}, session.ErrNoSession
	}
	if !s.machine.Undo() {
		return SessionView{}, errNothingToUndo
	}
	if restored, ok := s.machine.Current(); ok {
		s.persister.ItemUpdated(ctx, restored)
	}
	return s.viewLocked(timeNow()), nil
}

// SessionStatus reports the session without changing it.
func (s *StudyService) SessionStatus() (SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine == nil {
		return SessionView{}, session.ErrNoSession
	}
	return s.viewLocked(timeNow()), nil
}

func (s *StudyService) tickLocked(now time.Time) {
	if s.machine.Status() == session.StatusWaiting {
		s.machine.Tick(now, s.cfg.IgnoreLearningSteps)
	}
}

func (s *StudyService) viewLocked(now time.Time) SessionView {
	m := s.machine
	view := SessionView{
		SessionID: s.sessionID,
		Status:    m.Status(),
		Progress:  m.Progress(),
		Counts:    m.Counts(),
		Reserve:   len(m.Snapshot().Reserve),
	}
	if it, ok := m.Current(); ok {
		c := newCard(it, s.scheduler.Retrievability(it, now))
		if view.Status != session.StatusFlipped && view.Status != session.StatusProcessing {
			c.Back = ""
		}
		view.Card = &c
		if view.Status == session.StatusWaiting {
			due := it.Due
			view.NextDue = &due
		}
	}
	return view
}

// OptimizeParameters fits the model weights to the review history, saves
// them and switches the scheduler over. On any failure the active weights
// stay as they were.
func (s *StudyService) OptimizeParameters(ctx context.Context) (OptimizeResponse, error) {
	s.persister.Flush()

	logs, err := s.reviewHistory(ctx)
	if err != nil {
		return OptimizeResponse{}, err
	}
	s.mu.Lock()
	initial := s.scheduler.Params().Weights
	s.mu.Unlock()

	worker := optimizer.NewWorker(s.cfg.Optimizer(), s.logger)
	msgs, err := worker.Start(ctx, logs, initial)
	if err != nil {
		return OptimizeResponse{}, err
	}
	weights, err := optimizer.Wait(ctx, msgs)
	if err != nil {
		return OptimizeResponse{}, fmt.Errorf("optimize parameters: %w", err)
	}

	if err := s.storage.SetWeights(weights); err != nil {
		return OptimizeResponse{}, fmt.Errorf("error storing weights: %w", err)
	}
	if err := s.storage.Save(); err != nil {
		return OptimizeResponse{}, fmt.Errorf("error saving storage: %w", err)
	}

	s.mu.Lock()
	s.scheduler = fsrs.NewScheduler(fsrs.Engine(s.cfg.Engine), s.cfg.Params(weights))
	s.mu.Unlock()

	return OptimizeResponse{
		Weights:    weights,
		LossBefore: optimizer.Loss(logs, initial),
		LossAfter:  optimizer.Loss(logs, weights),
		Reviews:    len(logs),
		Cards:      optimizer.CountItems(logs),
	}, nil
}

// reviewHistory prefers the SQLite log when one is configured.
func (s *StudyService) reviewHistory(ctx context.Context) ([]card.ReviewLogEntry, error) {
	if s.reviewLog != nil {
		logs, err := s.reviewLog.ListReviews(ctx)
		if err != nil {
			return nil, fmt.Errorf("error reading review log: %w", err)
		}
		return logs, nil
	}
	logs, err := s.storage.ListReviews()
	if err != nil {
		return nil, fmt.Errorf("error listing reviews: %w", err)
	}
	return logs, nil
}

// AnalyzeLearning picks out leeches and the cards most likely to be
// forgotten.
func (s *StudyService) AnalyzeLearning() (LearningAnalysis, error) {
	s.persister.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.storage.ListCards(nil)
	if err != nil {
		return LearningAnalysis{}, fmt.Errorf("error getting all cards for analysis: %w", err)
	}
	now := timeNow()
	stats, err := s.calculateStats(items, now)
	if err != nil {
		return LearningAnalysis{}, err
	}
	analysis := LearningAnalysis{Stats: stats, Leeches: []Card{}, Weakest: []Card{}}
	if len(items) == 0 {
		analysis.Suggestion = "No cards available to analyze yet. Let's create some!"
		return analysis, nil
	}

	var reviewed []Card
	for _, it := range items {
		c := newCard(it, s.scheduler.Retrievability(it, now))
		if it.Phase == card.PhaseSuspended || it.HasTag(fsrs.LeechTagName) {
			analysis.Leeches = append(analysis.Leeches, c)
		}
		if it.Phase != card.PhaseNew && it.Reps > 0 {
			reviewed = append(reviewed, c)
		}
	}
	slices.SortFunc(reviewed, func(a, b Card) int {
		if c := cmp.Compare(a.Retrievability, b.Retrievability); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	analysis.Weakest = append(analysis.Weakest, reviewed[:min(len(reviewed), 5)]...)

	switch {
	case len(analysis.Leeches) > 0:
		analysis.Suggestion = fmt.Sprintf("The card '%s' keeps slipping away (%d lapses). Maybe we can break it into smaller cards?",
			analysis.Leeches[0].Front, analysis.Leeches[0].Lapses)
	case len(analysis.Weakest) > 0 && analysis.Weakest[0].Retrievability < s.cfg.RequestRetention:
		analysis.Suggestion = fmt.Sprintf("The card '%s' is the most likely to be forgotten right now. A quick review would help!",
			analysis.Weakest[0].Front)
	default:
		analysis.Suggestion = "Great job so far! All recent reviews look good. Keep up the excellent work!"
	}
	return analysis, nil
}

// Tags counts cards and due cards per tag, sorted by tag.
func (s *StudyService) Tags() ([]TagInfo, error) {
	s.persister.Flush()

	items, err := s.storage.ListCards(nil)
	if err != nil {
		return nil, fmt.Errorf("error listing cards: %w", err)
	}
	now := timeNow()
	byTag := make(map[string]*TagInfo)
	for _, it := range items {
		due := it.Phase != card.PhaseSuspended && it.IsDue(now)
		for _, tag := range it.Tags {
			info, ok := byTag[tag]
			if !ok {
				info = &TagInfo{Tag: tag}
				byTag[tag] = info
			}
			info.CardCount++
			if due {
				info.DueCount++
			}
		}
	}
	tags := make([]TagInfo, 0, len(byTag))
	for _, info := range byTag {
		tags = append(tags, *info)
	}
	slices.SortFunc(tags, func(a, b TagInfo) int { return cmp.Compare(a.Tag, b.Tag) })
	return tags, nil
}
