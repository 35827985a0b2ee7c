package storage

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/danieldreier/flashcard-scheduler/internal/card"
	"github.com/danieldreier/flashcard-scheduler/internal/fsrs"
	"github.com/google/uuid"
	gofsrs "github.com/open-spaced-repetition/go-fsrs"
	"go.uber.org/zap"
)

// Record is the persisted form of a card. Lifecycle is kept in two external
// fields, a coarse status and the decay-model state, which are folded into a
// single card.Phase on load.
type Record struct {
	ID           string       `json:"id"`
	Front        string       `json:"front"`
	Back         string       `json:"back"`
	Category     string       `json:"category,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	Status       card.Status  `json:"status"`
	State        gofsrs.State `json:"state"`
	Stability    float64      `json:"stability"`
	Difficulty   float64      `json:"difficulty"`
	Interval     float64      `json:"interval"`
	Due          time.Time    `json:"due"`
	Reps         int          `json:"reps"`
	Lapses       int          `json:"lapses"`
	LearningStep int          `json:"learning_step"`
	LastReview   time.Time    `json:"last_review,omitempty"`
}

// Item converts the record to the engine's item.
func (r Record) Item() card.Item {
	return card.Item{
		ID:           r.ID,
		Phase:        card.ParsePhase(string(r.Status), r.State),
		Stability:    r.Stability,
		Difficulty:   r.Difficulty,
		Interval:     r.Interval,
		Due:          r.Due,
		Reps:         r.Reps,
		Lapses:       r.Lapses,
		LearningStep: r.LearningStep,
		LastReview:   r.LastReview,
		Category:     r.Category,
		Front:        r.Front,
		Back:         r.Back,
		Tags:         slices.Clone(r.Tags),
	}
}

func recordFromItem(it card.Item, createdAt time.Time) Record {
	return Record{
		ID:           it.ID,
		Front:        it.Front,
		Back:         it.Back,
		Category:     it.Category,
		Tags:         slices.Clone(it.Tags),
		CreatedAt:    createdAt,
		Status:       it.Phase.Status(),
		State:        it.Phase.State(),
		Stability:    it.Stability,
		Difficulty:   it.Difficulty,
		Interval:     it.Interval,
		Due:          it.Due,
		Reps:         it.Reps,
		Lapses:       it.Lapses,
		LearningStep: it.LearningStep,
		LastReview:   it.LastReview,
	}
}

// FlashcardStore represents the data structure stored in the JSON file
type FlashcardStore struct {
	Cards       map[string]Record     `json:"cards"`
	Reviews     []card.ReviewLogEntry `json:"reviews"`
	Weights     *fsrs.Weights         `json:"weights,omitempty"`
	LastUpdated time.Time             `json:"last_updated"`
}

func emptyStore() FlashcardStore {
	return FlashcardStore{
		Cards:   make(map[string]Record),
		Reviews: []card.ReviewLogEntry{},
	}
}

// ErrCardNotFound is returned when a card is not found in the storage
var ErrCardNotFound = errors.New("card not found")

// Storage represents the storage interface for flashcards
type Storage interface {
	// Card operations
	CreateCard(front, back, category string, tags []string) (card.Item, error)
	GetCard(id string) (card.Item, error)
	UpdateCard(item card.Item) error
	DeleteCard(id string) error
	ListCards(tags []string) ([]card.Item, error)

	// Review log operations
	AddReview(entry card.ReviewLogEntry) (card.ReviewLogEntry, error)
	GetCardReviews(cardID string) ([]card.ReviewLogEntry, error)
	ListReviews() ([]card.ReviewLogEntry, error)

	// Model weights
	Weights() (fsrs.Weights, bool)
	SetWeights(w fsrs.Weights) error

	// File operations
	Load() error
	Save() error
}

// FileStorage implements the Storage interface using a JSON file for persistence
type FileStorage struct {
	filePath string
	logger   *zap.Logger
	store    FlashcardStore
	mu       sync.RWMutex
}

// NewFileStorage creates a new FileStorage instance. A nil logger disables
// logging.
func NewFileStorage(filePath string, logger *zap.Logger) *FileStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Creating file storage", zap.String("path", filePath))
	return &FileStorage{
		filePath: filePath,
		logger:   logger,
		store:    emptyStore(),
	}
}

// CreateCard creates a new card in the new phase, due immediately.
func (fs *FileStorage) CreateCard(front, back, category string, tags []string) (card.Item, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	now := time.Now()
	item := card.Item{
		ID:       uuid.New().String(),
		Phase:    card.PhaseNew,
		Due:      now,
		Category: category,
		Front:    front,
		Back:     back,
		Tags:     slices.Clone(tags),
	}

	fs.store.Cards[item.ID] = recordFromItem(item, now)
	fs.store.LastUpdated = now
	return item, nil
}

// GetCard retrieves a card by ID
func (fs *FileStorage) GetCard(id string) (card.Item, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	rec, exists := fs.store.Cards[id]
	if !exists {
		return card.Item{}, fmt.Errorf("get card %s: %w", id, ErrCardNotFound)
	}
	return rec.Item(), nil
}

// UpdateCard updates an existing card, keeping its creation time.
func (fs *FileStorage) UpdateCard(item card.Item) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec, exists := fs.store.Cards[item.ID]
	if !exists {
		return fmt.Errorf("update card %s: %w", item.ID, ErrCardNotFound)
	}

	fs.store.Cards[item.ID] = recordFromItem(item, rec.CreatedAt)
	fs.store.LastUpdated = time.Now()
	return nil
}

// DeleteCard deletes a card by ID. Its review history is kept.
func (fs *FileStorage) DeleteCard(id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, exists := fs.store.Cards[id]; !exists {
		return fmt.Errorf("delete card %s: %w", id, ErrCardNotFound)
	}

	delete(fs.store.Cards, id)
	fs.store.LastUpdated = time.Now()
	return nil
}

// ListCards returns cards in creation order, optionally filtered by tags
// (must contain ANY of the tags).
func (fs *FileStorage) ListCards(tags []string) ([]card.Item, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	records := make([]Record, 0, len(fs.store.Cards))
	for _, rec := range fs.store.Cards {
		if hasAnyTag(rec.Tags, tags) {
			records = append(records, rec)
		}
	}
	slices.SortFunc(records, func(a, b Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	result := make([]card.Item, 0, len(records))
	for _, rec := range records {
		result = append(result, rec.Item())
	}
	return result, nil
}

// hasAnyTag checks if tags contain any of the required tags (OR logic).
func hasAnyTag(tags, required []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, t := range required {
		if slices.Contains(tags, t) {
			return true
		}
	}
	return false
}

// AddReview appends an entry to the review log. A missing ID or timestamp
// is filled in.
func (fs *FileStorage) AddReview(entry card.ReviewLogEntry) (card.ReviewLogEntry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, exists := fs.store.Cards[entry.CardID]; !exists {
		return card.ReviewLogEntry{}, fmt.Errorf("add review for %s: %w", entry.CardID, ErrCardNotFound)
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	fs.store.Reviews = append(fs.store.Reviews, entry)
	fs.store.LastUpdated = entry.CreatedAt
	return entry, nil
}

// GetCardReviews gets all reviews for a specific card
func (fs *FileStorage) GetCardReviews(cardID string) ([]card.ReviewLogEntry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if _, exists := fs.store.Cards[cardID]; !exists {
		return nil, fmt.Errorf("get reviews for %s: %w", cardID, ErrCardNotFound)
	}

	var reviews []card.ReviewLogEntry
	for _, r := range fs.store.Reviews {
		if r.CardID == cardID {
			reviews = append(reviews, r)
		}
	}
	return reviews, nil
}

// ListReviews returns a copy of the whole review log.
func (fs *FileStorage) ListReviews() ([]card.ReviewLogEntry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return slices.Clone(fs.store.Reviews), nil
}

// Weights returns the persisted model weights, if any were saved.
func (fs *FileStorage) Weights() (fsrs.Weights, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if fs.store.Weights == nil {
		return fsrs.Weights{}, false
	}
	return *fs.store.Weights, true
}

// SetWeights replaces the persisted model weights.
func (fs *FileStorage) SetWeights(w fsrs.Weights) error {
	if err := w.Validate(); err != nil {
		return fmt.Errorf("set weights: %w", err)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.store.Weights = &w
	fs.store.LastUpdated = time.Now()
	return nil
}

// save is the internal helper for saving data without acquiring the lock again.
// Assumes the lock (write lock) is already held.
func (fs *FileStorage) save() error {
	if fs.store.Cards == nil {
		fs.store.Cards = make(map[string]Record)
	}
	if fs.store.Reviews == nil {
		fs.store.Reviews = []card.ReviewLogEntry{}
	}
	fs.store.LastUpdated = time.Now()

	dataBytes, err := json.MarshalIndent(fs.store, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal storage data: %w", err)
	}

	dir := filepath.Dir(fs.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to a temporary file, then rename over the target.
	tempFile := fs.filePath + ".tmp"
	if err := os.WriteFile(tempFile, dataBytes, 0644); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := os.Rename(tempFile, fs.filePath); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	fs.logger.Debug("Saved storage",
		zap.String("path", fs.filePath),
		zap.Int("cards", len(fs.store.Cards)),
		zap.Int("reviews", len(fs.store.Reviews)))
	return nil
}

// Load loads the data from the file, creating an empty file if none exists.
func (fs *FileStorage) Load() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, err := os.Stat(fs.filePath); os.IsNotExist(err) {
		fs.logger.Info("Storage file not found, initializing empty store", zap.String("path", fs.filePath))
		fs.store = emptyStore()
		if err := fs.save(); err != nil {
			return fmt.Errorf("failed to save initial empty store: %w", err)
		}
		return nil
	}

	data, err := os.ReadFile(fs.filePath)
	if err != nil {
		return fmt.Errorf("failed to read storage file: %w", err)
	}
	if len(data) == 0 {
		fs.logger.Warn("Storage file is empty, initializing empty store", zap.String("path", fs.filePath))
		fs.store = emptyStore()
		return nil
	}

	var store FlashcardStore
	if err := json.Unmarshal(data, &store); err != nil {
		return fmt.Errorf("failed to unmarshal storage data: %w", err)
	}
	if store.Cards == nil {
		store.Cards = make(map[string]Record)
	}
	if store.Reviews == nil {
		store.Reviews = []card.ReviewLogEntry{}
	}

	fs.store = store
	fs.logger.Info("Loaded storage",
		zap.String("path", fs.filePath),
		zap.Int("cards", len(store.Cards)),
		zap.Int("reviews", len(store.Reviews)))
	return nil
}

// Save saves the data to the file atomically.
func (fs *FileStorage) Save() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.save()
}
