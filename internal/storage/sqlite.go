package storage

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/danieldreier/flashcard-scheduler/internal/card"
	"github.com/google/uuid"
	gofsrs "github.com/open-spaced-repetition/go-fsrs"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const reviewLogSchema = `
CREATE TABLE IF NOT EXISTS review_log (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	id             TEXT NOT NULL UNIQUE,
	card_id        TEXT NOT NULL,
	grade          INTEGER NOT NULL,
	state          INTEGER NOT NULL,
	elapsed_days   REAL NOT NULL,
	scheduled_days REAL NOT NULL,
	stability      REAL NOT NULL,
	difficulty     REAL NOT NULL,
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS review_log_card ON review_log (card_id, created_at);
`

// ReviewLogStore is an append-only SQLite review log. It mirrors the JSON
// file's review list so the optimizer can read a large history without
// loading the whole card file.
type ReviewLogStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenReviewLog opens (or creates) the review log database at path.
func OpenReviewLog(path string, logger *zap.Logger) (*ReviewLogStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("review log path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path)
	}
	dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open review log: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping review log: %w", err)
	}
	if _, err := db.Exec(reviewLogSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init review log schema: %w", err)
	}

	logger.Info("Review log ready", zap.String("path", path))
	return &ReviewLogStore{db: db, logger: logger}, nil
}

// Close releases the database.
func (s *ReviewLogStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendReview stores one entry. A missing ID or timestamp is filled in.
func (s *ReviewLogStore) AppendReview(ctx context.Context, entry card.ReviewLogEntry) (card.ReviewLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return card.ReviewLogEntry{}, err
	}
	if strings.TrimSpace(entry.CardID) == "" {
		return card.ReviewLogEntry{}, fmt.Errorf("card id is required")
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO review_log (
	id,
	card_id,
	grade,
	state,
	elapsed_days,
	scheduled_days,
	stability,
	difficulty,
	created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		entry.ID,
		entry.CardID,
		int(entry.Grade),
		int(entry.State),
		entry.ElapsedDays,
		entry.ScheduledDays,
		entry.Stability,
		entry.Difficulty,
		entry.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return card.ReviewLogEntry{}, fmt.Errorf("append review: %w", err)
	}
	return entry, nil
}

// ListReviews returns the whole log in insertion order.
func (s *ReviewLogStore) ListReviews(ctx context.Context) ([]card.ReviewLogEntry, error) {
	return s.query(ctx, `WHERE 1 = 1`)
}

// ListCardReviews returns one card's entries in insertion order.
func (s *ReviewLogStore) ListCardReviews(ctx context.Context, cardID string) ([]card.ReviewLogEntry, error) {
	return s.query(ctx, `WHERE card_id = ?`, cardID)
}

func (s *ReviewLogStore) query(ctx context.Context, where string, args ...any) ([]card.ReviewLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT
	id,
	card_id,
	grade,
	state,
	elapsed_days,
	scheduled_days,
	stability,
	difficulty,
	created_at
FROM review_log
`+where+`
ORDER BY seq
`, args...)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var entries []card.ReviewLogEntry
	for rows.Next() {
		var (
			e            card.ReviewLogEntry
			grade, state int
			createdAt    int64
		)
		if err := rows.Scan(
			&e.ID,
			&e.CardID,
			&grade,
			&state,
			&e.ElapsedDays,
			&e.ScheduledDays,
			&e.Stability,
			&e.Difficulty,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		e.Grade = card.Grade(grade)
		e.State = gofsrs.State(state)
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviews: %w", err)
	}
	return entries, nil
}
