// Package main provides implementation for the flashcards MCP service.
package main

import (
	"time"

	"github.com/danieldreier/flashcard-scheduler/internal/card"
	"github.com/danieldreier/flashcard-scheduler/internal/fsrs"
	"github.com/danieldreier/flashcard-scheduler/internal/session"
)

// Card is the presentation form of a flashcard with its scheduling data
type Card struct {
	ID             string    `json:"id"`
	Front          string    `json:"front"`
	Back           string    `json:"back,omitempty"`
	Category       string    `json:"category,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	Phase          string    `json:"phase"`
	Due            time.Time `json:"due"`
	IntervalDays   float64   `json:"interval_days"`
	Stability      float64   `json:"stability"`
	Difficulty     float64   `json:"difficulty"`
	Reps           int       `json:"reps"`
	Lapses         int       `json:"lapses"`
	Retrievability float64   `json:"retrievability"`
}

func newCard(it card.Item, r float64) Card {
	return Card{
		ID:             it.ID,
		Front:          it.Front,
		Back:           it.Back,
		Category:       it.Category,
		Tags:           it.Tags,
		Phase:          it.Phase.String(),
		Due:            it.Due,
		IntervalDays:   it.Interval,
		Stability:      it.Stability,
		Difficulty:     it.Difficulty,
		Reps:           it.Reps,
		Lapses:         it.Lapses,
		Retrievability: r,
	}
}

// CardStats represents statistics for flashcard review
type CardStats struct {
	TotalCards    int     `json:"total_cards"`
	DueCards      int     `json:"due_cards"`
	ReviewsToday  int     `json:"reviews_today"`
	RetentionRate float64 `json:"retention_rate"`
}

// SessionView describes the running study session
type SessionView struct {
	SessionID string         `json:"session_id"`
	Status    session.Status `json:"status"`
	Progress  float64        `json:"progress"`
	Counts    session.Counts `json:"counts"`
	Reserve   int            `json:"reserve"`
	// Card is the current card. Its back is only included once flipped.
	Card *Card `json:"card,omitempty"`
	// NextDue is set while waiting for a learning step to elapse.
	NextDue *time.Time `json:"next_due,omitempty"`
}

// CreateCardResponse represents the response structure for create_card
type CreateCardResponse struct {
	Card Card `json:"card"`
}

// UpdateCardResponse represents the response structure for update_card
type UpdateCardResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Card    Card   `json:"card"`
}

// DeleteCardResponse represents the response structure for delete_card
type DeleteCardResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ListCardsResponse represents the response structure for list_cards
type ListCardsResponse struct {
	Cards []Card     `json:"cards"`
	Stats *CardStats `json:"stats,omitempty"`
}

// ReviewResponse represents the response structure for submit_review
type ReviewResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Card    Card        `json:"card"`
	Session SessionView `json:"session"`
}

// OptimizeResponse represents the response structure for optimize_parameters
type OptimizeResponse struct {
	Weights    fsrs.Weights `json:"weights"`
	LossBefore float64      `json:"loss_before"`
	LossAfter  float64      `json:"loss_after"`
	Reviews    int          `json:"reviews"`
	Cards      int          `json:"cards"`
}

// LearningAnalysis summarises where the learner is struggling
type LearningAnalysis struct {
	Stats      CardStats `json:"stats"`
	Leeches    []Card    `json:"leeches"`
	Weakest    []Card    `json:"weakest"`
	Suggestion string    `json:"suggestion"`
}

// TagInfo is one entry of the available-tags resource
type TagInfo struct {
	Tag       string `json:"tag"`
	CardCount int    `json:"card_count"`
	DueCount  int    `json:"due_count"`
}
