// Package main provides implementation for the flashcards MCP service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/danieldreier/flashcard-scheduler/internal/card"
	"github.com/danieldreier/flashcard-scheduler/internal/optimizer"
	"github.com/danieldreier/flashcard-scheduler/internal/session"
	"github.com/danieldreier/flashcard-scheduler/internal/storage"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cast"
)

// jsonResult marshals v as the text of a tool result.
func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// errorResult reports a failure the model can act on.
func errorResult(format string, args ...interface{}) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...))
}

// stringArg returns a string argument and whether it was supplied.
func stringArg(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", false
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", false
	}
	return s, true
}

// tagsArg returns a string list argument and whether it was supplied.
func tagsArg(args map[string]interface{}, key string) ([]string, bool) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, false
	}
	tags, err := cast.ToStringSliceE(v)
	if err != nil {
		return nil, false
	}
	return tags, true
}

func createCardHandler(s *StudyService) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.Params.Arguments
		front, ok := stringArg(args, "front")
		if !ok {
			return errorResult("Missing required parameter: front"), nil
		}
		back, ok := stringArg(args, "back")
		if !ok {
			return errorResult("Missing required parameter: back"), nil
		}
		category, _ := stringArg(args, "category")
		tags, _ := tagsArg(args, "tags")

		created, err := s.CreateCard(front, back, category, tags)
		if err != nil {
			return errorResult("Error creating card: %v", err), nil
		}
		return jsonResult(CreateCardResponse{Card: created})
	}
}

func updateCardHandler(s *StudyService) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.Params.Arguments
		cardID, ok := stringArg(args, "card_id")
		if !ok {
			return errorResult("Missing required parameter: card_id"), nil
		}

		var front, back, category *string
		var tags *[]string
		if v, ok := stringArg(args, "front"); ok {
			front = &v
		}
		if v, ok := stringArg(args, "back"); ok {
			back = &v
		}
		if v, ok := stringArg(args, "category"); ok {
			category = &v
		}
		if v, ok := tagsArg(args, "tags"); ok {
			tags = &v
		}

		updated, err := s.UpdateCard(cardID, front, back, category, tags)
		if err != nil {
			if errors.Is(err, storage.ErrCardNotFound) {
				return errorResult("Card not found: %s", cardID), nil
			}
			return errorResult("Error updating card: %v", err), nil
		}
		return jsonResult(UpdateCardResponse{
			Success: true,
			Message: "Card updated successfully",
			Card:    updated,
		})
	}
}

func deleteCardHandler(s *StudyService) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		cardID, ok := stringArg(request.Params.Arguments, "card_id")
		if !ok {
			return errorResult("Missing required parameter: card_id"), nil
		}
		if err := s.DeleteCard(cardID); err != nil {
			if errors.Is(err, storage.ErrCardNotFound) {
				return errorResult("Card not found: %s", cardID), nil
			}
			return errorResult("Error deleting card: %v", err), nil
		}
		return jsonResult(DeleteCardResponse{
			Success: true,
			Message: "Card deleted successfully",
		})
	}
}

func listCardsHandler(s *StudyService) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.Params.Arguments
		tags, _ := tagsArg(args, "tags")
		includeStats := cast.ToBool(args["include_stats"])

		cards, stats, err := s.ListCards(tags, includeStats)
		if err != nil {
			return errorResult("Error listing cards: %v", err), nil
		}
		return jsonResult(ListCardsResponse{Cards: cards, Stats: stats})
	}
}

func startSessionHandler(s *StudyService) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tags, _ := tagsArg(request.Params.Arguments, "tags")
		view, err := s.StartSession(tags)
		if err != nil {
			return errorResult("Error starting session: %v", err), nil
		}
		return jsonResult(view)
	}
}

// sessionErrorResult turns the expected session errors into friendly text.
func sessionErrorResult(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, session.ErrNoSession):
		return errorResult("No study session is running. Call start_session first.")
	case errors.Is(err, session.ErrNoCurrentCard):
		return errorResult("The session is complete. No cards left to review.")
	case errors.Is(err, errCardNotDue):
		return errorResult("The next card is still in a learning step. Check back after its next_due time.")
	default:
		return errorResult("Error: %v", err)
	}
}

func getCurrentCardHandler(s *StudyService) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		view, err := s.CurrentCard()
		if err != nil {
			return sessionErrorResult(err), nil
		}
		return jsonResult(view)
	}
}

func flipCardHandler(s *StudyService) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		view, err := s.FlipCard()
		if err != nil {
			return sessionErrorResult(err), nil
		}
		return jsonResult(view)
	}
}

func submitReviewHandler(s *StudyService) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, ok := request.Params.Arguments["rating"]
		if !ok {
			return errorResult("Missing required parameter: rating"), nil
		}
		rating, err := cast.ToIntE(raw)
		if err != nil {
			return errorResult("Rating must be a number between 1 and 4"), nil
		}

		// An out of range rating still reaches the service so the session
		// falls back to a gradable state.
		updated, view, err := s.SubmitReview(ctx, card.Grade(rating))
		if err != nil {
			return sessionErrorResult(err), nil
		}
		return jsonResult(ReviewResponse{
			Success: true,
			Message: "Review submitted successfully for card " + updated.ID,
			Card:    updated,
			Session: view,
		})
	}
}

func undoReviewHandler(s *StudyService) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		view, err := s.UndoReview(ctx)
		if err != nil {
			if errors.Is(err, errNothingToUndo) {
				return errorResult("Nothing to undo in this session."), nil
			}
			return sessionErrorResult(err), nil
		}
		return jsonResult(view)
	}
}

func sessionStatusHandler(s *StudyService) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		view, err := s.SessionStatus()
		if err != nil {
			return sessionErrorResult(err), nil
		}
		return jsonResult(view)
	}
}

func optimizeParametersHandler(s *StudyService) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp, err := s.OptimizeParameters(ctx)
		if err != nil {
			if errors.Is(err, optimizer.ErrInsufficientData) {
				return errorResult("Not enough review history yet: at least %d reviewed cards are needed.", optimizer.MinItems), nil
			}
			return errorResult("Error optimizing parameters: %v", err), nil
		}
		return jsonResult(resp)
	}
}

func analyzeLearningHandler(s *StudyService) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		analysis, err := s.AnalyzeLearning()
		if err != nil {
			return errorResult("Error analyzing learning: %v", err), nil
		}
		return jsonResult(analysis)
	}
}

// tagsResourceHandler lists the available tags with card and due counts so
// callers know what they can filter on.
func tagsResourceHandler(s *StudyService) server.ResourceHandlerFunc {
	return func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		tags, err := s.Tags()
		if err != nil {
			return nil, err
		}
		jsonBytes, err := json.MarshalIndent(tags, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("error marshaling tags to JSON: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      tagsResourceURI,
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	}
}
