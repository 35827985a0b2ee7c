package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danieldreier/flashcard-scheduler/internal/config"
	"github.com/danieldreier/flashcard-scheduler/internal/storage"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	serverName      = "Flashcards MCP"
	serverVersion   = "2.0.0"
	tagsResourceURI = "available-tags"
)

const flashcardsServerInfo = `
This is a spaced repetition flashcard system. Cards are scheduled with the
FSRS memory model and studied in sessions.

1. START: call start_session (optionally with tags). The session queues due
   reviews, learning cards and today's share of new cards.

2. PRESENT: call get_current_card and show only the front. The back is
   hidden until the card is flipped.

3. REVEAL: after the student answers, call flip_card to see the back and
   compare it with the student's answer.

4. RATE: call submit_review with a rating:
     * 1 (Again): answer absent or wrong
     * 2 (Hard): partially correct or very slow
     * 3 (Good): correct with some effort
     * 4 (Easy): correct immediately
   Cards still in a learning step come back later in the same session.
   If the session status is "waiting", the next card's learning step has
   not elapsed yet; its next_due time says when.

5. CORRECT: undo_review reverts the last rating if it was a mistake.

6. FINISH: when the status is "complete", congratulate the student and
   suggest new cards for the topics that were hardest. analyze_learning
   lists leeches and the cards most likely to be forgotten.

After a few weeks of reviews, optimize_parameters fits the memory model
to the student's own history.
`

// newLogger builds the development logger at the configured level.
func newLogger(cfg config.Config) *zap.Logger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.Level = zap.NewAtomicLevelAt(cfg.Level())
	// stdout carries the MCP protocol.
	logConfig.OutputPaths = []string{"stderr"}
	logger, err := logConfig.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing zap logger: %v. Logging disabled.\n", err)
		return zap.NewNop()
	}
	return logger
}

// newMCPServer registers every tool and resource against the service.
func newMCPServer(svc *StudyService) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithInstructions(flashcardsServerInfo),
		server.WithResourceCapabilities(true, true),
		server.WithToolCapabilities(true),
		server.WithLogging(),
	)

	s.AddTool(mcp.NewTool("create_card",
		mcp.WithDescription("Create a new flashcard. Each card should test a single concept."),
		mcp.WithString("front",
			mcp.Required(),
			mcp.Description("The front text of the card"),
		),
		mcp.WithString("back",
			mcp.Required(),
			mcp.Description("The back text of the card"),
		),
		mcp.WithString("category",
			mcp.Description("Optional category used by the category sort order"),
		),
		mcp.WithArray("tags",
			mcp.Description("Tags for categorizing the card"),
		),
	), createCardHandler(svc))

	s.AddTool(mcp.NewTool("update_card",
		mcp.WithDescription("Update the content of an existing flashcard. Scheduling data is kept."),
		mcp.WithString("card_id",
			mcp.Required(),
			mcp.Description("The ID of the card to update"),
		),
		mcp.WithString("front",
			mcp.Description("The new front text of the card"),
		),
		mcp.WithString("back",
			mcp.Description("The new back text of the card"),
		),
		mcp.WithString("category",
			mcp.Description("The new category of the card"),
		),
		mcp.WithArray("tags",
			mcp.Description("New tags for the card"),
		),
	), updateCardHandler(svc))

	s.AddTool(mcp.NewTool("delete_card",
		mcp.WithDescription("Delete a flashcard. It is also removed from the running session."),
		mcp.WithString("card_id",
			mcp.Required(),
			mcp.Description("The ID of the card to delete"),
		),
	), deleteCardHandler(svc))

	s.AddTool(mcp.NewTool("list_cards",
		mcp.WithDescription(
			"List all flashcards, optionally filtered by tags. "+
				"When displaying cards to the student, prefer to show only the question side "+
				"unless the student specifically requests to see both sides.",
		),
		mcp.WithArray("tags",
			mcp.Description("Filter cards by tags (cards with any of the tags match)"),
		),
		mcp.WithBoolean("include_stats",
			mcp.Description("Include statistics in the response"),
		),
	), listCardsHandler(svc))

	s.AddTool(mcp.NewTool("start_session",
		mcp.WithDescription("Start a new study session, replacing any running one."),
		mcp.WithArray("tags",
			mcp.Description("Only study cards with any of these tags"),
		),
	), startSessionHandler(svc))

	s.AddTool(mcp.NewTool("get_current_card",
		mcp.WithDescription("Get the current card of the session. Show ONLY the front to the student."),
	), getCurrentCardHandler(svc))

	s.AddTool(mcp.NewTool("flip_card",
		mcp.WithDescription("Reveal the back of the current card after the student has answered."),
	), flipCardHandler(svc))

	s.AddTool(mcp.NewTool("submit_review",
		mcp.WithDescription("Rate the current card and move the session to the next card."),
		mcp.WithNumber("rating",
			mcp.Required(),
			mcp.Description("Rating: 1=Again, 2=Hard, 3=Good, 4=Easy"),
		),
	), submitReviewHandler(svc))

	s.AddTool(mcp.NewTool("undo_review",
		mcp.WithDescription("Undo the most recent rating in the session."),
	), undoReviewHandler(svc))

	s.AddTool(mcp.NewTool("session_status",
		mcp.WithDescription("Report session progress and remaining new, learning and review counts."),
	), sessionStatusHandler(svc))

	s.AddTool(mcp.NewTool("optimize_parameters",
		mcp.WithDescription("Fit the memory model weights to the review history and use them from now on."),
	), optimizeParametersHandler(svc))

	s.AddTool(mcp.NewTool("analyze_learning",
		mcp.WithDescription("Analyze the student's progress: leeches, weakest cards and review statistics."),
	), analyzeLearningHandler(svc))

	s.AddResource(mcp.NewResource(tagsResourceURI, "Available tags",
		mcp.WithResourceDescription("All tags with their card and due counts"),
		mcp.WithMIMEType("application/json"),
	), tagsResourceHandler(svc))

	return s
}

func main() {
	filePath := flag.String("file", "", "Path to flashcard data file (overrides FLASHCARDS_FILE)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if *filePath != "" {
		cfg.DataFile = *filePath
	}

	logger := newLogger(cfg)
	defer logger.Sync()

	fileStorage := storage.NewFileStorage(cfg.DataFile, logger.Named("storage"))
	if err := fileStorage.Load(); err != nil {
		logger.Fatal("Error loading storage", zap.String("path", cfg.DataFile), zap.Error(err))
	}

	var reviewLog *storage.ReviewLogStore
	if cfg.ReviewDB != "" {
		reviewLog, err = storage.OpenReviewLog(cfg.ReviewDB, logger.Named("review_log"))
		if err != nil {
			logger.Fatal("Error opening review log", zap.String("path", cfg.ReviewDB), zap.Error(err))
		}
		defer reviewLog.Close()
	}

	svc := NewStudyService(fileStorage, reviewLog, cfg, logger.Named("service"))
	defer svc.Close()

	logger.Info("Starting flashcards MCP server",
		zap.String("file", cfg.DataFile),
		zap.String("engine", cfg.Engine),
		zap.Bool("review_log", reviewLog != nil))

	if err := server.ServeStdio(newMCPServer(svc)); err != nil {
		logger.Error("Error serving MCP server", zap.Error(err))
	}
}
