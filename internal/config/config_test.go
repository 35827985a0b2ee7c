package config

import (
	"strings"
	"testing"
	"time"

	"github.com/danieldreier/flashcard-scheduler/internal/fsrs"
	"github.com/danieldreier/flashcard-scheduler/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./flashcards.json", cfg.DataFile)
	assert.Empty(t, cfg.ReviewDB)
	assert.Equal(t, zapcore.InfoLevel, cfg.Level())
	assert.Equal(t, 20, cfg.DailyNewLimit)

	params := cfg.Params(fsrs.Weights{})
	def := fsrs.DefaultParams()
	assert.Equal(t, def.RequestRetention, params.RequestRetention)
	assert.Equal(t, def.MaximumInterval, params.MaximumInterval)
	assert.Equal(t, def.LearningSteps, params.LearningSteps)
	assert.Equal(t, def.RelearningSteps, params.RelearningSteps)
	assert.Equal(t, def.Leech, params.Leech)

	display := cfg.Display()
	require.NotNil(t, display)
	assert.Equal(t, queue.DefaultDisplayConfig(), *display)
	assert.Equal(t, queue.NewFirst, cfg.NewReviewOrder())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("FLASHCARDS_FILE", "/tmp/cards.json")
	t.Setenv("FLASHCARDS_REVIEW_DB", "/tmp/reviews.db")
	t.Setenv("FLASHCARDS_RETENTION", "0.85")
	t.Setenv("FLASHCARDS_LEARNING_STEPS", "0.5,5,30")
	t.Setenv("FLASHCARDS_RELEARNING_STEPS", "0")
	t.Setenv("FLASHCARDS_LEECH_ACTION", "suspend")
	t.Setenv("FLASHCARDS_ORDER", "mixed")
	t.Setenv("FLASHCARDS_REVIEW_SORT_ORDER", "overdueness")
	t.Setenv("FLASHCARDS_LOG_LEVEL", "debug")
	t.Setenv("FLASHCARDS_OPTIMIZER_EPOCHS", "9")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/cards.json", cfg.DataFile)
	assert.Equal(t, "/tmp/reviews.db", cfg.ReviewDB)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level())

	params := cfg.Params(fsrs.DefaultWeights)
	assert.Equal(t, 0.85, params.RequestRetention)
	assert.Equal(t, []time.Duration{30 * time.Second, 5 * time.Minute, 30 * time.Minute}, params.LearningSteps)
	assert.NotNil(t, params.RelearningSteps)
	assert.Empty(t, params.RelearningSteps, "0 disables relearning steps")
	assert.Equal(t, fsrs.LeechSuspend, params.Leech.Action)

	display := cfg.Display()
	require.NotNil(t, display)
	assert.Equal(t, queue.Mixed, display.NewReviewOrder)
	assert.Equal(t, queue.ReviewSortOverdueness, display.ReviewSortOrder)
	assert.Equal(t, 9, cfg.Optimizer().Epochs)
}

func TestLegacyOrder(t *testing.T) {
	t.Setenv("FLASHCARDS_LEGACY_ORDER", "true")
	t.Setenv("FLASHCARDS_ORDER", "reviewFirst")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Nil(t, cfg.Display())
	assert.Equal(t, queue.ReviewFirst, cfg.NewReviewOrder())
}

func TestLoadParseError(t *testing.T) {
	t.Setenv("FLASHCARDS_MAX_INTERVAL", "forever")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "parse env:"), "got %v", err)
}

func TestValidate(t *testing.T) {
	valid, err := Load()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"retention too high", func(c *Config) { c.RequestRetention = 1 }, "retention"},
		{"zero max interval", func(c *Config) { c.MaximumInterval = 0 }, "maximum interval"},
		{"bad leech action", func(c *Config) { c.LeechAction = "delete" }, "leech action"},
		{"bad engine", func(c *Config) { c.Engine = "sm2" }, "engine"},
		{"bad order", func(c *Config) { c.Order = "sideways" }, "order"},
		{"negative limit", func(c *Config) { c.DailyNewLimit = -1 }, "daily new limit"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log level"},
		{"no data file", func(c *Config) { c.DataFile = "" }, "data file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
