// Package config loads server settings from FLASHCARDS_* environment
// variables.
package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/danieldreier/flashcard-scheduler/internal/fsrs"
	"github.com/danieldreier/flashcard-scheduler/internal/optimizer"
	"github.com/danieldreier/flashcard-scheduler/internal/queue"
	"go.uber.org/zap/zapcore"
)

// Config holds every tunable of the server. Step lists are minutes; a list
// of "0" disables steps entirely.
type Config struct {
	DataFile string `env:"FLASHCARDS_FILE" envDefault:"./flashcards.json"`
	// ReviewDB enables the SQLite review log when set.
	ReviewDB string `env:"FLASHCARDS_REVIEW_DB"`
	LogLevel string `env:"FLASHCARDS_LOG_LEVEL" envDefault:"info"`
	Engine   string `env:"FLASHCARDS_ENGINE" envDefault:"fsrs5"`

	RequestRetention float64   `env:"FLASHCARDS_RETENTION" envDefault:"0.9"`
	MaximumInterval  int       `env:"FLASHCARDS_MAX_INTERVAL" envDefault:"36500"`
	LearningSteps    []float64 `env:"FLASHCARDS_LEARNING_STEPS" envDefault:"1,10" envSeparator:","`
	RelearningSteps  []float64 `env:"FLASHCARDS_RELEARNING_STEPS" envDefault:"10" envSeparator:","`
	LeechThreshold   int       `env:"FLASHCARDS_LEECH_THRESHOLD" envDefault:"8"`
	LeechAction      string    `env:"FLASHCARDS_LEECH_ACTION" envDefault:"tag"`

	IgnoreLearningSteps bool `env:"FLASHCARDS_IGNORE_LEARNING_STEPS" envDefault:"false"`
	DailyNewLimit       int  `env:"FLASHCARDS_DAILY_NEW_LIMIT" envDefault:"20"`

	// LegacyOrder switches the sorter to the two-bucket order given by Order.
	LegacyOrder           bool   `env:"FLASHCARDS_LEGACY_ORDER" envDefault:"false"`
	Order                 string `env:"FLASHCARDS_ORDER" envDefault:"newFirst"`
	NewGatherOrder        string `env:"FLASHCARDS_NEW_GATHER_ORDER" envDefault:"insertion"`
	NewSortOrder          string `env:"FLASHCARDS_NEW_SORT_ORDER" envDefault:"due"`
	InterdayLearningOrder string `env:"FLASHCARDS_INTERDAY_LEARNING_ORDER" envDefault:"mixed"`
	ReviewSortOrder       string `env:"FLASHCARDS_REVIEW_SORT_ORDER" envDefault:"due"`

	OptimizerEpochs       int     `env:"FLASHCARDS_OPTIMIZER_EPOCHS" envDefault:"5"`
	OptimizerBatchSize    int     `env:"FLASHCARDS_OPTIMIZER_BATCH_SIZE" envDefault:"32"`
	OptimizerLearningRate float64 `env:"FLASHCARDS_OPTIMIZER_LEARNING_RATE" envDefault:"0.05"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.DataFile == "" {
		errs = append(errs, errors.New("data file is required"))
	}
	if c.RequestRetention <= 0 || c.RequestRetention >= 1 {
		errs = append(errs, fmt.Errorf("retention must be in (0, 1), got %v", c.RequestRetention))
	}
	if c.MaximumInterval < 1 {
		errs = append(errs, fmt.Errorf("maximum interval must be at least 1 day, got %d", c.MaximumInterval))
	}
	if c.LeechThreshold < 0 {
		errs = append(errs, fmt.Errorf("leech threshold must not be negative, got %d", c.LeechThreshold))
	}
	switch fsrs.LeechAction(c.LeechAction) {
	case fsrs.LeechTag, fsrs.LeechSuspend:
	default:
		errs = append(errs, fmt.Errorf("unknown leech action %q", c.LeechAction))
	}
	switch fsrs.Engine(c.Engine) {
	case fsrs.EngineNative, fsrs.EngineLibrary:
	default:
		errs = append(errs, fmt.Errorf("unknown engine %q", c.Engine))
	}
	switch queue.NewReviewOrder(c.Order) {
	case queue.NewFirst, queue.ReviewFirst, queue.Mixed:
	default:
		errs = append(errs, fmt.Errorf("unknown order %q", c.Order))
	}
	if c.DailyNewLimit < 0 {
		errs = append(errs, fmt.Errorf("daily new limit must not be negative, got %d", c.DailyNewLimit))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	return errors.Join(errs...)
}

// Params converts the scheduling settings. Zero weights select the defaults.
func (c Config) Params(weights fsrs.Weights) fsrs.Params {
	return fsrs.Params{
		Weights:          weights,
		RequestRetention: c.RequestRetention,
		MaximumInterval:  c.MaximumInterval,
		LearningSteps:    fsrs.MinutesToSteps(c.LearningSteps),
		RelearningSteps:  fsrs.MinutesToSteps(c.RelearningSteps),
		Leech: fsrs.LeechConfig{
			Threshold: c.LeechThreshold,
			Action:    fsrs.LeechAction(c.LeechAction),
		},
	}
}

// Display returns the sorter configuration, or nil in legacy mode.
func (c Config) Display() *queue.DisplayConfig {
	if c.LegacyOrder {
		return nil
	}
	return &queue.DisplayConfig{
		NewGatherOrder:        queue.NewGatherOrder(c.NewGatherOrder),
		NewSortOrder:          queue.NewSortOrder(c.NewSortOrder),
		NewReviewOrder:        queue.NewReviewOrder(c.Order),
		InterdayLearningOrder: queue.InterdayOrder(c.InterdayLearningOrder),
		ReviewSortOrder:       queue.ReviewSortOrder(c.ReviewSortOrder),
	}
}

// NewReviewOrder is the configured new/review merge order.
func (c Config) NewReviewOrder() queue.NewReviewOrder {
	return queue.NewReviewOrder(c.Order)
}

// Optimizer returns the optimizer settings.
func (c Config) Optimizer() optimizer.Config {
	return optimizer.Config{
		Epochs:       c.OptimizerEpochs,
		BatchSize:    c.OptimizerBatchSize,
		LearningRate: c.OptimizerLearningRate,
	}
}

// Level returns the parsed log level, defaulting to info.
func (c Config) Level() zapcore.Level {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}
