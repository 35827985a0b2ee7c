package fsrs

import (
	"fmt"
	"math"
	"time"
)

// NumWeights is the length of the decay-model weight vector.
const NumWeights = 19

// Weights is the FSRS-5 parameter vector.
//
//	w[0..3]   initial stability per grade
//	w[4..5]   initial difficulty
//	w[6..7]   difficulty update and mean reversion
//	w[8..10]  recall stability
//	w[11..14] forget stability
//	w[15..16] hard penalty, easy bonus
//	w[17..18] same-day (short-term) stability
type Weights [NumWeights]float64

// DefaultWeights are the published FSRS-5 defaults.
var DefaultWeights = Weights{
	0.40255, 1.18385, 3.173, 15.69105,
	7.1949, 0.5345, 1.4604, 0.0046,
	1.54575, 0.1192, 1.01925,
	1.9395, 0.11, 0.29605, 2.2698,
	0.2315, 2.9898,
	0.51655, 0.6621,
}

// LowerBounds and UpperBounds bracket every weight. The optimizer clamps to
// them after each step.
var (
	LowerBounds = Weights{
		0.01, 0.01, 0.01, 0.01,
		1.0, 0.001, 0.001, 0.001,
		0.001, 0.001, 0.001,
		0.001, 0.001, 0.001, 0.001,
		0.001, 1.0,
		0.001, 0.001,
	}
	UpperBounds = Weights{
		100, 100, 100, 100,
		10, 4, 4, 0.75,
		4.5, 0.8, 3.5,
		5, 0.25, 0.9, 4,
		1, 6,
		2, 2,
	}
)

// Clamp returns w with every weight forced into its bounds. NaN weights are
// replaced by the default.
func (w Weights) Clamp() Weights {
	for i := range w {
		if math.IsNaN(w[i]) {
			w[i] = DefaultWeights[i]
		}
		w[i] = math.Min(math.Max(w[i], LowerBounds[i]), UpperBounds[i])
	}
	return w
}

// Validate reports the first weight outside its bounds.
func (w Weights) Validate() error {
	for i := range w {
		if math.IsNaN(w[i]) || w[i] < LowerBounds[i] || w[i] > UpperBounds[i] {
			return fmt.Errorf("%w: w[%d] = %f, bounds [%f, %f]",
				ErrInvalidWeights, i, w[i], LowerBounds[i], UpperBounds[i])
		}
	}
	return nil
}

// LeechAction is what happens to an item once it reaches the lapse threshold.
type LeechAction string

const (
	LeechTag     LeechAction = "tag"
	LeechSuspend LeechAction = "suspend"
)

// LeechTagName is appended to an item's tags by LeechTag.
const LeechTagName = "leech"

// LeechConfig controls leech detection. A zero threshold disables it.
type LeechConfig struct {
	Threshold int         `json:"threshold"`
	Action    LeechAction `json:"action"`
}

// Params bundles everything NextReview needs besides the item itself.
type Params struct {
	Weights          Weights         `json:"weights"`
	RequestRetention float64         `json:"request_retention"`
	MaximumInterval  int             `json:"maximum_interval"` // days
	LearningSteps    []time.Duration `json:"learning_steps"`
	RelearningSteps  []time.Duration `json:"relearning_steps"`
	Leech            LeechConfig     `json:"leech"`
}

// DefaultParams returns the stock configuration: default weights, 90%
// retention, 1m/10m learning steps and a 10m relearning step.
func DefaultParams() Params {
	return Params{
		Weights:          DefaultWeights,
		RequestRetention: 0.9,
		MaximumInterval:  36500,
		LearningSteps:    []time.Duration{time.Minute, 10 * time.Minute},
		RelearningSteps:  []time.Duration{10 * time.Minute},
		Leech:            LeechConfig{Threshold: 8, Action: LeechTag},
	}
}

// normalized fills zero or out-of-range settings with defaults.
func (p Params) normalized() Params {
	if p.Weights == (Weights{}) {
		p.Weights = DefaultWeights
	}
	if p.RequestRetention <= 0 || p.RequestRetention >= 1 || math.IsNaN(p.RequestRetention) {
		p.RequestRetention = 0.9
	}
	if p.MaximumInterval <= 0 {
		p.MaximumInterval = 36500
	}
	// nil means "use the defaults"; an empty slice means "no steps".
	if p.LearningSteps == nil {
		p.LearningSteps = []time.Duration{time.Minute, 10 * time.Minute}
	}
	if p.RelearningSteps == nil {
		p.RelearningSteps = []time.Duration{10 * time.Minute}
	}
	return p
}

// MinutesToSteps converts a list of minutes, as configured by users, to
// learning step durations. Non-positive entries are dropped.
func MinutesToSteps(minutes []float64) []time.Duration {
	steps := make([]time.Duration, 0, len(minutes))
	for _, m := range minutes {
		if m > 0 {
			steps = append(steps, time.Duration(m*float64(time.Minute)))
		}
	}
	return steps
}
