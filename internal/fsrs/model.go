package fsrs

import (
	"errors"
	"math"

	"github.com/danieldreier/flashcard-scheduler/internal/card"
)

// ErrInvalidWeights is returned when a weight vector is out of bounds.
var ErrInvalidWeights = errors.New("fsrs: weights out of bounds")

const (
	// Decay is the fixed power-law exponent of the forgetting curve.
	Decay = -0.5
	// Factor is chosen so that Retrievability(S, S) == 0.9.
	Factor = 19.0 / 81.0

	minStability = 0.01
)

// Retrievability computes R(t, S) = (1 + Factor*t/S)^Decay.
// It returns 0 when stability carries no information (S <= 0 or NaN).
// Negative elapsed time is treated as zero.
func Retrievability(elapsedDays, stability float64) float64 {
	if !(stability > 0) || math.IsInf(stability, 0) {
		if math.IsInf(stability, 1) {
			return 1
		}
		return 0
	}
	if !(elapsedDays > 0) {
		elapsedDays = 0
	}
	r := math.Pow(1+Factor*elapsedDays/stability, Decay)
	return clamp(r, 0, 1)
}

// InitStability returns S0(G) = w[G-1].
func InitStability(g card.Grade, w Weights) float64 {
	return math.Max(w[gradeIndex(g)-1], minStability)
}

// InitDifficulty returns D0(G) = w4 - e^(w5*(G-1)) + 1 clamped to [1, 10].
func InitDifficulty(g card.Grade, w Weights) float64 {
	return clampDifficulty(rawInitDifficulty(g, w))
}

func rawInitDifficulty(g card.Grade, w Weights) float64 {
	return w[4] - math.Exp(w[5]*float64(gradeIndex(g)-1)) + 1
}

// NextDifficulty applies a linearly damped grade delta followed by mean
// reversion toward D0(Easy). Again raises difficulty the most, Good is close
// to neutral and Easy lowers it.
func NextDifficulty(d float64, g card.Grade, w Weights) float64 {
	if math.IsNaN(d) {
		d = rawInitDifficulty(card.Good, w)
	}
	d = clampDifficulty(d)
	delta := -w[6] * float64(gradeIndex(g)-3)
	damped := d + delta*(10-d)/9
	reverted := w[7]*rawInitDifficulty(card.Easy, w) + (1-w[7])*damped
	return clampDifficulty(reverted)
}

// NextStability returns the stability after a cross-day review. Again uses
// the forget formula; the other grades grow stability from the Good
// baseline, scaled by w15 for Hard and w16 for Easy.
func NextStability(s, d, r float64, g card.Grade, w Weights) float64 {
	if !(s > 0) {
		return InitStability(g, w)
	}
	g = card.Grade(gradeIndex(g))
	d = clampDifficulty(d)
	r = clamp(r, 0, 1)
	if g == card.Again {
		return forgetStability(s, d, r, w)
	}
	return recallStability(s, d, r, g, w)
}

func recallStability(s, d, r float64, g card.Grade, w Weights) float64 {
	hardPenalty := 1.0
	if g == card.Hard {
		hardPenalty = w[15]
	}
	easyBonus := 1.0
	if g == card.Easy {
		easyBonus = w[16]
	}
	inc := math.Exp(w[8]) *
		(11 - d) *
		math.Pow(s, -w[9]) *
		(math.Exp((1-r)*w[10]) - 1) *
		hardPenalty * easyBonus
	return math.Max(s*(1+inc), minStability)
}

func forgetStability(s, d, r float64, w Weights) float64 {
	long := w[11] *
		math.Pow(d, -w[12]) *
		(math.Pow(s+1, w[13]) - 1) *
		math.Exp((1-r)*w[14])
	short := s / math.Exp(w[17]*w[18])
	return math.Max(math.Min(long, short), minStability)
}

// ShortTermStability updates stability for a review on the same day as the
// previous one: S * e^(w17*(G-3+w18)).
func ShortTermStability(s float64, g card.Grade, w Weights) float64 {
	if !(s > 0) {
		return InitStability(g, w)
	}
	g = card.Grade(gradeIndex(g))
	inc := math.Exp(w[17] * (float64(g) - 3 + w[18]))
	if g >= card.Good {
		inc = math.Max(inc, 1)
	}
	return math.Max(s*inc, minStability)
}

// NextInterval converts stability to the number of days until retrievability
// falls to the requested retention, rounded and clamped to [1, maxInterval].
func NextInterval(s, retention float64, maxInterval int) int {
	if maxInterval < 1 {
		maxInterval = 1
	}
	ivl := s / Factor * (math.Pow(retention, 1/Decay) - 1)
	if math.IsNaN(ivl) || ivl < 1 {
		return 1
	}
	if ivl > float64(maxInterval) {
		return maxInterval
	}
	return int(math.Round(ivl))
}

// gradeIndex clamps out-of-range grades into 1..4.
func gradeIndex(g card.Grade) int {
	switch {
	case g < card.Again:
		return int(card.Again)
	case g > card.Easy:
		return int(card.Easy)
	default:
		return int(g)
	}
}

func clampDifficulty(d float64) float64 {
	return clamp(d, 1, 10)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}
