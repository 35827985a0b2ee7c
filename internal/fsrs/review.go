package fsrs

import (
	"time"

	"github.com/danieldreier/flashcard-scheduler/internal/card"
)

const day = 24 * time.Hour

// NextReview returns the item as it stands after being graded g at now.
// The input item is not modified.
//
// New items are seeded from the weights and enter the learning steps.
// Learning and relearning items walk their step sequence and graduate to
// review once it is exhausted. Review items update stability from their
// current retrievability; a lapse sends them to relearning and may mark
// them as leeches.
func NextReview(it card.Item, g card.Grade, now time.Time, p Params) card.Item {
	p = p.normalized()
	g = card.Grade(gradeIndex(g))
	out := it.Clone()
	out.Reps++

	if out.Phase == card.PhaseSuspended {
		out.LastReview = now
		return out
	}

	elapsed := ElapsedDays(it, now)
	w := p.Weights

	switch {
	case out.Phase == card.PhaseNew || !(out.Stability > 0):
		out.Stability = InitStability(g, w)
		out.Difficulty = InitDifficulty(g, w)
		if out.Phase != card.PhaseRelearning {
			out.Phase = card.PhaseLearning
			out.LearningStep = 0
		}
		transitionLearning(&out, g, now, stepsFor(out.Phase, p), p)

	case out.Phase.IsLearning():
		updateMemory(&out, g, elapsed, w)
		transitionLearning(&out, g, now, stepsFor(out.Phase, p), p)

	default:
		updateMemory(&out, g, elapsed, w)
		transitionReview(&out, g, now, p)
	}

	out.LastReview = now
	return out
}

// ElapsedDays returns the days since the item's last review. Items with no
// recorded review fall back to their interval, defaulting to one day.
func ElapsedDays(it card.Item, now time.Time) float64 {
	if it.LastReview.IsZero() {
		if it.Phase == card.PhaseNew {
			return 0
		}
		return it.EffectiveInterval()
	}
	elapsed := now.Sub(it.LastReview).Hours() / 24
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

func updateMemory(it *card.Item, g card.Grade, elapsed float64, w Weights) {
	if elapsed < 1 {
		it.Stability = ShortTermStability(it.Stability, g, w)
	} else {
		r := Retrievability(elapsed, it.Stability)
		it.Stability = NextStability(it.Stability, it.Difficulty, r, g, w)
	}
	it.Difficulty = NextDifficulty(it.Difficulty, g, w)
}

func stepsFor(phase card.Phase, p Params) []time.Duration {
	if phase == card.PhaseRelearning {
		return p.RelearningSteps
	}
	return p.LearningSteps
}

func transitionLearning(it *card.Item, g card.Grade, now time.Time, steps []time.Duration, p Params) {
	step := it.LearningStep
	if step < 0 {
		step = 0
	}
	if len(steps) == 0 || (step >= len(steps) && g != card.Again) {
		graduate(it, now, p)
		return
	}

	switch g {
	case card.Again:
		it.LearningStep = 0
		schedule(it, now, steps[0])
	case card.Hard:
		it.LearningStep = step
		switch {
		case step == 0 && len(steps) == 1:
			schedule(it, now, steps[0]*3/2)
		case step == 0:
			schedule(it, now, (steps[0]+steps[1])/2)
		default:
			schedule(it, now, steps[step])
		}
	case card.Good:
		next := step + 1
		if next >= len(steps) {
			graduate(it, now, p)
			return
		}
		it.LearningStep = next
		schedule(it, now, steps[next])
	default:
		graduate(it, now, p)
	}
}

func transitionReview(it *card.Item, g card.Grade, now time.Time, p Params) {
	if it.Phase != card.PhaseKnown {
		it.Phase = card.PhaseReview
	}
	if g == card.Again {
		it.Lapses++
		if handleLeech(it, p.Leech) {
			schedule(it, now, time.Duration(NextInterval(it.Stability, p.RequestRetention, p.MaximumInterval))*day)
			return
		}
		if len(p.RelearningSteps) > 0 {
			it.Phase = card.PhaseRelearning
			it.LearningStep = 0
			schedule(it, now, p.RelearningSteps[0])
			return
		}
	}
	it.LearningStep = 0
	days := NextInterval(it.Stability, p.RequestRetention, p.MaximumInterval)
	schedule(it, now, time.Duration(days)*day)
}

// handleLeech applies the leech action once the lapse count reaches the
// threshold. It reports whether the item was suspended.
func handleLeech(it *card.Item, cfg LeechConfig) bool {
	if cfg.Threshold <= 0 || it.Lapses < cfg.Threshold {
		return false
	}
	if cfg.Action == LeechSuspend {
		it.Phase = card.PhaseSuspended
		it.LearningStep = 0
		return true
	}
	if !it.HasTag(LeechTagName) {
		it.Tags = append(it.Tags, LeechTagName)
	}
	return false
}

func graduate(it *card.Item, now time.Time, p Params) {
	it.Phase = card.PhaseReview
	it.LearningStep = 0
	days := NextInterval(it.Stability, p.RequestRetention, p.MaximumInterval)
	schedule(it, now, time.Duration(days)*day)
}

func schedule(it *card.Item, now time.Time, d time.Duration) {
	it.Due = now.Add(d)
	it.Interval = d.Hours() / 24
}
