// Package scoring turns a judged submission into a weighted match score.
// The weights are fixed at 60/20/20 of a maximum of 100 points.
package scoring

import (
	"math"
	"time"
)

const (
	MaxCorrectness    = 60
	MaxTimeEfficiency = 20
	MaxOptimization   = 20
	MaxTotal          = MaxCorrectness + MaxTimeEfficiency + MaxOptimization
)

// Input describes one judged submission. ExecTime and RefTime are optional
// telemetry; zero means unknown.
type Input struct {
	Compiled    bool
	TestsPassed int
	TotalTests  int
	// Elapsed is the time from match start to the submission.
	Elapsed time.Duration
	// ExecTime is the measured run time of the submission.
	ExecTime time.Duration
	// RefTime is the run time of the reference solution on the same tests.
	RefTime time.Duration
}

// Limits are the timing parameters of the problem being solved.
type Limits struct {
	IdealTime time.Duration
	TimeLimit time.Duration
}

type Breakdown struct {
	Correctness    int `json:"correctness"`
	TimeEfficiency int `json:"time_efficiency"`
	Optimization   int `json:"optimization"`
	Total          int `json:"total"`
}

func clamp01(x float64) float64 {
	return math.Min(1, math.Max(0, x))
}

// Score computes the weighted breakdown for one submission. It is total and
// deterministic: any input yields a breakdown, never an error, and identical
// inputs yield identical outputs.
//
// A submission that fails to compile, or passes no tests at all, scores zero
// in every component.
func Score(in Input, lim Limits) Breakdown {
	if !in.Compiled || in.TestsPassed <= 0 || in.TotalTests <= 0 {
		return Breakdown{}
	}

	passed := min(in.TestsPassed, in.TotalTests)
	frac := float64(passed) / float64(in.TotalTests)
	correctness := int(math.Round(MaxCorrectness * frac))

	timeEff := 0
	if in.Elapsed <= lim.TimeLimit {
		switch {
		case lim.TimeLimit <= lim.IdealTime:
			// Degenerate limits: anything inside the window is ideal.
			timeEff = MaxTimeEfficiency
		default:
			ratio := 1 - float64(in.Elapsed-lim.IdealTime)/float64(lim.TimeLimit-lim.IdealTime)
			timeEff = int(math.Round(MaxTimeEfficiency * clamp01(ratio)))
		}
	}

	var optimization int
	if in.RefTime > 0 && in.ExecTime > 0 {
		optimization = int(math.Round(MaxOptimization * clamp01(float64(in.RefTime)/float64(in.ExecTime))))
	} else {
		// No complexity telemetry: fall back to a value proportional to
		// correctness.
		optimization = int(math.Round(MaxOptimization * frac))
	}

	total := correctness + timeEff + optimization
	if total > MaxTotal {
		total = MaxTotal
	}
	return Breakdown{
		Correctness:    correctness,
		TimeEfficiency: timeEff,
		Optimization:   optimization,
		Total:          total,
	}
}
