// Package rating implements Elo-style rating transfer for finished matches.
// All functions are pure; persistence is the caller's concern.
package rating

import "math"

// InitialRating is assigned to every freshly registered player.
const InitialRating = 1200

// DefaultKFactor controls the magnitude of a single rating change.
const DefaultKFactor = 32

type Outcome int

const (
	Loss Outcome = iota
	Draw
	Win
)

func (o Outcome) String() string {
	switch o {
	case Win:
		return "win"
	case Draw:
		return "draw"
	case Loss:
		return "loss"
	default:
		return "?"
	}
}

// Score is the actual score of the outcome: 1 for a win, 0.5 for a draw,
// 0 for a loss.
func (o Outcome) Score() float64 {
	switch o {
	case Win:
		return 1.0
	case Draw:
		return 0.5
	case Loss:
		return 0.0
	default:
		panic("must not happen")
	}
}

// Expected returns the expected score of a player against an opponent.
func Expected(player, opponent int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(opponent-player)/400.0))
}

// Delta computes the rating change of a player after a duel.
// Delta(1200, 1200, Win, 32) == 16.
func Delta(player, opponent int, outcome Outcome, kFactor int) int {
	return int(math.Round(float64(kFactor) * (outcome.Score() - Expected(player, opponent))))
}

// SquadDelta computes the rating change of a player in a multi-player match:
// the raw deltas against each opponent are averaged and rounded once, keeping
// the magnitude comparable to the duel case.
func SquadDelta(player int, opponents []int, outcome Outcome, kFactor int) int {
	if len(opponents) == 0 {
		return 0
	}
	var sum float64
	for _, opp := range opponents {
		sum += float64(kFactor) * (outcome.Score() - Expected(player, opp))
	}
	return int(math.Round(sum / float64(len(opponents))))
}
