// Package api is the persisted-state REST surface: finalize trigger, match
// history and leaderboards. Live play goes through the gateway instead.
package api

import (
	"time"

	"github.com/codebattle/arena/internal/leaderboard"
	"github.com/codebattle/arena/internal/scoring"
)

type CompleteMatchRequest struct {
	MatchID string `json:"matchId"`
}

// MatchOutcome is the terminal view of a match, served both from a live
// session and from the persisted record after the session is gone.
type MatchOutcome struct {
	MatchID    string                       `json:"matchId"`
	Status     string                       `json:"status"`
	WinnerID   string                       `json:"winnerId,omitempty"`
	Scores     map[string]scoring.Breakdown `json:"scores"`
	Deltas     map[string]int               `json:"deltas"`
	FinishedAt time.Time                    `json:"finishedAt"`
}

type CompleteMatchResponse struct {
	Outcome MatchOutcome `json:"outcome"`
}

type HistoryEntry struct {
	MatchID      string    `json:"matchId"`
	Kind         string    `json:"kind"`
	ProblemTitle string    `json:"problemTitle"`
	Status       string    `json:"status"`
	WinnerID     string    `json:"winnerId,omitempty"`
	Won          bool      `json:"won"`
	Score        int       `json:"score"`
	Delta        int       `json:"delta"`
	Opponents    []string  `json:"opponents"`
	FinishedAt   time.Time `json:"finishedAt"`
}

type HistoryResponse struct {
	Matches []HistoryEntry `json:"matches"`
}

type LeaderboardResponse struct {
	Players  []leaderboard.RankedPlayer  `json:"players,omitempty"`
	Colleges []leaderboard.RankedCollege `json:"colleges,omitempty"`
}

type CreateTokenRequest struct {
	PlayerID string `json:"playerId"`
	Username string `json:"username,omitempty"`
	College  string `json:"college,omitempty"`
	Label    string `json:"label,omitempty"`
}

type CreateTokenResponse struct {
	Token string `json:"token"`
}
