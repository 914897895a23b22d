package match

import (
	"errors"
	"time"

	"github.com/codebattle/arena/internal/judge"
	"github.com/codebattle/arena/internal/problem"
	"github.com/codebattle/arena/internal/rating"
	"github.com/codebattle/arena/internal/room"
	"github.com/codebattle/arena/internal/scoring"
)

var (
	// ErrMatchNotOngoing covers both unknown match IDs and matches that
	// already reached a terminal state.
	ErrMatchNotOngoing = errors.New("match is not ongoing")
	ErrUnknownPlayer   = errors.New("player is not in the match")
	// ErrPartialRatingApplied: the player's rating was updated but the
	// college aggregate was not. Reported by stores that cannot apply both
	// atomically; logged for reconciliation, never silently dropped.
	ErrPartialRatingApplied = errors.New("rating applied without college aggregate")
)

type Status string

const (
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
	StatusDraw      Status = "draw"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusDraw
}

// Submission is the latest judged attempt of one player. Re-submitting
// replaces the previous attempt: the last submission counts.
type Submission struct {
	PlayerID    string            `json:"player_id"`
	Code        string            `json:"-"`
	Language    string            `json:"language"`
	Verdict     judge.Verdict     `json:"verdict"`
	Score       scoring.Breakdown `json:"score"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

// Snapshot is what clients see when a match spawns: the problem without
// hidden test cases, the roster and the deadline.
type Snapshot struct {
	ID        string           `json:"id"`
	RoomID    string           `json:"room_id"`
	Kind      room.Kind        `json:"kind"`
	Problem   problem.Problem  `json:"problem"`
	Players   []room.PlayerRef `json:"players"`
	Status    Status           `json:"status"`
	StartedAt time.Time        `json:"started_at"`
	Deadline  time.Time        `json:"deadline"`
}

// Result is the authoritative outcome of a finalized match.
type Result struct {
	MatchID    string                       `json:"match_id"`
	RoomID     string                       `json:"room_id"`
	Status     Status                       `json:"status"`
	WinnerID   string                       `json:"winner_id,omitempty"`
	Scores     map[string]scoring.Breakdown `json:"scores"`
	Deltas     map[string]int               `json:"deltas"`
	NewRatings map[string]int               `json:"new_ratings"`
	FinishedAt time.Time                    `json:"finished_at"`
}

// Record is the persisted form of a completed match, written exactly once by
// the finalizing caller.
type Record struct {
	ID           string
	RoomID       string
	Kind         room.Kind
	ProblemID    string
	ProblemTitle string
	Status       Status
	WinnerID     string
	WinningCode  string
	PlayerIDs    []string
	Submissions  []Submission
	Scores       map[string]scoring.Breakdown
	Deltas       map[string]int
	StartedAt    time.Time
	FinishedAt   time.Time
}

// RatingApplication is one player's share of the rating write-through. The
// store must update the player's rating and counters together with the
// college aggregate atomically, or report ErrPartialRatingApplied.
type RatingApplication struct {
	PlayerID string
	Delta    int
	Outcome  rating.Outcome
}
