package database

import (
	"github.com/codebattle/arena/internal/problem"
	"github.com/codebattle/arena/internal/util/timeutil"
)

// Player is the persistent competitor row. Rating starts at the initial
// value and moves only through ApplyRating.
type Player struct {
	ID            string `gorm:"primaryKey"`
	Username      string `gorm:"uniqueIndex"`
	Rating        int    `gorm:"index"`
	Wins          int
	Losses        int
	Draws         int
	MatchesPlayed int
	College       string `gorm:"index"`
	CreatedAt     timeutil.UTCTime
}

// College aggregates the ratings of its members. Rows are created lazily on
// the first rating write-through of a member.
type College struct {
	Name         string `gorm:"primaryKey"`
	TotalRating  int
	StudentCount int
	CreatedAt    timeutil.UTCTime
}

type MatchRecord struct {
	ID           string `gorm:"primaryKey"`
	RoomID       string
	Kind         string
	ProblemID    string
	ProblemTitle string
	Status       string
	WinnerID     string `gorm:"index"`
	WinningCode  string
	StartedAt    timeutil.UTCTime
	FinishedAt   timeutil.UTCTime   `gorm:"index"`
	Participants []MatchParticipant `gorm:"foreignKey:MatchID"`
	Submissions  []SubmissionRecord `gorm:"foreignKey:MatchID"`
}

// MatchParticipant stores one player's final score breakdown and rating
// delta for a finished match.
type MatchParticipant struct {
	MatchID        string `gorm:"primaryKey"`
	PlayerID       string `gorm:"primaryKey;index"`
	Correctness    int
	TimeEfficiency int
	Optimization   int
	Total          int
	Delta          int
}

// SubmissionRecord is the last judged attempt of one player, kept for replay
// and audit. Only the winner's code is exposed through MatchRecord.
type SubmissionRecord struct {
	MatchID     string `gorm:"primaryKey"`
	PlayerID    string `gorm:"primaryKey"`
	Code        string
	Language    string
	TestsPassed int
	TotalTests  int
	ExecTimeMs  int64
	Total       int
	SubmittedAt timeutil.UTCTime
}

// AuthToken maps a sha256 token hash to a player. Raw tokens are never
// stored.
type AuthToken struct {
	Hash      string `gorm:"primaryKey"`
	PlayerID  string `gorm:"index"`
	Label     string
	CreatedAt timeutil.UTCTime
}

var models = []any{
	&Player{},
	&College{},
	&MatchRecord{},
	&MatchParticipant{},
	&SubmissionRecord{},
	&problem.Problem{},
	&AuthToken{},
}
