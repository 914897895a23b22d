// Package leaderboard is the read side of the rating system: paginated
// player and college rankings plus single-entity rank lookup.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNotRanked = errors.New("entity is not ranked")

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// PlayerRow is one leaderboard line. Ordering is rating descending, then
// fewer losses, then earlier registration.
type PlayerRow struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	College       string    `json:"college,omitempty"`
	Rating        int       `json:"rating"`
	Wins          int       `json:"wins"`
	Losses        int       `json:"losses"`
	Draws         int       `json:"draws"`
	MatchesPlayed int       `json:"matches_played"`
	CreatedAt     time.Time `json:"created_at"`
}

type CollegeRow struct {
	Name         string `json:"name"`
	TotalRating  int    `json:"total_rating"`
	StudentCount int    `json:"student_count"`
}

// RankedPlayer pairs a row with its 1-based global rank.
type RankedPlayer struct {
	Rank int `json:"rank"`
	PlayerRow
}

type RankedCollege struct {
	Rank int `json:"rank"`
	CollegeRow
}

// Store is the ranking query surface; rows come back already ordered.
type Store interface {
	PlayersByRank(ctx context.Context, limit, offset int) ([]PlayerRow, error)
	RankOfPlayer(ctx context.Context, playerID string) (int, PlayerRow, error)
	CollegesByRank(ctx context.Context, limit, offset int) ([]CollegeRow, error)
	RankOfCollege(ctx context.Context, name string) (int, CollegeRow, error)
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Players returns one page of the global player leaderboard with ranks
// filled in from the page offset.
func (s *Service) Players(ctx context.Context, limit, offset int) ([]RankedPlayer, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := s.store.PlayersByRank(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("player leaderboard: %w", err)
	}
	ranked := make([]RankedPlayer, len(rows))
	for i, row := range rows {
		ranked[i] = RankedPlayer{Rank: offset + i + 1, PlayerRow: row}
	}
	return ranked, nil
}

// Player returns a single player's row with its global rank.
func (s *Service) Player(ctx context.Context, playerID string) (RankedPlayer, error) {
	rank, row, err := s.store.RankOfPlayer(ctx, playerID)
	if err != nil {
		if errors.Is(err, ErrNotRanked) {
			return RankedPlayer{}, err
		}
		return RankedPlayer{}, fmt.Errorf("player rank: %w", err)
	}
	return RankedPlayer{Rank: rank, PlayerRow: row}, nil
}

func (s *Service) Colleges(ctx context.Context, limit, offset int) ([]RankedCollege, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := s.store.CollegesByRank(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("college leaderboard: %w", err)
	}
	ranked := make([]RankedCollege, len(rows))
	for i, row := range rows {
		ranked[i] = RankedCollege{Rank: offset + i + 1, CollegeRow: row}
	}
	return ranked, nil
}

func (s *Service) College(ctx context.Context, name string) (RankedCollege, error) {
	rank, row, err := s.store.RankOfCollege(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotRanked) {
			return RankedCollege{}, err
		}
		return RankedCollege{}, fmt.Errorf("college rank: %w", err)
	}
	return RankedCollege{Rank: rank, CollegeRow: row}, nil
}
