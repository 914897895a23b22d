package leaderboard

import (
	"context"
	"errors"
	"testing"
)

type fakeStore struct {
	players   []PlayerRow
	colleges  []CollegeRow
	lastLimit int
}

func (s *fakeStore) PlayersByRank(ctx context.Context, limit, offset int) ([]PlayerRow, error) {
	s.lastLimit = limit
	if offset >= len(s.players) {
		return nil, nil
	}
	end := min(offset+limit, len(s.players))
	return s.players[offset:end], nil
}

func (s *fakeStore) RankOfPlayer(ctx context.Context, playerID string) (int, PlayerRow, error) {
	for i, p := range s.players {
		if p.ID == playerID {
			return i + 1, p, nil
		}
	}
	return 0, PlayerRow{}, ErrNotRanked
}

func (s *fakeStore) CollegesByRank(ctx context.Context, limit, offset int) ([]CollegeRow, error) {
	if offset >= len(s.colleges) {
		return nil, nil
	}
	end := min(offset+limit, len(s.colleges))
	return s.colleges[offset:end], nil
}

func (s *fakeStore) RankOfCollege(ctx context.Context, name string) (int, CollegeRow, error) {
	for i, c := range s.colleges {
		if c.Name == name {
			return i + 1, c, nil
		}
	}
	return 0, CollegeRow{}, ErrNotRanked
}

func TestPlayersRanksFollowOffset(t *testing.T) {
	store := &fakeStore{players: []PlayerRow{
		{ID: "a", Rating: 1300},
		{ID: "b", Rating: 1250},
		{ID: "c", Rating: 1200},
		{ID: "d", Rating: 1150},
	}}
	s := NewService(store)

	page, err := s.Players(context.Background(), 2, 2)
	if err != nil {
		t.Fatalf("players: %v", err)
	}
	if len(page) != 2 || page[0].Rank != 3 || page[0].ID != "c" || page[1].Rank != 4 {
		t.Fatalf("page = %+v", page)
	}
}

func TestPageClamping(t *testing.T) {
	store := &fakeStore{}
	s := NewService(store)

	if _, err := s.Players(context.Background(), 0, -5); err != nil {
		t.Fatalf("players: %v", err)
	}
	if store.lastLimit != DefaultPageSize {
		t.Fatalf("limit 0 must fall back to %v, got %v", DefaultPageSize, store.lastLimit)
	}
	if _, err := s.Players(context.Background(), 100000, 0); err != nil {
		t.Fatalf("players: %v", err)
	}
	if store.lastLimit != MaxPageSize {
		t.Fatalf("oversized limit must clamp to %v, got %v", MaxPageSize, store.lastLimit)
	}
}

func TestPlayerRank(t *testing.T) {
	store := &fakeStore{players: []PlayerRow{
		{ID: "a", Rating: 1300},
		{ID: "b", Rating: 1250},
	}}
	s := NewService(store)

	rp, err := s.Player(context.Background(), "b")
	if err != nil {
		t.Fatalf("player: %v", err)
	}
	if rp.Rank != 2 || rp.ID != "b" {
		t.Fatalf("ranked player = %+v", rp)
	}
	if _, err := s.Player(context.Background(), "nobody"); !errors.Is(err, ErrNotRanked) {
		t.Fatalf("want ErrNotRanked, got %v", err)
	}
}

func TestColleges(t *testing.T) {
	store := &fakeStore{colleges: []CollegeRow{
		{Name: "alpha", TotalRating: 5000},
		{Name: "beta", TotalRating: 4000},
	}}
	s := NewService(store)

	page, err := s.Colleges(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("colleges: %v", err)
	}
	if len(page) != 2 || page[0].Rank != 1 || page[1].Name != "beta" {
		t.Fatalf("page = %+v", page)
	}
	rc, err := s.College(context.Background(), "beta")
	if err != nil || rc.Rank != 2 {
		t.Fatalf("college = %+v, err %v", rc, err)
	}
}
