package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/codebattle/arena/internal/leaderboard"
	"github.com/codebattle/arena/internal/match"
	"github.com/codebattle/arena/internal/problem"
	"github.com/codebattle/arena/internal/rating"
	"github.com/codebattle/arena/internal/room"
	"github.com/codebattle/arena/internal/scoring"
	"github.com/codebattle/arena/internal/util/slogx"
	"github.com/codebattle/arena/internal/util/timeutil"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := New(slogx.DiscardLogger(), Options{
		Path: filepath.Join(t.TempDir(), "arena.db"),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func TestApplyRatingCreatesPlayerAndCollege(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	if err := d.CreatePlayer(ctx, Player{ID: "alice", Username: "alice", College: "alpha"}); err != nil {
		t.Fatalf("create player: %v", err)
	}
	err := d.ApplyRating(ctx, match.RatingApplication{PlayerID: "alice", Delta: 16, Outcome: rating.Win})
	if err != nil {
		t.Fatalf("apply rating: %v", err)
	}

	p, err := d.GetPlayer(ctx, "alice")
	if err != nil {
		t.Fatalf("get player: %v", err)
	}
	if p.Rating != rating.InitialRating+16 || p.Wins != 1 || p.MatchesPlayed != 1 {
		t.Fatalf("player after win = %+v", p)
	}

	rank, college, err := d.RankOfCollege(ctx, "alpha")
	if err != nil {
		t.Fatalf("rank of college: %v", err)
	}
	if rank != 1 || college.TotalRating != rating.InitialRating+16 || college.StudentCount != 1 {
		t.Fatalf("college = %+v rank %v", college, rank)
	}

	// A later loss moves both player and aggregate down.
	err = d.ApplyRating(ctx, match.RatingApplication{PlayerID: "alice", Delta: -16, Outcome: rating.Loss})
	if err != nil {
		t.Fatalf("apply rating: %v", err)
	}
	p, _ = d.GetPlayer(ctx, "alice")
	if p.Rating != rating.InitialRating || p.Losses != 1 || p.MatchesPlayed != 2 {
		t.Fatalf("player after loss = %+v", p)
	}
	_, college, _ = d.RankOfCollege(ctx, "alpha")
	if college.TotalRating != rating.InitialRating {
		t.Fatalf("college after loss = %+v", college)
	}
}

func TestCollegeAggregateCountsRegistrations(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	if err := d.CreatePlayer(ctx, Player{ID: "a", Username: "a", College: "alpha"}); err != nil {
		t.Fatalf("create player: %v", err)
	}
	err := d.ApplyRating(ctx, match.RatingApplication{PlayerID: "a", Delta: 16, Outcome: rating.Win})
	if err != nil {
		t.Fatalf("apply rating: %v", err)
	}

	// A student registering after the aggregate exists still joins it.
	if err := d.CreatePlayer(ctx, Player{ID: "b", Username: "b", College: "alpha"}); err != nil {
		t.Fatalf("create player: %v", err)
	}
	err = d.ApplyRating(ctx, match.RatingApplication{PlayerID: "b", Delta: -16, Outcome: rating.Loss})
	if err != nil {
		t.Fatalf("apply rating: %v", err)
	}

	_, college, err := d.RankOfCollege(ctx, "alpha")
	if err != nil {
		t.Fatalf("rank of college: %v", err)
	}
	if college.TotalRating != 2*rating.InitialRating || college.StudentCount != 2 {
		t.Fatalf("college = %+v, want total %v count 2", college, 2*rating.InitialRating)
	}
}

func TestApplyRatingPartialCollegeFailure(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	if err := d.CreatePlayer(ctx, Player{ID: "a", Username: "a", College: "alpha"}); err != nil {
		t.Fatalf("create player: %v", err)
	}
	if err := d.db.Exec("ALTER TABLE colleges RENAME TO colleges_gone").Error; err != nil {
		t.Fatalf("drop colleges: %v", err)
	}

	err := d.ApplyRating(ctx, match.RatingApplication{PlayerID: "a", Delta: 16, Outcome: rating.Win})
	if !errors.Is(err, match.ErrPartialRatingApplied) {
		t.Fatalf("want ErrPartialRatingApplied, got %v", err)
	}

	p, err := d.GetPlayer(ctx, "a")
	if err != nil {
		t.Fatalf("get player: %v", err)
	}
	if p.Rating != rating.InitialRating+16 || p.Wins != 1 || p.MatchesPlayed != 1 {
		t.Fatalf("player half must commit exactly once, got %+v", p)
	}
}

func TestApplyRatingUnknownPlayer(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	err := d.ApplyRating(ctx, match.RatingApplication{PlayerID: "ghost", Delta: -16, Outcome: rating.Loss})
	if err != nil {
		t.Fatalf("apply rating: %v", err)
	}
	p, err := d.GetPlayer(ctx, "ghost")
	if err != nil {
		t.Fatalf("get player: %v", err)
	}
	if p.Rating != rating.InitialRating-16 || p.Losses != 1 {
		t.Fatalf("lazily created player = %+v", p)
	}
}

func TestPlayerRatingsDefaultsMissing(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	if err := d.CreatePlayer(ctx, Player{ID: "alice", Username: "alice"}); err != nil {
		t.Fatalf("create player: %v", err)
	}
	ratings, err := d.PlayerRatings(ctx, []string{"alice", "newcomer"})
	if err != nil {
		t.Fatalf("player ratings: %v", err)
	}
	if ratings["alice"] != rating.InitialRating || ratings["newcomer"] != rating.InitialRating {
		t.Fatalf("ratings = %v", ratings)
	}
}

func TestLeaderboardOrdering(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	base := timeutil.NowUTC()
	players := []Player{
		{ID: "low", Username: "low", Rating: 1100, CreatedAt: base},
		{ID: "lossy", Username: "lossy", Rating: 1200, Losses: 5, CreatedAt: base},
		{ID: "clean", Username: "clean", Rating: 1200, Losses: 1, CreatedAt: base.Add(time.Hour)},
		{ID: "elder", Username: "elder", Rating: 1200, Losses: 1, CreatedAt: base},
		{ID: "top", Username: "top", Rating: 1300, CreatedAt: base},
	}
	for _, p := range players {
		if err := d.CreatePlayer(ctx, p); err != nil {
			t.Fatalf("create player: %v", err)
		}
	}

	rows, err := d.PlayersByRank(ctx, 10, 0)
	if err != nil {
		t.Fatalf("players by rank: %v", err)
	}
	var got []string
	for _, r := range rows {
		got = append(got, r.ID)
	}
	want := []string{"top", "elder", "clean", "lossy", "low"}
	if len(got) != len(want) {
		t.Fatalf("rows = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}

	rank, row, err := d.RankOfPlayer(ctx, "clean")
	if err != nil {
		t.Fatalf("rank of player: %v", err)
	}
	if rank != 3 || row.ID != "clean" {
		t.Fatalf("rank = %v row = %+v", rank, row)
	}
	if _, _, err := d.RankOfPlayer(ctx, "nobody"); !errors.Is(err, leaderboard.ErrNotRanked) {
		t.Fatalf("want ErrNotRanked, got %v", err)
	}
}

func testRecord(id string, finishedAt time.Time) *match.Record {
	return &match.Record{
		ID:           id,
		RoomID:       "room-1",
		Kind:         room.KindDuel,
		ProblemID:    "two-sum",
		ProblemTitle: "Two Sum",
		Status:       match.StatusCompleted,
		WinnerID:     "alice",
		WinningCode:  "code",
		PlayerIDs:    []string{"alice", "bob"},
		Submissions: []match.Submission{
			{PlayerID: "alice", Code: "code", Language: "go", SubmittedAt: finishedAt},
		},
		Scores: map[string]scoring.Breakdown{
			"alice": {Correctness: 60, TimeEfficiency: 20, Optimization: 20, Total: 100},
			"bob":   {},
		},
		Deltas:     map[string]int{"alice": 16, "bob": -16},
		StartedAt:  finishedAt.Add(-10 * time.Minute),
		FinishedAt: finishedAt,
	}
}

func TestCompleteMatchIdempotent(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	rec := testRecord("m1", time.Now().UTC())
	for range 3 {
		if err := d.CompleteMatch(ctx, rec); err != nil {
			t.Fatalf("complete match: %v", err)
		}
	}
	row, err := d.MatchByID(ctx, "m1")
	if err != nil {
		t.Fatalf("match by id: %v", err)
	}
	if row.WinnerID != "alice" || len(row.Participants) != 2 {
		t.Fatalf("record = %+v", row)
	}
	for _, part := range row.Participants {
		if part.PlayerID == "alice" && (part.Total != 100 || part.Delta != 16) {
			t.Fatalf("participant = %+v", part)
		}
	}
	if _, err := d.MatchByID(ctx, "m2"); !errors.Is(err, ErrMatchNotFound) {
		t.Fatalf("want ErrMatchNotFound, got %v", err)
	}
}

func TestMatchHistoryLatestFirst(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	base := time.Now().UTC().Truncate(time.Second)
	for i, id := range []string{"m1", "m2", "m3"} {
		rec := testRecord(id, base.Add(time.Duration(i)*time.Hour))
		if err := d.CompleteMatch(ctx, rec); err != nil {
			t.Fatalf("complete match: %v", err)
		}
	}

	recs, err := d.MatchHistory(ctx, "alice", 2, 0)
	if err != nil {
		t.Fatalf("match history: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != "m3" || recs[1].ID != "m2" {
		t.Fatalf("history = %+v", recs)
	}

	recs, err = d.MatchHistory(ctx, "stranger", 10, 0)
	if err != nil {
		t.Fatalf("match history: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("stranger history = %+v", recs)
	}
}

func TestSeedAndPickProblem(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	if _, err := d.PickProblem(ctx); !errors.Is(err, ErrNoProblems) {
		t.Fatalf("want ErrNoProblems, got %v", err)
	}
	probs := problem.Seed()
	for range 2 {
		if err := d.SeedProblems(ctx, probs); err != nil {
			t.Fatalf("seed problems: %v", err)
		}
	}
	p, err := d.PickProblem(ctx)
	if err != nil {
		t.Fatalf("pick problem: %v", err)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("picked problem invalid: %v", err)
	}
	if len(p.TestCases) == 0 {
		t.Fatalf("picked problem has no test cases: %+v", p)
	}
}

func TestAuthTokens(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	if err := d.CreateAuthToken(ctx, AuthToken{Hash: "h1", PlayerID: "alice"}); err != nil {
		t.Fatalf("create token: %v", err)
	}
	id, err := d.PlayerIDByTokenHash(ctx, "h1")
	if err != nil || id != "alice" {
		t.Fatalf("lookup = %q, %v", id, err)
	}
	if _, err := d.PlayerIDByTokenHash(ctx, "h2"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("want ErrTokenNotFound, got %v", err)
	}
	if err := d.DeleteAuthToken(ctx, "h1"); err != nil {
		t.Fatalf("delete token: %v", err)
	}
	if _, err := d.PlayerIDByTokenHash(ctx, "h1"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("deleted token still resolves, err %v", err)
	}
}
