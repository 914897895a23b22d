package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/codebattle/arena/internal/database"
	"github.com/codebattle/arena/internal/leaderboard"
	"github.com/codebattle/arena/internal/match"
	"github.com/codebattle/arena/internal/scoring"
	"github.com/codebattle/arena/internal/util/slogx"
	"github.com/codebattle/arena/internal/util/timeutil"
)

type fakeFinalizer struct {
	results map[string]match.Result
}

func (f *fakeFinalizer) Finalize(ctx context.Context, matchID string) (match.Result, error) {
	res, ok := f.results[matchID]
	if !ok {
		return match.Result{}, match.ErrMatchNotOngoing
	}
	return res, nil
}

type fakeDB struct {
	records map[string]database.MatchRecord
	players map[string]database.Player
	tokens  []database.AuthToken
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		records: map[string]database.MatchRecord{},
		players: map[string]database.Player{},
	}
}

func (d *fakeDB) MatchByID(ctx context.Context, matchID string) (database.MatchRecord, error) {
	rec, ok := d.records[matchID]
	if !ok {
		return database.MatchRecord{}, database.ErrMatchNotFound
	}
	return rec, nil
}

func (d *fakeDB) MatchHistory(ctx context.Context, playerID string, limit, offset int) ([]database.MatchRecord, error) {
	var res []database.MatchRecord
	for _, rec := range d.records {
		for _, p := range rec.Participants {
			if p.PlayerID == playerID {
				res = append(res, rec)
				break
			}
		}
	}
	return res, nil
}

func (d *fakeDB) GetPlayer(ctx context.Context, playerID string) (database.Player, error) {
	p, ok := d.players[playerID]
	if !ok {
		return database.Player{}, database.ErrPlayerNotFound
	}
	return p, nil
}

func (d *fakeDB) CreatePlayer(ctx context.Context, p database.Player) error {
	d.players[p.ID] = p
	return nil
}

func (d *fakeDB) CreateAuthToken(ctx context.Context, token database.AuthToken) error {
	d.tokens = append(d.tokens, token)
	return nil
}

type fakeLBStore struct{}

func (fakeLBStore) PlayersByRank(ctx context.Context, limit, offset int) ([]leaderboard.PlayerRow, error) {
	return []leaderboard.PlayerRow{{ID: "alice", Rating: 1216}}, nil
}

func (fakeLBStore) RankOfPlayer(ctx context.Context, playerID string) (int, leaderboard.PlayerRow, error) {
	return 0, leaderboard.PlayerRow{}, leaderboard.ErrNotRanked
}

func (fakeLBStore) CollegesByRank(ctx context.Context, limit, offset int) ([]leaderboard.CollegeRow, error) {
	return []leaderboard.CollegeRow{{Name: "alpha", TotalRating: 2400}}, nil
}

func (fakeLBStore) RankOfCollege(ctx context.Context, name string) (int, leaderboard.CollegeRow, error) {
	return 0, leaderboard.CollegeRow{}, leaderboard.ErrNotRanked
}

type fakeTokens map[string]string

func (t fakeTokens) Check(token string) (string, error) {
	id, ok := t[token]
	if !ok {
		return "", errors.New("bad token")
	}
	return id, nil
}

func newTestServer(t *testing.T, fin *fakeFinalizer, db *fakeDB) *httptest.Server {
	t.Helper()
	s := NewServer(
		slogx.DiscardLogger(),
		fin,
		db,
		leaderboard.NewService(fakeLBStore{}),
		fakeTokens{"tok-alice": "alice"},
		ServerOptions{AdminSecret: "hunter2"},
	)
	mux := http.NewServeMux()
	s.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, token string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rsp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { rsp.Body.Close() })
	return rsp
}

func decode[T any](t *testing.T, rsp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rsp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestCompleteMatchLive(t *testing.T) {
	fin := &fakeFinalizer{results: map[string]match.Result{
		"m1": {
			MatchID:  "m1",
			Status:   match.StatusCompleted,
			WinnerID: "alice",
			Scores:   map[string]scoring.Breakdown{"alice": {Total: 100}},
			Deltas:   map[string]int{"alice": 16, "bob": -16},
		},
	}}
	srv := newTestServer(t, fin, newFakeDB())

	rsp := doJSON(t, http.MethodPost, srv.URL+"/api/matches/complete", "tok-alice",
		CompleteMatchRequest{MatchID: "m1"}, nil)
	if rsp.StatusCode != http.StatusOK {
		t.Fatalf("status = %v", rsp.StatusCode)
	}
	out := decode[CompleteMatchResponse](t, rsp)
	if out.Outcome.WinnerID != "alice" || out.Outcome.Deltas["bob"] != -16 {
		t.Fatalf("outcome = %+v", out.Outcome)
	}
}

func TestCompleteMatchFallsBackToRecord(t *testing.T) {
	db := newFakeDB()
	db.records["m1"] = database.MatchRecord{
		ID:       "m1",
		Status:   string(match.StatusCompleted),
		WinnerID: "alice",
		Participants: []database.MatchParticipant{
			{MatchID: "m1", PlayerID: "alice", Total: 100, Delta: 16},
			{MatchID: "m1", PlayerID: "bob", Delta: -16},
		},
		FinishedAt: timeutil.NowUTC(),
	}
	srv := newTestServer(t, &fakeFinalizer{}, db)

	rsp := doJSON(t, http.MethodPost, srv.URL+"/api/matches/complete", "tok-alice",
		CompleteMatchRequest{MatchID: "m1"}, nil)
	if rsp.StatusCode != http.StatusOK {
		t.Fatalf("status = %v", rsp.StatusCode)
	}
	out := decode[CompleteMatchResponse](t, rsp)
	if out.Outcome.Scores["alice"].Total != 100 {
		t.Fatalf("outcome = %+v", out.Outcome)
	}

	rsp = doJSON(t, http.MethodPost, srv.URL+"/api/matches/complete", "tok-alice",
		CompleteMatchRequest{MatchID: "missing"}, nil)
	if rsp.StatusCode != http.StatusNotFound {
		t.Fatalf("status for unknown match = %v", rsp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, &fakeFinalizer{}, newFakeDB())

	rsp := doJSON(t, http.MethodPost, srv.URL+"/api/matches/complete", "",
		CompleteMatchRequest{MatchID: "m1"}, nil)
	if rsp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %v", rsp.StatusCode)
	}
	rsp = doJSON(t, http.MethodGet, srv.URL+"/api/matches/history", "wrong", nil, nil)
	if rsp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %v", rsp.StatusCode)
	}
}

func TestHistory(t *testing.T) {
	db := newFakeDB()
	db.records["m1"] = database.MatchRecord{
		ID:           "m1",
		Kind:         "duel",
		ProblemTitle: "Two Sum",
		Status:       string(match.StatusCompleted),
		WinnerID:     "alice",
		Participants: []database.MatchParticipant{
			{MatchID: "m1", PlayerID: "alice", Total: 100, Delta: 16},
			{MatchID: "m1", PlayerID: "bob", Delta: -16},
		},
	}
	srv := newTestServer(t, &fakeFinalizer{}, db)

	rsp := doJSON(t, http.MethodGet, srv.URL+"/api/matches/history", "tok-alice", nil, nil)
	if rsp.StatusCode != http.StatusOK {
		t.Fatalf("status = %v", rsp.StatusCode)
	}
	out := decode[HistoryResponse](t, rsp)
	if len(out.Matches) != 1 {
		t.Fatalf("history = %+v", out)
	}
	entry := out.Matches[0]
	if !entry.Won || entry.Score != 100 || entry.Delta != 16 {
		t.Fatalf("entry = %+v", entry)
	}
	if len(entry.Opponents) != 1 || entry.Opponents[0] != "bob" {
		t.Fatalf("opponents = %v", entry.Opponents)
	}
}

func TestLeaderboardKinds(t *testing.T) {
	srv := newTestServer(t, &fakeFinalizer{}, newFakeDB())

	rsp := doJSON(t, http.MethodGet, srv.URL+"/api/leaderboard", "", nil, nil)
	if rsp.StatusCode != http.StatusOK {
		t.Fatalf("status = %v", rsp.StatusCode)
	}
	out := decode[LeaderboardResponse](t, rsp)
	if len(out.Players) != 1 || out.Players[0].Rank != 1 {
		t.Fatalf("players = %+v", out.Players)
	}

	rsp = doJSON(t, http.MethodGet, srv.URL+"/api/leaderboard?kind=colleges", "", nil, nil)
	out = decode[LeaderboardResponse](t, rsp)
	if len(out.Colleges) != 1 || out.Colleges[0].Name != "alpha" {
		t.Fatalf("colleges = %+v", out.Colleges)
	}

	rsp = doJSON(t, http.MethodGet, srv.URL+"/api/leaderboard?kind=teams", "", nil, nil)
	if rsp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status for bad kind = %v", rsp.StatusCode)
	}
}

func TestAdminCreateToken(t *testing.T) {
	db := newFakeDB()
	srv := newTestServer(t, &fakeFinalizer{}, db)

	rsp := doJSON(t, http.MethodPost, srv.URL+"/api/admin/tokens", "",
		CreateTokenRequest{PlayerID: "alice"}, map[string]string{"X-Admin-Secret": "wrong"})
	if rsp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %v", rsp.StatusCode)
	}

	rsp = doJSON(t, http.MethodPost, srv.URL+"/api/admin/tokens", "",
		CreateTokenRequest{PlayerID: "alice", Username: "alice", College: "alpha"},
		map[string]string{"X-Admin-Secret": "hunter2"})
	if rsp.StatusCode != http.StatusOK {
		t.Fatalf("status = %v", rsp.StatusCode)
	}
	out := decode[CreateTokenResponse](t, rsp)
	if out.Token == "" {
		t.Fatal("empty token issued")
	}
	if _, ok := db.players["alice"]; !ok {
		t.Fatal("player must be created on first token")
	}
	if len(db.tokens) != 1 || db.tokens[0].PlayerID != "alice" {
		t.Fatalf("tokens = %+v", db.tokens)
	}
}
