// Package match implements live match sessions: submissions, deadlines and
// the exactly-once finalization that turns judged code into scores, rating
// transfers and a persisted match record.
package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/codebattle/arena/internal/judge"
	"github.com/codebattle/arena/internal/problem"
	"github.com/codebattle/arena/internal/rating"
	"github.com/codebattle/arena/internal/room"
	"github.com/codebattle/arena/internal/scoring"
	"github.com/codebattle/arena/internal/util/backoff"
	"github.com/codebattle/arena/internal/util/idgen"
	"github.com/codebattle/arena/internal/util/slogx"
)

// Store is the persistence boundary of the match engine.
type Store interface {
	PlayerRatings(ctx context.Context, playerIDs []string) (map[string]int, error)
	// ApplyRating updates one player's rating, counters and college
	// aggregate. Implementations unable to apply all of it atomically must
	// report ErrPartialRatingApplied once the player part has committed.
	ApplyRating(ctx context.Context, app RatingApplication) error
	CompleteMatch(ctx context.Context, rec *Record) error
}

// ProblemSource assigns a problem to a freshly spawned match.
type ProblemSource interface {
	PickProblem(ctx context.Context) (*problem.Problem, error)
}

// Notifier receives match lifecycle events. Implementations must not call
// back into the Manager.
type Notifier interface {
	MatchStarted(snap Snapshot)
	// SubmissionJudged reports progress only: test counters, never code.
	SubmissionJudged(matchID, playerID string, memberIDs []string, testsPassed, totalTests int)
	MatchEnded(res Result, memberIDs []string)
}

type Options struct {
	KFactor int `toml:"k-factor"`
	// LoserDeltaScale damps the loser's rating penalty; nil means the full
	// symmetric Elo transfer.
	LoserDeltaScale *float64        `toml:"loser-delta-scale"`
	Judge           judge.Options   `toml:"judge"`
	RatingBackoff   backoff.Options `toml:"rating-backoff"`
	// Retention keeps finalized sessions around so that late finalize
	// triggers still observe the result.
	Retention  time.Duration `toml:"retention"`
	GCInterval time.Duration `toml:"gc-interval"`
}

func (o *Options) FillDefaults() {
	if o.KFactor == 0 {
		o.KFactor = rating.DefaultKFactor
	}
	o.Judge.FillDefaults()
	if o.Retention == 0 {
		o.Retention = 10 * time.Minute
	}
	if o.GCInterval == 0 {
		o.GCInterval = time.Minute
	}
}

func (o *Options) loserScale() float64 {
	if o.LoserDeltaScale == nil {
		return 1.0
	}
	return min(1.0, max(0.0, *o.LoserDeltaScale))
}

type Manager struct {
	o        Options
	log      *slog.Logger
	store    Store
	problems ProblemSource
	oracle   judge.Oracle
	notifier Notifier

	gctx   context.Context
	cancel func()
	wg     sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*session
}

var _ room.MatchStarter = (*Manager)(nil)

func NewManager(
	log *slog.Logger,
	store Store,
	problems ProblemSource,
	oracle judge.Oracle,
	notifier Notifier,
	o Options,
) *Manager {
	o.FillDefaults()
	gctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		o:        o,
		log:      log,
		store:    store,
		problems: problems,
		oracle:   oracle,
		notifier: notifier,
		gctx:     gctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
	}
	m.wg.Add(1)
	go m.gc()
	return m
}

func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) gc() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.o.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for id, s := range m.sessions {
				if mustDel := func() bool {
					s.mu.Lock()
					defer s.mu.Unlock()
					return s.status.Terminal() && now.Sub(s.lastTouched) > m.o.Retention
				}(); mustDel {
					delete(m.sessions, id)
				}
			}
			m.mu.Unlock()
		case <-m.gctx.Done():
			return
		}
	}
}

// StartMatch spawns a session for a started room. Implements room.MatchStarter.
func (m *Manager) StartMatch(ctx context.Context, roomID string, kind room.Kind, players []room.PlayerRef) (string, error) {
	if len(players) < 2 {
		return "", fmt.Errorf("cannot start match with %v players", len(players))
	}
	prob, err := m.problems.PickProblem(ctx)
	if err != nil {
		return "", fmt.Errorf("pick problem: %w", err)
	}
	s := newSession(idgen.ID(), roomID, kind, prob, players)
	s.timer = time.AfterFunc(prob.TimeLimit, func() {
		if err := m.Expire(context.Background(), s.id); err != nil {
			m.log.Warn("deadline expiry failed",
				slog.String("match_id", s.id), slogx.Err(err))
		}
	})
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	s.mu.Lock()
	snap := s.snapshotUnlocked()
	s.mu.Unlock()
	m.log.Info("match started",
		slog.String("match_id", s.id),
		slog.String("room_id", roomID),
		slog.String("problem_id", prob.ID),
		slog.Int("players", len(players)),
	)
	m.notifier.MatchStarted(snap)
	return s.id, nil
}

func (m *Manager) getSession(matchID string) (*session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[matchID]
	if !ok {
		return nil, ErrMatchNotOngoing
	}
	return s, nil
}

// Submit judges one player's code and stores it as that player's current
// submission. A verdict passing all tests finalizes the match immediately.
// On judge timeout the submission degrades to a zero-score verdict and
// judge.ErrTimeout is returned alongside the stored submission.
func (m *Manager) Submit(ctx context.Context, matchID, playerID, code, language string) (*Submission, error) {
	s, err := m.getSession(matchID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.status != StatusOngoing {
		s.mu.Unlock()
		return nil, ErrMatchNotOngoing
	}
	if !s.isPlayerUnlocked(playerID) {
		s.mu.Unlock()
		return nil, ErrUnknownPlayer
	}
	prob := s.prob
	elapsed := time.Since(s.startedAt)
	s.mu.Unlock()

	// The oracle call happens outside the session lock: judging is slow and
	// other players keep submitting meanwhile.
	verdict, jerr := judge.Call(ctx, m.oracle, m.o.Judge, prob, judge.Submission{
		Code:     code,
		Language: language,
	})
	if jerr != nil && !errors.Is(jerr, judge.ErrTimeout) {
		return nil, fmt.Errorf("judge submission: %w", jerr)
	}
	sub := &Submission{
		PlayerID: playerID,
		Code:     code,
		Language: language,
		Verdict:  verdict,
		Score: scoring.Score(scoring.Input{
			Compiled:    verdict.Compiled,
			TestsPassed: verdict.TestsPassed,
			TotalTests:  verdict.TotalTests,
			Elapsed:     elapsed,
			ExecTime:    verdict.ExecTime,
			RefTime:     verdict.RefTime,
		}, prob.Limits()),
		SubmittedAt: time.Now(),
	}

	s.mu.Lock()
	if s.status != StatusOngoing {
		// The match ended while the oracle was judging.
		s.mu.Unlock()
		return nil, ErrMatchNotOngoing
	}
	s.subs[playerID] = sub
	s.lastTouched = time.Now()
	memberIDs := s.memberIDsUnlocked()
	s.mu.Unlock()

	m.notifier.SubmissionJudged(matchID, playerID, memberIDs, verdict.TestsPassed, verdict.TotalTests)
	if verdict.Accepted() {
		if _, err := m.finalize(ctx, s); err != nil {
			m.log.Error("finalize after acceptance failed",
				slog.String("match_id", matchID), slogx.Err(err))
		}
	}
	if jerr != nil {
		return sub, jerr
	}
	return sub, nil
}

// Expire forces evaluation with whatever submissions exist. Invoked by the
// deadline timer; the realtime gateway may also call it early as its
// disconnect policy.
func (m *Manager) Expire(ctx context.Context, matchID string) error {
	s, err := m.getSession(matchID)
	if err != nil {
		return err
	}
	_, err = m.finalize(ctx, s)
	return err
}

// Finalize performs the terminal transition exactly once; any racing caller
// waits for and returns the same authoritative result.
func (m *Manager) Finalize(ctx context.Context, matchID string) (Result, error) {
	s, err := m.getSession(matchID)
	if err != nil {
		return Result{}, err
	}
	return m.finalize(ctx, s)
}

// Snapshot returns the current state of a live or recently finished match.
func (m *Manager) Snapshot(matchID string) (Snapshot, error) {
	s, err := m.getSession(matchID)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotUnlocked(), nil
}

func (m *Manager) finalize(ctx context.Context, s *session) (Result, error) {
	s.mu.Lock()
	if s.status.Terminal() {
		// Lost the compare-and-set: wait for the winning caller's result.
		s.mu.Unlock()
		select {
		case <-s.done:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.result, nil
	}

	scores := make(map[string]scoring.Breakdown, len(s.players))
	for _, p := range s.players {
		// No submission scores zero across the board.
		var br scoring.Breakdown
		if sub, ok := s.subs[p.ID]; ok {
			br = sub.Score
		}
		scores[p.ID] = br
	}
	winnerID, isDraw := decideWinner(s.players, scores)
	if isDraw {
		s.status = StatusDraw
	} else {
		s.status = StatusCompleted
	}
	s.finishedAt = time.Now()
	s.lastTouched = s.finishedAt
	if s.timer != nil {
		s.timer.Stop()
	}
	players := make([]room.PlayerRef, len(s.players))
	copy(players, s.players)
	subs := make([]Submission, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, *sub)
	}
	var winningCode string
	if winnerID != "" {
		if sub, ok := s.subs[winnerID]; ok {
			winningCode = sub.Code
		}
	}
	rec := &Record{
		ID:           s.id,
		RoomID:       s.roomID,
		Kind:         s.kind,
		ProblemID:    s.prob.ID,
		ProblemTitle: s.prob.Title,
		WinnerID:     winnerID,
		WinningCode:  winningCode,
		PlayerIDs:    s.memberIDsUnlocked(),
		Submissions:  subs,
		Scores:       scores,
		StartedAt:    s.startedAt,
		FinishedAt:   s.finishedAt,
	}
	rec.Status = s.status
	s.mu.Unlock()

	log := m.log.With(slog.String("match_id", rec.ID))
	deltas, newRatings := m.applyRatings(ctx, log, players, winnerID, isDraw)
	rec.Deltas = deltas
	if err := m.retrying(ctx, func() error {
		return m.store.CompleteMatch(ctx, rec)
	}); err != nil {
		log.Error("could not persist match record", slogx.Err(err))
	}

	res := Result{
		MatchID:    rec.ID,
		RoomID:     rec.RoomID,
		Status:     rec.Status,
		WinnerID:   winnerID,
		Scores:     scores,
		Deltas:     deltas,
		NewRatings: newRatings,
		FinishedAt: rec.FinishedAt,
	}
	s.mu.Lock()
	s.result = res
	s.mu.Unlock()
	close(s.done)

	log.Info("match finalized",
		slog.String("status", string(res.Status)),
		slog.String("winner_id", winnerID),
	)
	m.notifier.MatchEnded(res, rec.PlayerIDs)
	return res, nil
}

// decideWinner picks the unique top scorer; any tie at the top is a draw.
func decideWinner(players []room.PlayerRef, scores map[string]scoring.Breakdown) (string, bool) {
	best, bestCount := -1, 0
	var winnerID string
	for _, p := range players {
		total := scores[p.ID].Total
		switch {
		case total > best:
			best, bestCount = total, 1
			winnerID = p.ID
		case total == best:
			bestCount++
		}
	}
	if bestCount != 1 {
		return "", true
	}
	return winnerID, false
}

// applyRatings computes per-player deltas and writes them through. A failed
// college-aggregate step surfaces as ErrPartialRatingApplied and is logged
// for reconciliation; the match outcome is never blocked on it.
func (m *Manager) applyRatings(
	ctx context.Context,
	log *slog.Logger,
	players []room.PlayerRef,
	winnerID string,
	isDraw bool,
) (map[string]int, map[string]int) {
	ids := make([]string, 0, len(players))
	for _, p := range players {
		ids = append(ids, p.ID)
	}
	var ratings map[string]int
	if err := m.retrying(ctx, func() error {
		var err error
		ratings, err = m.store.PlayerRatings(ctx, ids)
		return err
	}); err != nil {
		log.Error("could not load ratings, skipping rating transfer", slogx.Err(err))
		return map[string]int{}, map[string]int{}
	}

	scale := m.o.loserScale()
	deltas := make(map[string]int, len(players))
	newRatings := make(map[string]int, len(players))
	for _, p := range players {
		out := rating.Loss
		switch {
		case isDraw:
			out = rating.Draw
		case p.ID == winnerID:
			out = rating.Win
		}
		var opps []int
		for _, q := range players {
			if q.ID != p.ID {
				opps = append(opps, ratings[q.ID])
			}
		}
		var d int
		if len(opps) == 1 {
			d = rating.Delta(ratings[p.ID], opps[0], out, m.o.KFactor)
		} else {
			d = rating.SquadDelta(ratings[p.ID], opps, out, m.o.KFactor)
		}
		if out == rating.Loss {
			d = int(math.Round(float64(d) * scale))
		}
		deltas[p.ID] = d
		newRatings[p.ID] = ratings[p.ID] + d

		app := RatingApplication{PlayerID: p.ID, Delta: d, Outcome: out}
		if err := m.retrying(ctx, func() error {
			err := m.store.ApplyRating(ctx, app)
			if errors.Is(err, ErrPartialRatingApplied) {
				// The player part committed; retrying would double-apply.
				return backoff.Permanent(err)
			}
			return err
		}); err != nil {
			if errors.Is(err, ErrPartialRatingApplied) {
				log.Error("rating applied without college aggregate, needs reconciliation",
					slog.String("player_id", p.ID),
					slog.Int("delta", d),
					slogx.Err(err),
				)
			} else {
				log.Error("could not apply rating",
					slog.String("player_id", p.ID), slogx.Err(err))
			}
		}
	}
	return deltas, newRatings
}

func (m *Manager) retrying(ctx context.Context, fn func() error) error {
	b, err := backoff.New(m.o.RatingBackoff)
	if err != nil {
		return fmt.Errorf("bad backoff config: %w", err)
	}
	for {
		err := fn()
		if err == nil {
			return nil
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Unwrap()
		}
		if rerr := b.Retry(ctx, err); rerr != nil {
			return rerr
		}
	}
}
