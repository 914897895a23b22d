package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codebattle/arena/internal/leaderboard"
	"github.com/codebattle/arena/internal/match"
	"github.com/codebattle/arena/internal/problem"
	"github.com/codebattle/arena/internal/rating"
	"github.com/codebattle/arena/internal/util/sliceutil"
	"github.com/codebattle/arena/internal/util/slogx"
	"github.com/codebattle/arena/internal/util/timeutil"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	ErrPlayerNotFound = errors.New("player not found")
	ErrTokenNotFound  = errors.New("token not found")
	ErrMatchNotFound  = errors.New("match not found")
	ErrNoProblems     = errors.New("no problems available")
)

type Options struct {
	Path          string        `toml:"path"`
	Debug         bool          `toml:"debug"`
	SlowThreshold time.Duration `toml:"slow-threshold"`
	BusyTimeout   time.Duration `toml:"busy-timeout"`
	UseWAL        bool          `toml:"use-wal"`
}

func (o *Options) FillDefaults() {
	if o.SlowThreshold == 0 {
		o.SlowThreshold = 200 * time.Millisecond
	}
	if o.BusyTimeout == 0 {
		o.BusyTimeout = 1 * time.Minute
	}
}

type DB struct {
	db  *gorm.DB
	log *slog.Logger
}

var (
	_ match.Store         = (*DB)(nil)
	_ match.ProblemSource = (*DB)(nil)
	_ leaderboard.Store   = (*DB)(nil)
)

func (d *DB) Close() {
	db, err := d.db.DB()
	if err != nil {
		d.log.Error("could not get underlying db", slogx.Err(err))
		return
	}
	err = db.Close()
	if err != nil {
		d.log.Error("could not close db", slogx.Err(err))
	}
}

func buildPath(o Options) string {
	var params []string
	if o.UseWAL {
		params = append(params, "_journal_mode=WAL")
		params = append(params, "_synchronous=NORMAL")
	}
	params = append(params, fmt.Sprintf("_busy_timeout=%v", o.BusyTimeout.Milliseconds()))
	params = append(params, "_foreign_keys=1")
	paramStr := strings.Join(params, "&")
	if paramStr == "" {
		return o.Path
	}
	return o.Path + "?" + paramStr
}

func New(log *slog.Logger, o Options) (*DB, error) {
	o.FillDefaults()

	log.Info("opening db")
	db, err := gorm.Open(sqlite.Open(buildPath(o)), &gorm.Config{
		Logger: Logger(log, o),
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	d := &DB{db: db, log: log}

	log.Info("migrating db")
	if err := db.AutoMigrate(models...); err != nil {
		d.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}

	log.Info("db opened")
	return d, nil
}

func (d *DB) CreatePlayer(ctx context.Context, p Player) error {
	if p.Rating == 0 {
		p.Rating = rating.InitialRating
	}
	if time.Time(p.CreatedAt).IsZero() {
		p.CreatedAt = timeutil.NowUTC()
	}
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&p).Error; err != nil {
			return fmt.Errorf("create player: %w", err)
		}
		if p.College == "" {
			return nil
		}
		return d.enrollCollegeTx(tx, p.College, p.Rating)
	})
}

// enrollCollegeTx counts a newly registered player into their college
// aggregate, creating the row on first reference.
func (d *DB) enrollCollegeTx(tx *gorm.DB, name string, initial int) error {
	res := tx.Model(&College{}).
		Where("name = ?", name).
		Updates(map[string]any{
			"total_rating":  gorm.Expr("total_rating + ?", initial),
			"student_count": gorm.Expr("student_count + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("enroll college: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	err := tx.Create(&College{
		Name:         name,
		TotalRating:  initial,
		StudentCount: 1,
		CreatedAt:    timeutil.NowUTC(),
	}).Error
	if err != nil {
		return fmt.Errorf("create college: %w", err)
	}
	return nil
}

func (d *DB) GetPlayer(ctx context.Context, playerID string) (Player, error) {
	var players []Player
	err := d.db.WithContext(ctx).Where("id = ?", playerID).Limit(1).Find(&players).Error
	if err != nil {
		return Player{}, fmt.Errorf("get player: %w", err)
	}
	if len(players) == 0 {
		return Player{}, ErrPlayerNotFound
	}
	return players[0], nil
}

// Username implements gateway.Directory.
func (d *DB) Username(ctx context.Context, playerID string) (string, error) {
	p, err := d.GetPlayer(ctx, playerID)
	if err != nil {
		return "", err
	}
	return p.Username, nil
}

// PlayerRatings implements match.Store. Players missing from the table get
// the initial rating so that a match can always be rated.
func (d *DB) PlayerRatings(ctx context.Context, playerIDs []string) (map[string]int, error) {
	var players []Player
	err := d.db.WithContext(ctx).
		Select("id", "rating").
		Where("id IN ?", playerIDs).
		Find(&players).Error
	if err != nil {
		return nil, fmt.Errorf("fetch ratings: %w", err)
	}
	res := make(map[string]int, len(playerIDs))
	for _, id := range playerIDs {
		res[id] = rating.InitialRating
	}
	for _, p := range players {
		res[p.ID] = p.Rating
	}
	return res, nil
}

// collegeStepError marks a failure of the college half of the write-through,
// so ApplyRating can fall back to committing the player half alone.
type collegeStepError struct {
	err error
}

func (e *collegeStepError) Error() string { return e.err.Error() }
func (e *collegeStepError) Unwrap() error { return e.err }

// ApplyRating implements match.Store. The player's rating, counters and the
// college aggregate move in a single transaction. If only the college step
// fails, the player update is committed on its own and the partial
// application is reported so the caller can flag it for reconciliation.
func (d *DB) ApplyRating(ctx context.Context, app match.RatingApplication) error {
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := d.applyPlayerTx(tx, app)
		if err != nil {
			return err
		}
		if p.College == "" {
			return nil
		}
		if err := d.applyCollegeTx(tx, p.College, app.Delta); err != nil {
			return &collegeStepError{err: err}
		}
		return nil
	})
	if err == nil {
		return nil
	}
	var cerr *collegeStepError
	if !errors.As(err, &cerr) {
		return fmt.Errorf("apply rating: %w", err)
	}
	retryErr := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := d.applyPlayerTx(tx, app)
		return err
	})
	if retryErr != nil {
		return fmt.Errorf("apply rating: %w", retryErr)
	}
	return fmt.Errorf("%w: %v", match.ErrPartialRatingApplied, cerr.err)
}

func (d *DB) applyPlayerTx(tx *gorm.DB, app match.RatingApplication) (Player, error) {
	var players []Player
	err := tx.Where("id = ?", app.PlayerID).Limit(1).Find(&players).Error
	if err != nil {
		return Player{}, fmt.Errorf("find player: %w", err)
	}
	var p Player
	if len(players) == 0 {
		p = Player{
			ID:        app.PlayerID,
			Username:  app.PlayerID,
			Rating:    rating.InitialRating,
			CreatedAt: timeutil.NowUTC(),
		}
	} else {
		p = players[0]
	}
	p.Rating += app.Delta
	p.MatchesPlayed++
	switch app.Outcome {
	case rating.Win:
		p.Wins++
	case rating.Loss:
		p.Losses++
	case rating.Draw:
		p.Draws++
	}
	if err := tx.Save(&p).Error; err != nil {
		return Player{}, fmt.Errorf("save player: %w", err)
	}
	return p, nil
}

func (d *DB) applyCollegeTx(tx *gorm.DB, name string, delta int) error {
	res := tx.Model(&College{}).
		Where("name = ?", name).
		Update("total_rating", gorm.Expr("total_rating + ?", delta))
	if res.Error != nil {
		return fmt.Errorf("update college: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	// Registration creates the row, so a missing one means it was lost.
	// Rebuild the aggregate from the member ratings.
	var agg struct {
		Total int
		Count int
	}
	err := tx.Model(&Player{}).
		Select("COALESCE(SUM(rating), 0) AS total, COUNT(*) AS count").
		Where("college = ?", name).
		Scan(&agg).Error
	if err != nil {
		return fmt.Errorf("aggregate college: %w", err)
	}
	err = tx.Create(&College{
		Name:         name,
		TotalRating:  agg.Total,
		StudentCount: agg.Count,
		CreatedAt:    timeutil.NowUTC(),
	}).Error
	if err != nil {
		return fmt.Errorf("create college: %w", err)
	}
	return nil
}

// CompleteMatch implements match.Store. Re-persisting the same match ID is a
// no-op, which makes the REST finalize trigger idempotent across restarts.
func (d *DB) CompleteMatch(ctx context.Context, rec *match.Record) error {
	row := recordToRow(rec)
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cnt int64
		err := tx.Model(&MatchRecord{}).Where("id = ?", rec.ID).Count(&cnt).Error
		if err != nil {
			return fmt.Errorf("check match record: %w", err)
		}
		if cnt != 0 {
			return nil
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("create match record: %w", err)
		}
		return nil
	})
}

func recordToRow(rec *match.Record) MatchRecord {
	row := MatchRecord{
		ID:           rec.ID,
		RoomID:       rec.RoomID,
		Kind:         string(rec.Kind),
		ProblemID:    rec.ProblemID,
		ProblemTitle: rec.ProblemTitle,
		Status:       string(rec.Status),
		WinnerID:     rec.WinnerID,
		WinningCode:  rec.WinningCode,
		StartedAt:    timeutil.UTCTime(rec.StartedAt.UTC()),
		FinishedAt:   timeutil.UTCTime(rec.FinishedAt.UTC()),
	}
	row.Participants = sliceutil.Map(rec.PlayerIDs, func(id string) MatchParticipant {
		score := rec.Scores[id]
		return MatchParticipant{
			MatchID:        rec.ID,
			PlayerID:       id,
			Correctness:    score.Correctness,
			TimeEfficiency: score.TimeEfficiency,
			Optimization:   score.Optimization,
			Total:          score.Total,
			Delta:          rec.Deltas[id],
		}
	})
	row.Submissions = sliceutil.Map(rec.Submissions, func(sub match.Submission) SubmissionRecord {
		return SubmissionRecord{
			MatchID:     rec.ID,
			PlayerID:    sub.PlayerID,
			Code:        sub.Code,
			Language:    sub.Language,
			TestsPassed: sub.Verdict.TestsPassed,
			TotalTests:  sub.Verdict.TotalTests,
			ExecTimeMs:  sub.Verdict.ExecTime.Milliseconds(),
			Total:       sub.Score.Total,
			SubmittedAt: timeutil.UTCTime(sub.SubmittedAt.UTC()),
		}
	})
	return row
}

func (d *DB) MatchByID(ctx context.Context, matchID string) (MatchRecord, error) {
	var recs []MatchRecord
	err := d.db.WithContext(ctx).
		Preload("Participants").
		Where("id = ?", matchID).
		Limit(1).
		Find(&recs).Error
	if err != nil {
		return MatchRecord{}, fmt.Errorf("get match record: %w", err)
	}
	if len(recs) == 0 {
		return MatchRecord{}, ErrMatchNotFound
	}
	return recs[0], nil
}

// MatchHistory returns the player's finished matches, latest first.
func (d *DB) MatchHistory(ctx context.Context, playerID string, limit, offset int) ([]MatchRecord, error) {
	var recs []MatchRecord
	err := d.db.WithContext(ctx).
		Preload("Participants").
		Joins("JOIN match_participants ON match_participants.match_id = match_records.id").
		Where("match_participants.player_id = ?", playerID).
		Order("match_records.finished_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("match history: %w", err)
	}
	return recs, nil
}

// PickProblem implements match.ProblemSource.
func (d *DB) PickProblem(ctx context.Context) (*problem.Problem, error) {
	var probs []problem.Problem
	err := d.db.WithContext(ctx).Order("RANDOM()").Limit(1).Find(&probs).Error
	if err != nil {
		return nil, fmt.Errorf("pick problem: %w", err)
	}
	if len(probs) == 0 {
		return nil, ErrNoProblems
	}
	return &probs[0], nil
}

func (d *DB) CountProblems(ctx context.Context) (int64, error) {
	var cnt int64
	err := d.db.WithContext(ctx).Model(&problem.Problem{}).Count(&cnt).Error
	if err != nil {
		return 0, fmt.Errorf("count problems: %w", err)
	}
	return cnt, nil
}

// SeedProblems inserts the given problems, skipping IDs that already exist.
func (d *DB) SeedProblems(ctx context.Context, probs []problem.Problem) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range probs {
			p := probs[i]
			if err := p.Validate(); err != nil {
				return fmt.Errorf("seed problem %q: %w", p.ID, err)
			}
			var cnt int64
			err := tx.Model(&problem.Problem{}).Where("id = ?", p.ID).Count(&cnt).Error
			if err != nil {
				return fmt.Errorf("check problem: %w", err)
			}
			if cnt != 0 {
				continue
			}
			if err := tx.Create(&p).Error; err != nil {
				return fmt.Errorf("create problem: %w", err)
			}
		}
		return nil
	})
}

const playerRankOrder = "rating DESC, losses ASC, created_at ASC"

func playerToRow(p Player) leaderboard.PlayerRow {
	return leaderboard.PlayerRow{
		ID:            p.ID,
		Username:      p.Username,
		College:       p.College,
		Rating:        p.Rating,
		Wins:          p.Wins,
		Losses:        p.Losses,
		Draws:         p.Draws,
		MatchesPlayed: p.MatchesPlayed,
		CreatedAt:     p.CreatedAt.UTC(),
	}
}

// PlayersByRank implements leaderboard.Store.
func (d *DB) PlayersByRank(ctx context.Context, limit, offset int) ([]leaderboard.PlayerRow, error) {
	var players []Player
	err := d.db.WithContext(ctx).
		Order(playerRankOrder).
		Limit(limit).
		Offset(offset).
		Find(&players).Error
	if err != nil {
		return nil, fmt.Errorf("list players by rank: %w", err)
	}
	return sliceutil.Map(players, playerToRow), nil
}

// RankOfPlayer implements leaderboard.Store. The rank is one plus the number
// of players sorting strictly ahead.
func (d *DB) RankOfPlayer(ctx context.Context, playerID string) (int, leaderboard.PlayerRow, error) {
	p, err := d.GetPlayer(ctx, playerID)
	if err != nil {
		if errors.Is(err, ErrPlayerNotFound) {
			return 0, leaderboard.PlayerRow{}, leaderboard.ErrNotRanked
		}
		return 0, leaderboard.PlayerRow{}, err
	}
	var ahead int64
	err = d.db.WithContext(ctx).Model(&Player{}).
		Where(
			"rating > ? OR (rating = ? AND losses < ?) OR (rating = ? AND losses = ? AND created_at < ?)",
			p.Rating, p.Rating, p.Losses, p.Rating, p.Losses, p.CreatedAt,
		).
		Count(&ahead).Error
	if err != nil {
		return 0, leaderboard.PlayerRow{}, fmt.Errorf("rank of player: %w", err)
	}
	return int(ahead) + 1, playerToRow(p), nil
}

const collegeRankOrder = "total_rating DESC, student_count ASC, created_at ASC"

func collegeToRow(c College) leaderboard.CollegeRow {
	return leaderboard.CollegeRow{
		Name:         c.Name,
		TotalRating:  c.TotalRating,
		StudentCount: c.StudentCount,
	}
}

// CollegesByRank implements leaderboard.Store.
func (d *DB) CollegesByRank(ctx context.Context, limit, offset int) ([]leaderboard.CollegeRow, error) {
	var colleges []College
	err := d.db.WithContext(ctx).
		Order(collegeRankOrder).
		Limit(limit).
		Offset(offset).
		Find(&colleges).Error
	if err != nil {
		return nil, fmt.Errorf("list colleges by rank: %w", err)
	}
	return sliceutil.Map(colleges, collegeToRow), nil
}

// RankOfCollege implements leaderboard.Store.
func (d *DB) RankOfCollege(ctx context.Context, name string) (int, leaderboard.CollegeRow, error) {
	var colleges []College
	err := d.db.WithContext(ctx).Where("name = ?", name).Limit(1).Find(&colleges).Error
	if err != nil {
		return 0, leaderboard.CollegeRow{}, fmt.Errorf("get college: %w", err)
	}
	if len(colleges) == 0 {
		return 0, leaderboard.CollegeRow{}, leaderboard.ErrNotRanked
	}
	c := colleges[0]
	var ahead int64
	err = d.db.WithContext(ctx).Model(&College{}).
		Where(
			"total_rating > ? OR (total_rating = ? AND student_count < ?) OR (total_rating = ? AND student_count = ? AND created_at < ?)",
			c.TotalRating, c.TotalRating, c.StudentCount, c.TotalRating, c.StudentCount, c.CreatedAt,
		).
		Count(&ahead).Error
	if err != nil {
		return 0, leaderboard.CollegeRow{}, fmt.Errorf("rank of college: %w", err)
	}
	return int(ahead) + 1, collegeToRow(c), nil
}

func (d *DB) CreateAuthToken(ctx context.Context, token AuthToken) error {
	if time.Time(token.CreatedAt).IsZero() {
		token.CreatedAt = timeutil.NowUTC()
	}
	err := d.db.WithContext(ctx).Create(&token).Error
	if err != nil {
		return fmt.Errorf("create auth token: %w", err)
	}
	return nil
}

func (d *DB) PlayerIDByTokenHash(ctx context.Context, hash string) (string, error) {
	var tokens []AuthToken
	err := d.db.WithContext(ctx).Where("hash = ?", hash).Limit(1).Find(&tokens).Error
	if err != nil {
		return "", fmt.Errorf("get auth token: %w", err)
	}
	if len(tokens) == 0 {
		return "", ErrTokenNotFound
	}
	return tokens[0].PlayerID, nil
}

func (d *DB) DeleteAuthToken(ctx context.Context, hash string) error {
	err := d.db.WithContext(ctx).Delete(&AuthToken{Hash: hash}).Error
	if err != nil {
		return fmt.Errorf("delete auth token: %w", err)
	}
	return nil
}
