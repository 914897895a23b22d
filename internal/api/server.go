package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/NYTimes/gziphandler"
	"github.com/codebattle/arena/internal/database"
	"github.com/codebattle/arena/internal/leaderboard"
	"github.com/codebattle/arena/internal/match"
	"github.com/codebattle/arena/internal/scoring"
	"github.com/codebattle/arena/internal/userauth"
	"github.com/codebattle/arena/internal/util/httputil"
	"github.com/codebattle/arena/internal/util/idgen"
	randutil "github.com/codebattle/arena/internal/util/rand"
	"github.com/codebattle/arena/internal/util/slogx"
)

// Finalizer triggers match completion on the live session layer.
type Finalizer interface {
	Finalize(ctx context.Context, matchID string) (match.Result, error)
}

// DB is the persisted-state surface the REST handlers read and write.
type DB interface {
	MatchByID(ctx context.Context, matchID string) (database.MatchRecord, error)
	MatchHistory(ctx context.Context, playerID string, limit, offset int) ([]database.MatchRecord, error)
	GetPlayer(ctx context.Context, playerID string) (database.Player, error)
	CreatePlayer(ctx context.Context, p database.Player) error
	CreateAuthToken(ctx context.Context, token database.AuthToken) error
}

type TokenChecker interface {
	Check(token string) (string, error)
}

type ServerOptions struct {
	// AdminSecret guards the token-issuing endpoint. Empty disables it.
	AdminSecret string
}

type Server struct {
	log       *slog.Logger
	o         ServerOptions
	finalizer Finalizer
	db        DB
	lb        *leaderboard.Service
	tokens    TokenChecker
}

func NewServer(
	log *slog.Logger,
	finalizer Finalizer,
	db DB,
	lb *leaderboard.Service,
	tokens TokenChecker,
	o ServerOptions,
) *Server {
	return &Server{
		log:       log,
		o:         o,
		finalizer: finalizer,
		db:        db,
		lb:        lb,
		tokens:    tokens,
	}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.Handle("/api/matches/complete",
		s.makePostHandler("complete", true, s.completeMatch))
	mux.Handle("/api/matches/history",
		gziphandler.GzipHandler(s.makeGetHandler("history", true, s.history)))
	mux.Handle("/api/leaderboard",
		gziphandler.GzipHandler(s.makeGetHandler("leaderboard", false, s.leaderboards)))
	mux.Handle("/api/admin/tokens",
		s.makeAdminHandler("create-token", s.createToken))
}

func (s *Server) authenticate(req *http.Request) (string, error) {
	h := req.Header.Get("Authorization")
	tok, ok := cutBearer(h)
	if !ok {
		return "", &Error{Code: ErrBadToken, Message: "missing bearer token"}
	}
	playerID, err := s.tokens.Check(tok)
	if err != nil {
		return "", &Error{Code: ErrBadToken, Message: "bad token auth"}
	}
	return playerID, nil
}

func cutBearer(h string) (string, bool) {
	const prefix = "Bearer "
	if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
		return "", false
	}
	return h[len(prefix):], true
}

func (s *Server) writeError(log *slog.Logger, w http.ResponseWriter, err error) {
	err = ConvertError(err)
	var apiErr *Error
	if errors.As(err, &apiErr) {
		data, merr := json.Marshal(apiErr)
		if merr != nil {
			log.Warn("error marshalling error json", slogx.Err(merr))
			_ = httputil.WriteErrorResponse(fmt.Errorf("marshal error json"), w)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(HTTPStatus(apiErr.Code))
		if _, werr := w.Write(data); werr != nil {
			log.Info("error writing error response", slogx.Err(werr))
		}
		return
	}
	var httpErr *httputil.Error
	if !errors.As(err, &httpErr) {
		log.Warn("handler failed", slogx.Err(err))
		err = httputil.MakeError(http.StatusInternalServerError, "internal server error")
	}
	if werr := httputil.WriteErrorResponse(err, w); werr != nil {
		log.Info("error writing error response", slogx.Err(werr))
	}
}

func writeJSON(log *slog.Logger, w http.ResponseWriter, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal json response: %w", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Info("error writing response", slogx.Err(err))
	}
	return nil
}

func (s *Server) makePostHandler(
	method string,
	needAuth bool,
	fn func(ctx context.Context, log *slog.Logger, playerID string, req json.RawMessage) (any, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, hReq *http.Request) {
		log := s.log.With(
			slog.String("method", method),
			slog.String("addr", hReq.RemoteAddr),
			slog.String("rid", randutil.InsecureID()),
		)
		if err := func() error {
			log.Info("handle api request")
			if hReq.Method != http.MethodPost {
				return httputil.MakeError(http.StatusMethodNotAllowed, "method not allowed")
			}
			var playerID string
			if needAuth {
				var err error
				playerID, err = s.authenticate(hReq)
				if err != nil {
					log.Warn("token auth failed", slogx.Err(err))
					return err
				}
			}
			reqBytes, err := io.ReadAll(hReq.Body)
			if err != nil {
				log.Info("error reading request", slogx.Err(err))
				return nil
			}
			rsp, err := fn(hReq.Context(), log, playerID, reqBytes)
			if err != nil {
				return err
			}
			return writeJSON(log, w, rsp)
		}(); err != nil {
			s.writeError(log, w, err)
		}
	}
}

func (s *Server) makeGetHandler(
	method string,
	needAuth bool,
	fn func(ctx context.Context, log *slog.Logger, playerID string, q url.Values) (any, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, hReq *http.Request) {
		log := s.log.With(
			slog.String("method", method),
			slog.String("addr", hReq.RemoteAddr),
			slog.String("rid", randutil.InsecureID()),
		)
		if err := func() error {
			log.Info("handle api request")
			if hReq.Method != http.MethodGet {
				return httputil.MakeError(http.StatusMethodNotAllowed, "method not allowed")
			}
			var playerID string
			if needAuth {
				var err error
				playerID, err = s.authenticate(hReq)
				if err != nil {
					log.Warn("token auth failed", slogx.Err(err))
					return err
				}
			}
			rsp, err := fn(hReq.Context(), log, playerID, hReq.URL.Query())
			if err != nil {
				return err
			}
			return writeJSON(log, w, rsp)
		}(); err != nil {
			s.writeError(log, w, err)
		}
	}
}

func (s *Server) makeAdminHandler(
	method string,
	fn func(ctx context.Context, log *slog.Logger, req json.RawMessage) (any, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, hReq *http.Request) {
		log := s.log.With(
			slog.String("method", method),
			slog.String("addr", hReq.RemoteAddr),
			slog.String("rid", randutil.InsecureID()),
		)
		if err := func() error {
			log.Info("handle admin request")
			if hReq.Method != http.MethodPost {
				return httputil.MakeError(http.StatusMethodNotAllowed, "method not allowed")
			}
			secret := hReq.Header.Get("X-Admin-Secret")
			if s.o.AdminSecret == "" ||
				subtle.ConstantTimeCompare([]byte(secret), []byte(s.o.AdminSecret)) != 1 {
				log.Warn("admin auth failed")
				return httputil.MakeError(http.StatusForbidden, "forbidden")
			}
			reqBytes, err := io.ReadAll(hReq.Body)
			if err != nil {
				log.Info("error reading request", slogx.Err(err))
				return nil
			}
			rsp, err := fn(hReq.Context(), log, reqBytes)
			if err != nil {
				return err
			}
			return writeJSON(log, w, rsp)
		}(); err != nil {
			s.writeError(log, w, err)
		}
	}
}

func unmarshalReq[Req any](data json.RawMessage) (*Req, error) {
	var req Req
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, httputil.MakeError(http.StatusBadRequest, "unmarshal json request")
	}
	return &req, nil
}

func (s *Server) completeMatch(ctx context.Context, log *slog.Logger, playerID string, raw json.RawMessage) (any, error) {
	req, err := unmarshalReq[CompleteMatchRequest](raw)
	if err != nil {
		return nil, err
	}
	if req.MatchID == "" {
		return nil, httputil.MakeError(http.StatusBadRequest, "matchId is required")
	}
	res, err := s.finalizer.Finalize(ctx, req.MatchID)
	if err == nil {
		return &CompleteMatchResponse{Outcome: MatchOutcome{
			MatchID:    res.MatchID,
			Status:     string(res.Status),
			WinnerID:   res.WinnerID,
			Scores:     res.Scores,
			Deltas:     res.Deltas,
			FinishedAt: res.FinishedAt,
		}}, nil
	}
	if !errors.Is(err, match.ErrMatchNotOngoing) {
		return nil, err
	}
	// The session may already be gone; completion stays idempotent through
	// the persisted record.
	rec, dbErr := s.db.MatchByID(ctx, req.MatchID)
	if dbErr != nil {
		if errors.Is(dbErr, database.ErrMatchNotFound) {
			return nil, err
		}
		return nil, dbErr
	}
	return &CompleteMatchResponse{Outcome: recordOutcome(rec)}, nil
}

func recordOutcome(rec database.MatchRecord) MatchOutcome {
	out := MatchOutcome{
		MatchID:    rec.ID,
		Status:     rec.Status,
		WinnerID:   rec.WinnerID,
		Scores:     make(map[string]scoring.Breakdown, len(rec.Participants)),
		Deltas:     make(map[string]int, len(rec.Participants)),
		FinishedAt: rec.FinishedAt.UTC(),
	}
	for _, p := range rec.Participants {
		out.Scores[p.PlayerID] = scoring.Breakdown{
			Correctness:    p.Correctness,
			TimeEfficiency: p.TimeEfficiency,
			Optimization:   p.Optimization,
			Total:          p.Total,
		}
		out.Deltas[p.PlayerID] = p.Delta
	}
	return out
}

func parsePage(q url.Values) (limit, offset int) {
	limit, _ = strconv.Atoi(q.Get("limit"))
	offset, _ = strconv.Atoi(q.Get("offset"))
	return limit, offset
}

func (s *Server) history(ctx context.Context, log *slog.Logger, playerID string, q url.Values) (any, error) {
	limit, offset := parsePage(q)
	if limit <= 0 || limit > leaderboard.MaxPageSize {
		limit = leaderboard.DefaultPageSize
	}
	recs, err := s.db.MatchHistory(ctx, playerID, limit, offset)
	if err != nil {
		return nil, err
	}
	entries := make([]HistoryEntry, 0, len(recs))
	for _, rec := range recs {
		entry := HistoryEntry{
			MatchID:      rec.ID,
			Kind:         rec.Kind,
			ProblemTitle: rec.ProblemTitle,
			Status:       rec.Status,
			WinnerID:     rec.WinnerID,
			Won:          rec.WinnerID == playerID,
			FinishedAt:   rec.FinishedAt.UTC(),
		}
		for _, p := range rec.Participants {
			if p.PlayerID == playerID {
				entry.Score = p.Total
				entry.Delta = p.Delta
			} else {
				entry.Opponents = append(entry.Opponents, p.PlayerID)
			}
		}
		entries = append(entries, entry)
	}
	return &HistoryResponse{Matches: entries}, nil
}

func (s *Server) leaderboards(ctx context.Context, log *slog.Logger, playerID string, q url.Values) (any, error) {
	limit, offset := parsePage(q)
	switch q.Get("kind") {
	case "", "players":
		players, err := s.lb.Players(ctx, limit, offset)
		if err != nil {
			return nil, err
		}
		return &LeaderboardResponse{Players: players}, nil
	case "colleges":
		colleges, err := s.lb.Colleges(ctx, limit, offset)
		if err != nil {
			return nil, err
		}
		return &LeaderboardResponse{Colleges: colleges}, nil
	default:
		return nil, httputil.MakeError(http.StatusBadRequest, "bad leaderboard kind")
	}
}

func (s *Server) createToken(ctx context.Context, log *slog.Logger, raw json.RawMessage) (any, error) {
	req, err := unmarshalReq[CreateTokenRequest](raw)
	if err != nil {
		return nil, err
	}
	if req.PlayerID == "" {
		return nil, httputil.MakeError(http.StatusBadRequest, "playerId is required")
	}
	if _, err := s.db.GetPlayer(ctx, req.PlayerID); err != nil {
		if !errors.Is(err, database.ErrPlayerNotFound) {
			return nil, err
		}
		username := req.Username
		if username == "" {
			username = req.PlayerID
		}
		err := s.db.CreatePlayer(ctx, database.Player{
			ID:       req.PlayerID,
			Username: username,
			College:  req.College,
		})
		if err != nil {
			return nil, err
		}
		log.Info("player created", slog.String("player_id", req.PlayerID))
	}
	tok, err := idgen.SecureToken()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	err = s.db.CreateAuthToken(ctx, database.AuthToken{
		Hash:     userauth.HashToken(tok),
		PlayerID: req.PlayerID,
		Label:    req.Label,
	})
	if err != nil {
		return nil, err
	}
	log.Info("token issued", slog.String("player_id", req.PlayerID))
	return &CreateTokenResponse{Token: tok}, nil
}
