// Package gateway fans room and match events out to websocket clients and
// relays client actions into the managers. It owns no game state beyond the
// connection registry.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/codebattle/arena/internal/match"
	"github.com/codebattle/arena/internal/room"
	"github.com/codebattle/arena/internal/util/slogx"
	"github.com/codebattle/arena/internal/util/websockutil"
	"golang.org/x/time/rate"
)

// Rooms is the lobby surface the gateway relays into.
type Rooms interface {
	CreateRoom(host room.PlayerRef, name string, kind room.Kind, capacity int, visibility room.Visibility, secret string) (room.Snapshot, error)
	JoinRoom(roomID string, p room.PlayerRef, secret string) (room.Snapshot, error)
	SetReady(roomID, playerID string, ready bool) (room.Snapshot, error)
	TryStart(ctx context.Context, roomID, playerID string) (string, error)
	LeaveRoom(roomID, playerID string) error
}

type Matches interface {
	Submit(ctx context.Context, matchID, playerID, code, language string) (*match.Submission, error)
}

// TokenChecker resolves a bearer token to a player ID.
type TokenChecker interface {
	Check(token string) (string, error)
}

// Directory resolves player IDs to display names for lobby rosters.
type Directory interface {
	Username(ctx context.Context, playerID string) (string, error)
}

type Options struct {
	Websocket websockutil.Options `toml:"websocket"`
	// RateLimit caps inbound events per second per connection.
	RateLimit float64 `toml:"rate-limit"`
	RateBurst int     `toml:"rate-burst"`
}

func (o *Options) FillDefaults() {
	o.Websocket.FillDefaults()
	if o.RateLimit == 0 {
		o.RateLimit = 10
	}
	if o.RateBurst == 0 {
		o.RateBurst = 20
	}
}

type Gateway struct {
	o       Options
	log     *slog.Logger
	factory *websockutil.SessionFactory
	tokens  TokenChecker
	dir     Directory
	rooms   Rooms
	matches Matches

	ctx    context.Context
	cancel func()

	mu      sync.RWMutex
	clients map[string]*client
}

var (
	_ room.Notifier  = (*Gateway)(nil)
	_ match.Notifier = (*Gateway)(nil)
)

func New(log *slog.Logger, tokens TokenChecker, dir Directory, o Options) *Gateway {
	o.FillDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		o:       o,
		log:     log,
		factory: websockutil.NewSessionFactory(o.Websocket),
		tokens:  tokens,
		dir:     dir,
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[string]*client),
	}
}

// Attach wires the managers in after construction, since the gateway and the
// managers reference each other.
func (g *Gateway) Attach(rooms Rooms, matches Matches) {
	g.rooms = rooms
	g.matches = matches
}

func (g *Gateway) Close() {
	g.cancel()
	g.mu.Lock()
	clients := make([]*client, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.clients = make(map[string]*client)
	g.mu.Unlock()
	for _, c := range clients {
		c.session.Shutdown()
	}
}

func bearerToken(req *http.Request) string {
	if h := req.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return tok
		}
	}
	return req.URL.Query().Get("token")
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	playerID, err := g.tokens.Check(bearerToken(req))
	if err != nil {
		g.log.Info("websocket auth failed", slogx.Err(err))
		http.Error(w, "bad token", http.StatusUnauthorized)
		return
	}
	username, err := g.dir.Username(req.Context(), playerID)
	if err != nil {
		// Players are created lazily; fall back to the ID.
		username = playerID
	}

	log := g.log.With(slog.String("player_id", playerID))
	c := &client{
		g:        g,
		playerID: playerID,
		username: username,
		limiter:  rate.NewLimiter(rate.Limit(g.o.RateLimit), g.o.RateBurst),
		log:      log,
	}
	session, err := g.factory.NewSession(w, req, log, c.recv)
	if err != nil {
		return
	}
	c.session = session

	g.mu.Lock()
	old := g.clients[playerID]
	g.clients[playerID] = c
	g.mu.Unlock()
	if old != nil {
		old.session.Shutdown()
	}
	log.Info("client connected")

	go func() {
		<-session.Done()
		g.mu.Lock()
		if g.clients[playerID] == c {
			delete(g.clients, playerID)
		}
		g.mu.Unlock()
		c.leaveCurrentRoom()
		log.Info("client disconnected")
	}()
}

func (g *Gateway) send(playerID string, env Envelope) {
	g.mu.RLock()
	c := g.clients[playerID]
	g.mu.RUnlock()
	if c == nil {
		return
	}
	if err := c.session.WriteJSON(env); err != nil {
		c.log.Info("could not deliver event", slog.String("event", env.Event), slogx.Err(err))
	}
}

func (g *Gateway) broadcast(playerIDs []string, env Envelope) {
	for _, id := range playerIDs {
		g.send(id, env)
	}
}

// RoomUpdated implements room.Notifier.
func (g *Gateway) RoomUpdated(snap room.Snapshot) {
	env, err := makeEnvelope(EventRoomUpdate, snap)
	if err != nil {
		g.log.Error("could not marshal room update", slogx.Err(err))
		return
	}
	g.broadcast(snap.MemberIDs(), env)
}

// RoomClosed implements room.Notifier.
func (g *Gateway) RoomClosed(roomID string, memberIDs []string) {
	env, err := makeEnvelope(EventRoomClosed, RoomClosedPayload{RoomID: roomID})
	if err != nil {
		g.log.Error("could not marshal room closed", slogx.Err(err))
		return
	}
	g.broadcast(memberIDs, env)
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, id := range memberIDs {
		if c := g.clients[id]; c != nil {
			c.clearRoom(roomID)
		}
	}
}

// MatchStarted implements match.Notifier.
func (g *Gateway) MatchStarted(snap match.Snapshot) {
	env, err := makeEnvelope(EventMatchStarted, snap)
	if err != nil {
		g.log.Error("could not marshal match started", slogx.Err(err))
		return
	}
	for _, p := range snap.Players {
		g.send(p.ID, env)
	}
}

// SubmissionJudged implements match.Notifier: progress counters go to the
// opponents, never the code.
func (g *Gateway) SubmissionJudged(matchID, playerID string, memberIDs []string, testsPassed, totalTests int) {
	env, err := makeEnvelope(EventOpponentProgress, OpponentProgressPayload{
		MatchID:     matchID,
		PlayerID:    playerID,
		TestsPassed: testsPassed,
		TotalTests:  totalTests,
	})
	if err != nil {
		g.log.Error("could not marshal progress", slogx.Err(err))
		return
	}
	for _, id := range memberIDs {
		if id == playerID {
			continue
		}
		g.send(id, env)
	}
}

// MatchEnded implements match.Notifier.
func (g *Gateway) MatchEnded(res match.Result, memberIDs []string) {
	env, err := makeEnvelope(EventMatchEnded, res)
	if err != nil {
		g.log.Error("could not marshal match ended", slogx.Err(err))
		return
	}
	g.broadcast(memberIDs, env)
}

func makeEnvelope(event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %v payload: %w", event, err)
	}
	return Envelope{Event: event, Payload: data}, nil
}
