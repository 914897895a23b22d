// Package room implements the pre-match lobby: room formation, readiness
// tracking and the start trigger that spawns a match session.
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/codebattle/arena/internal/util/idgen"
	petname "github.com/dustinkirkland/golang-petname"
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomFull        = errors.New("room is full")
	ErrSecretMismatch  = errors.New("join secret mismatch")
	ErrNotReady        = errors.New("room is not ready to start")
	ErrCapacityInvalid = errors.New("invalid room capacity")
	ErrNotHost         = errors.New("only the host may start the room")
	ErrUnknownPlayer   = errors.New("player is not in the room")
)

const RoomNameMaxLen = 64

type Options struct {
	// MaxSquadSize bounds the capacity of squad rooms.
	MaxSquadSize int `toml:"max-squad-size"`
	// IdleTimeout disposes rooms with no activity.
	IdleTimeout time.Duration `toml:"idle-timeout"`
	GCInterval  time.Duration `toml:"gc-interval"`
}

func (o *Options) FillDefaults() {
	if o.MaxSquadSize == 0 {
		o.MaxSquadSize = 5
	}
	if o.IdleTimeout == 0 {
		o.IdleTimeout = 30 * time.Minute
	}
	if o.GCInterval == 0 {
		o.GCInterval = time.Minute
	}
}

// Notifier receives room lifecycle events. Implementations must not call back
// into the Manager.
type Notifier interface {
	RoomUpdated(snap Snapshot)
	RoomClosed(roomID string, memberIDs []string)
}

// MatchStarter spawns a match session for a started room.
type MatchStarter interface {
	StartMatch(ctx context.Context, roomID string, kind Kind, players []PlayerRef) (string, error)
}

type Manager struct {
	o        Options
	log      *slog.Logger
	notifier Notifier
	starter  MatchStarter

	gctx   context.Context
	cancel func()
	wg     sync.WaitGroup

	mu    sync.RWMutex
	rooms map[string]*room
}

func NewManager(log *slog.Logger, notifier Notifier, starter MatchStarter, o Options) *Manager {
	o.FillDefaults()
	gctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		o:        o,
		log:      log,
		notifier: notifier,
		starter:  starter,
		gctx:     gctx,
		cancel:   cancel,
		rooms:    make(map[string]*room),
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
			var stale []Snapshot
			now := time.Now()
			func() {
				m.mu.Lock()
				defer m.mu.Unlock()
				for id, r := range m.rooms {
					if snap, mustDel := func() (Snapshot, bool) {
						r.mu.Lock()
						defer r.mu.Unlock()
						if now.Sub(r.lastActive) <= m.o.IdleTimeout {
							return Snapshot{}, false
						}
						return r.snapshotUnlocked(), true
					}(); mustDel {
						stale = append(stale, snap)
						delete(m.rooms, id)
					}
				}
			}()
			for _, snap := range stale {
				m.log.Info("disposed idle room", slog.String("room_id", snap.ID))
				m.notifier.RoomClosed(snap.ID, snap.MemberIDs())
			}
		case <-m.gctx.Done():
			return
		}
	}
}

func (m *Manager) validateCapacity(kind Kind, capacity int) error {
	if capacity < 2 {
		return ErrCapacityInvalid
	}
	switch kind {
	case KindDuel:
		if capacity != 2 {
			return ErrCapacityInvalid
		}
	case KindSquad:
		if capacity <= 2 || capacity > m.o.MaxSquadSize {
			return ErrCapacityInvalid
		}
	default:
		return fmt.Errorf("bad room kind %q", kind)
	}
	return nil
}

func (m *Manager) CreateRoom(
	host PlayerRef,
	name string,
	kind Kind,
	capacity int,
	visibility Visibility,
	secret string,
) (Snapshot, error) {
	if err := m.validateCapacity(kind, capacity); err != nil {
		return Snapshot{}, err
	}
	if utf8.RuneCountInString(name) > RoomNameMaxLen {
		return Snapshot{}, fmt.Errorf("room name exceeds %v runes", RoomNameMaxLen)
	}
	if name == "" {
		name = petname.Generate(2, " ")
	}
	if visibility != Private {
		visibility = Public
		secret = ""
	}
	now := time.Now()
	r := &room{
		id:         idgen.ID(),
		name:       name,
		kind:       kind,
		hostID:     host.ID,
		capacity:   capacity,
		visibility: visibility,
		secret:     secret,
		status:     StatusWaiting,
		members:    []Member{{PlayerRef: host}},
		createdAt:  now,
		lastActive: now,
	}
	m.mu.Lock()
	m.rooms[r.id] = r
	m.mu.Unlock()

	snap := func() Snapshot {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.snapshotUnlocked()
	}()
	m.log.Info("room created",
		slog.String("room_id", r.id),
		slog.String("host_id", host.ID),
		slog.String("kind", string(kind)),
	)
	m.notifier.RoomUpdated(snap)
	return snap, nil
}

func (m *Manager) getRoom(roomID string) (*room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r, nil
}

func (m *Manager) JoinRoom(roomID string, p PlayerRef, secret string) (Snapshot, error) {
	r, err := m.getRoom(roomID)
	if err != nil {
		return Snapshot{}, err
	}
	snap, err := func() (Snapshot, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.status != StatusWaiting {
			return Snapshot{}, ErrRoomNotFound
		}
		if r.secret != "" && r.secret != secret {
			return Snapshot{}, ErrSecretMismatch
		}
		if idx := r.memberIdx(p.ID); idx >= 0 {
			// Re-join is a no-op; the caller just gets a fresh snapshot.
			return r.snapshotUnlocked(), nil
		}
		if len(r.members) >= r.capacity {
			return Snapshot{}, ErrRoomFull
		}
		r.members = append(r.members, Member{PlayerRef: p})
		r.touchUnlocked()
		return r.snapshotUnlocked(), nil
	}()
	if err != nil {
		return Snapshot{}, err
	}
	m.notifier.RoomUpdated(snap)
	return snap, nil
}

func (m *Manager) SetReady(roomID, playerID string, ready bool) (Snapshot, error) {
	r, err := m.getRoom(roomID)
	if err != nil {
		return Snapshot{}, err
	}
	snap, changed, err := func() (Snapshot, bool, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		idx := r.memberIdx(playerID)
		if idx < 0 {
			return Snapshot{}, false, ErrUnknownPlayer
		}
		if r.status != StatusWaiting {
			// No-op outside the waiting state.
			return r.snapshotUnlocked(), false, nil
		}
		changed := r.members[idx].Ready != ready
		r.members[idx].Ready = ready
		r.touchUnlocked()
		return r.snapshotUnlocked(), changed, nil
	}()
	if err != nil {
		return Snapshot{}, err
	}
	if changed {
		m.notifier.RoomUpdated(snap)
	}
	return snap, nil
}

// TryStart transitions the room to starting and spawns the match iff the room
// is at capacity and every member is ready. On any rejection the room state is
// left untouched.
func (m *Manager) TryStart(ctx context.Context, roomID, playerID string) (string, error) {
	r, err := m.getRoom(roomID)
	if err != nil {
		return "", err
	}
	matchID, snap, err := func() (string, Snapshot, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.status != StatusWaiting {
			return "", Snapshot{}, ErrNotReady
		}
		if r.hostID != playerID {
			return "", Snapshot{}, ErrNotHost
		}
		if r.capacity < 2 || len(r.members) != r.capacity {
			return "", Snapshot{}, ErrNotReady
		}
		for _, mem := range r.members {
			if !mem.Ready {
				return "", Snapshot{}, ErrNotReady
			}
		}
		r.status = StatusStarting
		players := make([]PlayerRef, 0, len(r.members))
		for _, mem := range r.members {
			players = append(players, mem.PlayerRef)
		}
		matchID, err := m.starter.StartMatch(ctx, r.id, r.kind, players)
		if err != nil {
			r.status = StatusWaiting
			return "", Snapshot{}, fmt.Errorf("start match: %w", err)
		}
		return matchID, r.snapshotUnlocked(), nil
	}()
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	delete(m.rooms, roomID)
	m.mu.Unlock()

	m.log.Info("room started",
		slog.String("room_id", roomID),
		slog.String("match_id", matchID),
	)
	m.notifier.RoomUpdated(snap)
	m.notifier.RoomClosed(roomID, snap.MemberIDs())
	return matchID, nil
}

func (m *Manager) LeaveRoom(roomID, playerID string) error {
	r, err := m.getRoom(roomID)
	if err != nil {
		return err
	}
	snap, empty, err := func() (Snapshot, bool, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		idx := r.memberIdx(playerID)
		if idx < 0 {
			return Snapshot{}, false, ErrUnknownPlayer
		}
		r.members = append(r.members[:idx], r.members[idx+1:]...)
		r.touchUnlocked()
		if len(r.members) == 0 {
			return r.snapshotUnlocked(), true, nil
		}
		if r.hostID == playerID {
			// Host reassigned to the next-joined member.
			r.hostID = r.members[0].ID
		}
		return r.snapshotUnlocked(), false, nil
	}()
	if err != nil {
		return err
	}
	if empty {
		m.mu.Lock()
		delete(m.rooms, roomID)
		m.mu.Unlock()
		m.log.Info("room dissolved", slog.String("room_id", roomID))
		m.notifier.RoomClosed(roomID, nil)
		return nil
	}
	m.notifier.RoomUpdated(snap)
	return nil
}

// Snapshot returns the current state of a room.
func (m *Manager) Snapshot(roomID string) (Snapshot, error) {
	r, err := m.getRoom(roomID)
	if err != nil {
		return Snapshot{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotUnlocked(), nil
}

// ListPublic returns snapshots of all public rooms still accepting players.
func (m *Manager) ListPublic() []Snapshot {
	m.mu.RLock()
	rooms := make([]*room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()
	var res []Snapshot
	for _, r := range rooms {
		r.mu.Lock()
		if r.visibility == Public && r.status == StatusWaiting {
			res = append(res, r.snapshotUnlocked())
		}
		r.mu.Unlock()
	}
	return res
}
