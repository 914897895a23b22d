package room

import (
	"sync"
	"time"
)

type Kind string

const (
	KindDuel  Kind = "duel"
	KindSquad Kind = "squad"
)

func (k Kind) Valid() bool {
	return k == KindDuel || k == KindSquad
}

type Visibility string

const (
	Public  Visibility = "public"
	Private Visibility = "private"
)

type Status string

const (
	// StatusWaiting: players join and toggle readiness.
	StatusWaiting Status = "waiting"
	// StatusStarting: start conditions met, match being spawned. Terminal
	// for the room; it is disposed once the match exists.
	StatusStarting Status = "starting"
)

type PlayerRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type Member struct {
	PlayerRef
	Ready bool `json:"ready"`
}

// Snapshot is an immutable copy of a room's state, safe to hand out after the
// room's lock is released.
type Snapshot struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Kind       Kind       `json:"kind"`
	HostID     string     `json:"host_id"`
	Capacity   int        `json:"capacity"`
	Visibility Visibility `json:"visibility"`
	Status     Status     `json:"status"`
	Players    []Member   `json:"players"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (s *Snapshot) MemberIDs() []string {
	ids := make([]string, 0, len(s.Players))
	for _, m := range s.Players {
		ids = append(ids, m.ID)
	}
	return ids
}

type room struct {
	mu         sync.Mutex
	id         string
	name       string
	kind       Kind
	hostID     string
	capacity   int
	visibility Visibility
	secret     string
	status     Status
	members    []Member
	createdAt  time.Time
	lastActive time.Time
}

func (r *room) snapshotUnlocked() Snapshot {
	players := make([]Member, len(r.members))
	copy(players, r.members)
	return Snapshot{
		ID:         r.id,
		Name:       r.name,
		Kind:       r.kind,
		HostID:     r.hostID,
		Capacity:   r.capacity,
		Visibility: r.visibility,
		Status:     r.status,
		Players:    players,
		CreatedAt:  r.createdAt,
	}
}

func (r *room) memberIdx(playerID string) int {
	for i, m := range r.members {
		if m.ID == playerID {
			return i
		}
	}
	return -1
}

func (r *room) touchUnlocked() {
	r.lastActive = time.Now()
}
