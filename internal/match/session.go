package match

import (
	"sync"
	"time"

	"github.com/codebattle/arena/internal/problem"
	"github.com/codebattle/arena/internal/room"
)

// session owns all mutable state of one live match. Every mutation happens
// under mu; the terminal transition is a compare-and-set on status, so scoring
// and the rating write-through run exactly once no matter how many callers
// race to finalize.
type session struct {
	mu sync.Mutex

	id      string
	roomID  string
	kind    room.Kind
	prob    *problem.Problem
	players []room.PlayerRef

	status     Status
	subs       map[string]*Submission
	startedAt  time.Time
	deadline   time.Time
	finishedAt time.Time
	timer      *time.Timer

	// result is set by the finalizing caller; done is closed afterwards so
	// that concurrent finalizers can wait for the authoritative outcome.
	result Result
	done   chan struct{}

	lastTouched time.Time
}

func newSession(id, roomID string, kind room.Kind, prob *problem.Problem, players []room.PlayerRef) *session {
	now := time.Now()
	return &session{
		id:          id,
		roomID:      roomID,
		kind:        kind,
		prob:        prob,
		players:     players,
		status:      StatusOngoing,
		subs:        make(map[string]*Submission, len(players)),
		startedAt:   now,
		deadline:    now.Add(prob.TimeLimit),
		done:        make(chan struct{}),
		lastTouched: now,
	}
}

func (s *session) isPlayerUnlocked(playerID string) bool {
	for _, p := range s.players {
		if p.ID == playerID {
			return true
		}
	}
	return false
}

func (s *session) snapshotUnlocked() Snapshot {
	players := make([]room.PlayerRef, len(s.players))
	copy(players, s.players)
	return Snapshot{
		ID:        s.id,
		RoomID:    s.roomID,
		Kind:      s.kind,
		Problem:   s.prob.Public(),
		Players:   players,
		Status:    s.status,
		StartedAt: s.startedAt,
		Deadline:  s.deadline,
	}
}

func (s *session) memberIDsUnlocked() []string {
	ids := make([]string, 0, len(s.players))
	for _, p := range s.players {
		ids = append(ids, p.ID)
	}
	return ids
}
