package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/codebattle/arena/internal/api"
	"github.com/codebattle/arena/internal/room"
	"github.com/codebattle/arena/internal/util/slogx"
	"github.com/codebattle/arena/internal/util/websockutil"
	"golang.org/x/time/rate"
)

type client struct {
	g        *Gateway
	playerID string
	username string
	session  *websockutil.Session
	limiter  *rate.Limiter
	log      *slog.Logger

	mu     sync.Mutex
	roomID string
}

func (c *client) playerRef() room.PlayerRef {
	return room.PlayerRef{ID: c.playerID, Username: c.username}
}

func (c *client) setRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
}

// clearRoom forgets the room if it is still the current one, so a stale
// close event cannot clobber a newer membership.
func (c *client) clearRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roomID == roomID {
		c.roomID = ""
	}
}

// leaveCurrentRoom is the disconnect policy: a dropped client frees its
// lobby seat.
func (c *client) leaveCurrentRoom() {
	c.mu.Lock()
	roomID := c.roomID
	c.roomID = ""
	c.mu.Unlock()
	if roomID == "" {
		return
	}
	if err := c.g.rooms.LeaveRoom(roomID, c.playerID); err != nil {
		c.log.Info("could not leave room on disconnect", slogx.Err(err))
	}
}

// recv handles one inbound frame. Malformed frames kill the session; domain
// errors go back to the sender only.
func (c *client) recv(data []byte) error {
	if !c.limiter.Allow() {
		c.sendError(fmt.Errorf("rate limit exceeded"))
		return nil
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("unmarshal envelope: %w", err)
	}
	if err := c.handle(env); err != nil {
		c.sendError(err)
	}
	return nil
}

func (c *client) handle(env Envelope) error {
	switch env.Event {
	case EventRoomCreate:
		var p RoomCreatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal %v: %w", env.Event, err)
		}
		snap, err := c.g.rooms.CreateRoom(
			c.playerRef(), p.Name, room.Kind(p.Type), p.Capacity,
			room.Visibility(p.Visibility), p.Secret,
		)
		if err != nil {
			return err
		}
		c.setRoom(snap.ID)
		return nil
	case EventRoomJoin:
		var p RoomJoinPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal %v: %w", env.Event, err)
		}
		snap, err := c.g.rooms.JoinRoom(p.RoomID, c.playerRef(), p.Secret)
		if err != nil {
			return err
		}
		c.setRoom(snap.ID)
		return nil
	case EventRoomReady:
		var p RoomReadyPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal %v: %w", env.Event, err)
		}
		_, err := c.g.rooms.SetReady(p.RoomID, c.playerID, p.Ready)
		return err
	case EventRoomStart:
		var p RoomStartPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal %v: %w", env.Event, err)
		}
		_, err := c.g.rooms.TryStart(c.g.ctx, p.RoomID, c.playerID)
		return err
	case EventRoomLeave:
		var p RoomLeavePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal %v: %w", env.Event, err)
		}
		if err := c.g.rooms.LeaveRoom(p.RoomID, c.playerID); err != nil {
			return err
		}
		c.clearRoom(p.RoomID)
		return nil
	case EventMatchSubmit:
		var p MatchSubmitPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal %v: %w", env.Event, err)
		}
		sub, err := c.g.matches.Submit(c.g.ctx, p.MatchID, c.playerID, p.Code, p.Language)
		if err != nil {
			// A timed-out judgement still produced a stored zero-score
			// attempt; tell the client about both.
			if sub == nil {
				return err
			}
			c.sendError(err)
		}
		ack, mkErr := makeEnvelope(EventMatchSubmitted, sub)
		if mkErr != nil {
			return mkErr
		}
		if err := c.session.WriteJSON(ack); err != nil {
			c.log.Info("could not send submit ack", slogx.Err(err))
		}
		return nil
	default:
		return fmt.Errorf("unknown event %q", env.Event)
	}
}

func (c *client) sendError(err error) {
	conv := api.ConvertError(err)
	var apiErr *api.Error
	if !errors.As(conv, &apiErr) {
		apiErr = &api.Error{Code: api.ErrInvalidCode, Message: err.Error()}
	}
	env, mkErr := makeEnvelope(EventError, apiErr)
	if mkErr != nil {
		c.log.Error("could not marshal error event", slogx.Err(mkErr))
		return
	}
	if werr := c.session.WriteJSON(env); werr != nil {
		c.log.Info("could not send error event", slogx.Err(werr))
	}
}
