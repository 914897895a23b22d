package gateway

import "encoding/json"

// Inbound events.
const (
	EventRoomCreate  = "room.create"
	EventRoomJoin    = "room.join"
	EventRoomReady   = "room.ready"
	EventRoomStart   = "room.start"
	EventRoomLeave   = "room.leave"
	EventMatchSubmit = "match.submit"
)

// Outbound events.
const (
	EventRoomUpdate       = "room.update"
	EventRoomClosed       = "room.closed"
	EventMatchStarted     = "match.started"
	EventMatchSubmitted   = "match.submitted"
	EventOpponentProgress = "match.opponentProgress"
	EventMatchEnded       = "match.ended"
	EventError            = "error"
)

// Envelope is the wire frame: an event name and its JSON payload.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type RoomCreatePayload struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Capacity   int    `json:"capacity"`
	Visibility string `json:"visibility"`
	Secret     string `json:"secret,omitempty"`
}

type RoomJoinPayload struct {
	RoomID string `json:"roomId"`
	Secret string `json:"secret,omitempty"`
}

type RoomReadyPayload struct {
	RoomID string `json:"roomId"`
	Ready  bool   `json:"ready"`
}

type RoomStartPayload struct {
	RoomID string `json:"roomId"`
}

type RoomLeavePayload struct {
	RoomID string `json:"roomId"`
}

type RoomClosedPayload struct {
	RoomID string `json:"roomId"`
}

type MatchSubmitPayload struct {
	MatchID  string `json:"matchId"`
	Code     string `json:"code"`
	Language string `json:"language"`
}

type OpponentProgressPayload struct {
	MatchID     string `json:"matchId"`
	PlayerID    string `json:"playerId"`
	TestsPassed int    `json:"testsPassed"`
	TotalTests  int    `json:"totalTests"`
}
