package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/codebattle/arena/internal/judge"
	"github.com/codebattle/arena/internal/match"
	"github.com/codebattle/arena/internal/room"
	"github.com/codebattle/arena/internal/userauth"
)

type ErrorCode int

const (
	ErrInvalidCode ErrorCode = iota
	ErrRoomNotFound
	ErrRoomFull
	ErrSecretMismatch
	ErrNotReady
	ErrCapacityInvalid
	ErrNotHost
	ErrMatchNotOngoing
	ErrUnknownPlayer
	ErrPartialRatingApplied
	ErrJudgeTimeout
	ErrBadToken
)

func (c ErrorCode) String() string {
	switch c {
	case ErrRoomNotFound:
		return "RoomNotFound"
	case ErrRoomFull:
		return "RoomFull"
	case ErrSecretMismatch:
		return "SecretMismatch"
	case ErrNotReady:
		return "NotReady"
	case ErrCapacityInvalid:
		return "CapacityInvalid"
	case ErrNotHost:
		return "NotHost"
	case ErrMatchNotOngoing:
		return "MatchNotOngoing"
	case ErrUnknownPlayer:
		return "UnknownPlayer"
	case ErrPartialRatingApplied:
		return "PartialRatingApplied"
	case ErrJudgeTimeout:
		return "JudgeTimeout"
	case ErrBadToken:
		return "BadToken"
	default:
		return "InvalidCode"
	}
}

func MatchesError(err error, code ErrorCode) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}

type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("arena error %v: %v", e.Code, e.Message)
}

var _ error = (*Error)(nil)

// MarshalJSON also emits the symbolic name so clients need not hardcode the
// numeric codes.
func (e *Error) MarshalJSON() ([]byte, error) {
	type raw struct {
		Code    ErrorCode `json:"code"`
		Name    string    `json:"name"`
		Message string    `json:"message"`
	}
	return json.Marshal(raw{Code: e.Code, Name: e.Code.String(), Message: e.Message})
}

// ConvertError maps domain sentinels onto the wire taxonomy. Unrecognized
// errors pass through unchanged for the caller to treat as internal.
func ConvertError(err error) error {
	if err == nil {
		return nil
	}
	code := ErrInvalidCode
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		code = ErrRoomNotFound
	case errors.Is(err, room.ErrRoomFull):
		code = ErrRoomFull
	case errors.Is(err, room.ErrSecretMismatch):
		code = ErrSecretMismatch
	case errors.Is(err, room.ErrNotReady):
		code = ErrNotReady
	case errors.Is(err, room.ErrCapacityInvalid):
		code = ErrCapacityInvalid
	case errors.Is(err, room.ErrNotHost):
		code = ErrNotHost
	case errors.Is(err, room.ErrUnknownPlayer), errors.Is(err, match.ErrUnknownPlayer):
		code = ErrUnknownPlayer
	case errors.Is(err, match.ErrMatchNotOngoing):
		code = ErrMatchNotOngoing
	case errors.Is(err, match.ErrPartialRatingApplied):
		code = ErrPartialRatingApplied
	case errors.Is(err, judge.ErrTimeout):
		code = ErrJudgeTimeout
	case errors.Is(err, userauth.ErrBadToken):
		code = ErrBadToken
	}
	if code == ErrInvalidCode {
		return err
	}
	return &Error{Code: code, Message: err.Error()}
}

// HTTPStatus maps taxonomy codes onto REST statuses.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrRoomNotFound, ErrMatchNotOngoing:
		return http.StatusNotFound
	case ErrRoomFull, ErrNotReady, ErrPartialRatingApplied:
		return http.StatusConflict
	case ErrSecretMismatch, ErrNotHost:
		return http.StatusForbidden
	case ErrCapacityInvalid, ErrUnknownPlayer:
		return http.StatusBadRequest
	case ErrJudgeTimeout:
		return http.StatusGatewayTimeout
	case ErrBadToken:
		return http.StatusUnauthorized
	default:
		return http.StatusBadRequest
	}
}
