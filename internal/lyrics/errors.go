package lyrics

import (
	"context"
	"errors"
)

var (
	ErrNotFound          = errors.New("lyrics not found")
	ErrNetwork           = errors.New("network error")
	ErrParsing           = errors.New("malformed lyrics")
	ErrPlayerUnavailable = errors.New("no player available")
	ErrUnauthorized      = errors.New("player access not granted")
	ErrInvalidInput      = errors.New("invalid input")
	ErrTimeout           = errors.New("search timed out")
	ErrUnknown           = errors.New("unknown error")
)

// Kind maps an error onto its taxonomy name, for logs and IPC replies.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not-found"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrParsing):
		return "parsing"
	case errors.Is(err, ErrPlayerUnavailable):
		return "player-unavailable"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidInput):
		return "invalid-input"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "unknown"
	}
}
