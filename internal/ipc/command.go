package ipc

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"lyricsync/internal/lyrics"
)

// Controller is the part of the coordinator reachable over the socket.
type Controller interface {
	SetOffset(offset float64) error
	AdjustOffset(delta float64) (float64, error)
	Import(text string) error
	ExcludeCurrent(album bool) error
	Refresh() error
}

// Reply answers one command line.
type Reply struct {
	OK     bool     `json:"ok"`
	Offset *float64 `json:"offset,omitempty"`
	Error  string   `json:"error,omitempty"`
	Kind   string   `json:"kind,omitempty"`
}

func failure(err error) Reply {
	return Reply{Error: err.Error(), Kind: lyrics.Kind(err)}
}

// Execute runs one command line against ctrl.
func Execute(ctrl Controller, line string) Reply {
	name, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "offset", "adjust":
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return failure(fmt.Errorf("%w: %s needs a number of seconds", lyrics.ErrInvalidInput, name))
		}
		if name == "offset" {
			if err := ctrl.SetOffset(v); err != nil {
				return failure(err)
			}
			return Reply{OK: true, Offset: &v}
		}
		offset, err := ctrl.AdjustOffset(v)
		if err != nil {
			return failure(err)
		}
		return Reply{OK: true, Offset: &offset}

	case "import":
		if arg == "" {
			return failure(fmt.Errorf("%w: import needs a file path", lyrics.ErrInvalidInput))
		}
		content, err := os.ReadFile(arg)
		if err != nil {
			return failure(fmt.Errorf("%w: %v", lyrics.ErrInvalidInput, err))
		}
		if err := ctrl.Import(string(content)); err != nil {
			return failure(err)
		}

	case "exclude":
		switch arg {
		case "", "track":
			if err := ctrl.ExcludeCurrent(false); err != nil {
				return failure(err)
			}
		case "album":
			if err := ctrl.ExcludeCurrent(true); err != nil {
				return failure(err)
			}
		default:
			return failure(fmt.Errorf("%w: exclude track|album", lyrics.ErrInvalidInput))
		}

	case "refresh":
		if err := ctrl.Refresh(); err != nil {
			return failure(err)
		}

	default:
		return failure(fmt.Errorf("%w: unknown command %q", lyrics.ErrInvalidInput, name))
	}
	return Reply{OK: true}
}

func encodeLine(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
