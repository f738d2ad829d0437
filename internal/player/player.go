package player

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"lyricsync/internal/lyrics"
)

type EventKind int

const (
	// TrackChanged carries the new track, nil when no player is active.
	TrackChanged EventKind = iota
	PlaybackChanged
	Seeked
	// Position is a periodic position report.
	Position
)

type Event struct {
	Kind     EventKind
	Track    *lyrics.Track
	TrackID  string
	Playing  bool
	Position float64
	At       time.Time
}

// Backend watches a player and reports what it does.
type Backend interface {
	Name() string
	Run(ctx context.Context, events chan<- Event) error
}

// Sink receives forwarded player events.
type Sink interface {
	TrackChanged(t *lyrics.Track)
	PlaybackChanged(trackID string, playing bool, pos float64, at time.Time)
	Seeked(trackID string, pos float64, at time.Time)
	Position(trackID string, pos float64, at time.Time)
}

// Forward delivers events to sink until ctx is done or events is closed.
func Forward(ctx context.Context, events <-chan Event, sink Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch e.Kind {
			case TrackChanged:
				sink.TrackChanged(e.Track)
			case PlaybackChanged:
				sink.PlaybackChanged(e.TrackID, e.Playing, e.Position, e.At)
			case Seeked:
				sink.Seeked(e.TrackID, e.Position, e.At)
			case Position:
				sink.Position(e.TrackID, e.Position, e.At)
			}
		}
	}
}

// New picks a backend by name.
func New(name, busName string) (Backend, error) {
	switch name {
	case "", "mpris":
		return NewMPRIS(busName), nil
	case "playerctl":
		return NewPlayerctl(busName), nil
	default:
		return nil, fmt.Errorf("unknown player backend %q", name)
	}
}

// localPath returns the filesystem path of a file:// URL, or "".
func localPath(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "file" {
		return ""
	}
	return u.Path
}

func playing(status string) bool {
	return strings.EqualFold(strings.TrimSpace(status), "Playing")
}

func send(ctx context.Context, events chan<- Event, e Event) bool {
	select {
	case events <- e:
		return true
	case <-ctx.Done():
		return false
	}
}
