package ipc

import (
	"time"

	"lyricsync/internal/coordinator"
)

// StaleAfter is how old a widget state may get before consumers should stop
// showing it.
const StaleAfter = 30 * time.Second

// WidgetState is what the bar widget and socket clients see. It is written
// as one JSON object per line.
type WidgetState struct {
	CurrentLine string    `json:"current_line"`
	NextLine    string    `json:"next_line"`
	Translation string    `json:"translation,omitempty"`
	Title       string    `json:"title"`
	Artist      string    `json:"artist"`
	Playing     bool      `json:"playing"`
	Progress    float64   `json:"progress"`
	State       string    `json:"state"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (w WidgetState) Stale(now time.Time) bool {
	return now.Sub(w.UpdatedAt) > StaleAfter
}

// StateFromSnapshot builds the widget view of a coordinator snapshot.
func StateFromSnapshot(s coordinator.Snapshot, now time.Time) WidgetState {
	w := WidgetState{
		CurrentLine: s.Line,
		NextLine:    s.NextLine,
		Translation: s.Translation,
		Playing:     s.Playing,
		Progress:    s.Progress,
		State:       s.State.String(),
		UpdatedAt:   now,
	}
	if s.Track != nil {
		w.Title = s.Track.Title
		w.Artist = s.Track.Artist
	}
	return w
}
