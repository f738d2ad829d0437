package lyrics

import (
	"sort"
	"time"
)

// Track is the player's view of the currently playing item. It is never
// mutated after it is received.
type Track struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Artist   string        `json:"artist"`
	Album    string        `json:"album,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	// Path is the local audio file, when the player exposes one.
	Path string `json:"path,omitempty"`
}

// Timetag marks word-level progress inside a line: at Time seconds after the
// line starts, the first Index runes of the line have been sung.
type Timetag struct {
	Index int     `json:"index"`
	Time  float64 `json:"time"`
}

// Line is one timed lyrics line. Position is in seconds from the start of the
// track, before the document offset is applied.
type Line struct {
	Position    float64   `json:"position"`
	Text        string    `json:"text"`
	Translation string    `json:"translation,omitempty"`
	Timetags    []Timetag `json:"timetags,omitempty"`
}

// Metadata describes where a document came from and how it should be used.
type Metadata struct {
	Title    string  `json:"title,omitempty"`
	Artist   string  `json:"artist,omitempty"`
	Album    string  `json:"album,omitempty"`
	Duration float64 `json:"duration,omitempty"`

	Quality             float64 `json:"quality"`
	Matched             bool    `json:"matched"`
	Source              string  `json:"source,omitempty"`
	Language            string  `json:"language,omitempty"`
	TranslationLanguage string  `json:"translation_language,omitempty"`

	// Offset is added to the raw player position before line lookup.
	Offset       float64 `json:"offset"`
	NeedsPersist bool    `json:"-"`
	SearchID     uint64  `json:"search_id,omitempty"`
}

// Document is an ordered set of lines plus metadata. Lines are kept
// non-decreasing by Position; equal positions keep their original order.
type Document struct {
	Lines []Line   `json:"lines"`
	Meta  Metadata `json:"meta"`
}

// SearchRequest is what the coordinator hands to the search collaborator.
// ID is the generation the request belongs to.
type SearchRequest struct {
	ID       uint64
	TraceID  string
	Title    string
	Artist   string
	Album    string
	Duration time.Duration
	Limit    int
	IssuedAt time.Time
}

// Len returns the number of lines, tolerating a nil document.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Lines)
}

// Sort restores the position ordering after lines were appended out of order.
func (d *Document) Sort() {
	sort.SliceStable(d.Lines, func(i, j int) bool { return d.Lines[i].Position < d.Lines[j].Position })
}

// IndexAt returns the index of the line active at the given offset-adjusted
// position, or -1 when the position precedes the first line. Among lines that
// share a position the last one wins.
func (d *Document) IndexAt(adjusted float64) int {
	if d.Len() == 0 || adjusted < d.Lines[0].Position {
		return -1
	}

	left, right := 0, len(d.Lines)-1
	result := -1
	for left <= right {
		mid := (left + right) / 2
		if d.Lines[mid].Position <= adjusted {
			result = mid
			left = mid + 1
		} else {
			right = mid - 1
		}
	}
	return result
}

// LineAt returns the line at index i.
func (d *Document) LineAt(i int) (Line, bool) {
	if i < 0 || i >= d.Len() {
		return Line{}, false
	}
	return d.Lines[i], true
}

// HasTimetags reports whether any line carries word-level timing.
func (d *Document) HasTimetags() bool {
	for _, l := range d.Lines {
		if len(l.Timetags) > 0 {
			return true
		}
	}
	return false
}

// HasTranslation reports whether any line carries a translation.
func (d *Document) HasTranslation() bool {
	for _, l := range d.Lines {
		if l.Translation != "" {
			return true
		}
	}
	return false
}

// Clone returns a deep copy, so a published document can be handed to other
// goroutines while the coordinator keeps mutating its own copy.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{Meta: d.Meta, Lines: make([]Line, len(d.Lines))}
	for i, l := range d.Lines {
		out.Lines[i] = l
		if l.Timetags != nil {
			out.Lines[i].Timetags = append([]Timetag(nil), l.Timetags...)
		}
	}
	return out
}

// AttachTrack copies track metadata onto the document.
func (d *Document) AttachTrack(t *Track) {
	if t == nil {
		return
	}
	d.Meta.Title = t.Title
	d.Meta.Artist = t.Artist
	d.Meta.Album = t.Album
	if t.Duration > 0 {
		d.Meta.Duration = t.Duration.Seconds()
	}
}
