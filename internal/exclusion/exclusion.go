package exclusion

import (
	"strings"

	"github.com/rs/zerolog/log"

	"lyricsync/internal/lyrics"
	"lyricsync/pkg/kvfile"
)

// List is the user-maintained set of tracks and albums that must never be
// looked up remotely.
type List struct {
	store *kvfile.Store
}

func Open(path string) (*List, error) {
	store, err := kvfile.Open(path)
	if err != nil {
		return nil, err
	}
	return &List{store: store}, nil
}

func trackKey(t *lyrics.Track) string {
	if t.ID == "" {
		return ""
	}
	return "track:" + t.ID
}

func albumKey(t *lyrics.Track) string {
	album := strings.ToLower(strings.TrimSpace(t.Album))
	if album == "" {
		return ""
	}
	return "album:" + album
}

// Excluded reports whether the track or its album is on the list.
func (l *List) Excluded(t *lyrics.Track) bool {
	if t == nil {
		return false
	}
	if k := trackKey(t); k != "" && l.store.Has(k) {
		return true
	}
	if k := albumKey(t); k != "" && l.store.Has(k) {
		return true
	}
	return false
}

func (l *List) AddTrack(t *lyrics.Track) error {
	k := trackKey(t)
	if k == "" {
		return nil
	}
	return l.store.Put(k, t.Artist+" - "+t.Title)
}

func (l *List) AddAlbum(t *lyrics.Track) error {
	k := albumKey(t)
	if k == "" {
		return nil
	}
	return l.store.Put(k, t.Album)
}

// Remove drops both the track and its album from the list.
func (l *List) Remove(t *lyrics.Track) error {
	for _, k := range []string{trackKey(t), albumKey(t)} {
		if k == "" {
			continue
		}
		removed, err := l.store.Delete(k)
		if err != nil {
			return err
		}
		if removed {
			log.Info().Str("key", k).Msg("Removed from exclusion list")
		}
	}
	return nil
}
