package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"lyricsync/internal/lyrics"
	"lyricsync/pkg/fileutil"
)

const (
	RichExt  = ".lrcx"
	PlainExt = ".lrc"
)

// Candidate is one local file that may hold lyrics for a track.
type Candidate struct {
	Path string
	// Provisional results are published but do not stop the remote search.
	Provisional bool
}

// Store is the filesystem side of lyrics persistence: sidecar files next to
// the audio and the app-managed storage directory.
type Store struct {
	dir    string
	parser lyrics.Parser
	logger zerolog.Logger
}

func New(dir string, parser lyrics.Parser) *Store {
	if parser == nil {
		parser = lyrics.LRCParser{}
	}
	return &Store{
		dir:    dir,
		parser: parser,
		logger: log.With().Str("component", "storage").Logger(),
	}
}

var unsafeName = strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_")

// FileName is the storage file stem for a track, "title - artist".
func FileName(t *lyrics.Track) string {
	name := strings.TrimSpace(t.Title) + " - " + strings.TrimSpace(t.Artist)
	name = unsafeName.Replace(name)
	return strings.Trim(name, ". ")
}

// Candidates lists the local files to try, in order.
func (s *Store) Candidates(t *lyrics.Track) []Candidate {
	var out []Candidate
	if t.Path != "" {
		stem := strings.TrimSuffix(t.Path, filepath.Ext(t.Path))
		out = append(out,
			Candidate{Path: stem + RichExt},
			Candidate{Path: stem + PlainExt},
		)
	}
	if s.dir != "" && (t.Title != "" || t.Artist != "") {
		stem := filepath.Join(s.dir, FileName(t))
		out = append(out,
			Candidate{Path: stem + RichExt},
			Candidate{Path: stem + PlainExt, Provisional: true},
		)
	}
	return out
}

// Lookup returns the first candidate that reads and parses. Unreadable or
// malformed files are skipped.
func (s *Store) Lookup(t *lyrics.Track) (doc *lyrics.Document, provisional bool, ok bool) {
	for _, c := range s.Candidates(t) {
		content, err := os.ReadFile(c.Path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				s.logger.Warn().Err(err).Str("path", c.Path).Msg("Failed to read local lyrics")
			}
			continue
		}
		doc, err := s.parser.Parse(string(content))
		if err != nil {
			s.logger.Warn().Err(err).Str("path", c.Path).Msg("Skipping malformed local lyrics")
			continue
		}
		doc.Meta.Source = "local"
		s.logger.Info().Str("path", c.Path).Bool("provisional", c.Provisional).Msg("Found local lyrics")
		return doc, c.Provisional, true
	}
	return nil, false, false
}

// PathFor is where Flush writes the document for t.
func (s *Store) PathFor(t *lyrics.Track) string {
	return filepath.Join(s.dir, FileName(t)+RichExt)
}

// Flush writes doc as LRCX into the storage directory. Failures are logged
// here and returned for callers that care; nothing retries them.
func (s *Store) Flush(t *lyrics.Track, doc *lyrics.Document) error {
	if s.dir == "" || t == nil || doc == nil {
		return nil
	}
	path := s.PathFor(t)
	if err := fileutil.WriteFileAtomic(path, []byte(lyrics.FormatLRCX(doc)), 0644); err != nil {
		s.logger.Error().Err(err).Str("path", path).Msg("Failed to persist lyrics")
		return err
	}
	s.logger.Info().Str("path", path).Int("lines", doc.Len()).Msg("Lyrics persisted")
	return nil
}
