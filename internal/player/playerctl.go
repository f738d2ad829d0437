package player

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"lyricsync/internal/lyrics"
)

const (
	followFormat     = "{{status}}\t{{mpris:trackid}}\t{{artist}}\t{{title}}\t{{album}}\t{{mpris:length}}\t{{xesam:url}}\t{{position}}"
	pollInterval     = 2 * time.Second
	restartBackoff   = 2 * time.Second
	followFieldCount = 8
)

// Playerctl follows the player through the playerctl CLI. Metadata and
// status arrive through --follow; the position is polled.
type Playerctl struct {
	player string
	logger zerolog.Logger

	mu      sync.Mutex
	trackID string
	playing bool
}

func NewPlayerctl(player string) *Playerctl {
	return &Playerctl{
		player: strings.TrimPrefix(player, mprisPrefix),
		logger: log.With().Str("component", "playerctl").Logger(),
	}
}

func (p *Playerctl) Name() string {
	return "playerctl"
}

func (p *Playerctl) args(args ...string) []string {
	if p.player != "" {
		return append([]string{"--player=" + p.player}, args...)
	}
	return args
}

func (p *Playerctl) Run(ctx context.Context, events chan<- Event) error {
	if _, err := exec.LookPath("playerctl"); err != nil {
		return fmt.Errorf("%w: %v", lyrics.ErrPlayerUnavailable, err)
	}

	go p.pollPosition(ctx, events)

	for {
		err := p.follow(ctx, events)
		if ctx.Err() != nil {
			return nil
		}
		p.logger.Warn().Err(err).Msg("playerctl exited, restarting")
		select {
		case <-time.After(restartBackoff):
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *Playerctl) follow(ctx context.Context, events chan<- Event) error {
	cmd := exec.CommandContext(ctx, "playerctl", p.args("--follow", "metadata", "--format", followFormat)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	var last *lyrics.Track
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		at := time.Now()
		track, playing, pos, err := parseFollowLine(scanner.Text())
		if err != nil {
			p.logger.Debug().Err(err).Msg("Skipping playerctl line")
			continue
		}

		p.mu.Lock()
		changed := !sameTrack(last, track)
		statusChanged := playing != p.playing
		p.playing = playing
		if track != nil {
			p.trackID = track.ID
		} else {
			p.trackID = ""
		}
		p.mu.Unlock()

		if changed {
			last = track
			if !send(ctx, events, Event{Kind: TrackChanged, Track: track}) {
				break
			}
		}
		if track != nil && (changed || statusChanged) {
			send(ctx, events, Event{Kind: PlaybackChanged, TrackID: track.ID, Playing: playing, Position: pos, At: at})
		}
	}
	if err := scanner.Err(); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to read playerctl output")
	}
	return cmd.Wait()
}

func (p *Playerctl) pollPosition(ctx context.Context, events chan<- Event) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		p.mu.Lock()
		id, playing := p.trackID, p.playing
		p.mu.Unlock()
		if id == "" || !playing {
			continue
		}

		pos, err := p.currentPlayTime(ctx)
		if err != nil {
			continue
		}
		send(ctx, events, Event{Kind: Position, TrackID: id, Position: pos, At: time.Now()})
	}
}

func (p *Playerctl) currentPlayTime(ctx context.Context) (float64, error) {
	out, err := exec.CommandContext(ctx, "playerctl", p.args("position")...).Output()
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
}

// parseFollowLine reads one line of followFormat output. An empty line
// means no player is active.
func parseFollowLine(line string) (*lyrics.Track, bool, float64, error) {
	if strings.TrimSpace(line) == "" {
		return nil, false, 0, nil
	}
	fields := strings.Split(line, "\t")
	if len(fields) != followFieldCount {
		return nil, false, 0, fmt.Errorf("expected %d fields, got %d", followFieldCount, len(fields))
	}

	status, id, artist, title, album, length, rawURL, position := fields[0], fields[1], fields[2], fields[3], fields[4], fields[5], fields[6], fields[7]
	if title == "" {
		return nil, false, 0, errors.New("missing title")
	}

	t := &lyrics.Track{ID: id, Title: title, Artist: artist, Album: album, Path: localPath(rawURL)}
	if us, err := strconv.ParseInt(length, 10, 64); err == nil && us > 0 {
		t.Duration = time.Duration(us) * time.Microsecond
	}
	if t.ID == "" {
		t.ID = artist + " - " + title
	}

	var pos float64
	if us, err := strconv.ParseInt(position, 10, 64); err == nil {
		pos = micros(us)
	}
	return t, playing(status), pos, nil
}

func sameTrack(a, b *lyrics.Track) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID && a.Title == b.Title && a.Artist == b.Artist
}
