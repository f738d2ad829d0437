package player

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"lyricsync/internal/lyrics"
)

const (
	mprisPrefix      = "org.mpris.MediaPlayer2."
	mprisPath        = "/org/mpris/MediaPlayer2"
	mprisPlayerIface = "org.mpris.MediaPlayer2.Player"
	propertiesIface  = "org.freedesktop.DBus.Properties"

	rescanInterval = 5 * time.Second
)

// MPRIS follows a player over the session bus. It reacts to
// PropertiesChanged and Seeked signals instead of polling.
type MPRIS struct {
	busName string
	logger  zerolog.Logger
}

// NewMPRIS watches busName, or the first MPRIS player found when empty.
func NewMPRIS(busName string) *MPRIS {
	return &MPRIS{
		busName: busName,
		logger:  log.With().Str("component", "mpris").Logger(),
	}
}

func (m *MPRIS) Name() string {
	return "mpris"
}

func (m *MPRIS) Run(ctx context.Context, events chan<- Event) error {
	bus, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("%w: failed to connect to session bus: %v", lyrics.ErrPlayerUnavailable, err)
	}
	defer bus.Close()

	if err := bus.AddMatchSignal(
		dbus.WithMatchObjectPath(mprisPath),
		dbus.WithMatchInterface(propertiesIface),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		return fmt.Errorf("failed to watch properties: %w", err)
	}
	if err := bus.AddMatchSignal(
		dbus.WithMatchObjectPath(mprisPath),
		dbus.WithMatchInterface(mprisPlayerIface),
		dbus.WithMatchMember("Seeked"),
	); err != nil {
		return fmt.Errorf("failed to watch seeks: %w", err)
	}

	signals := make(chan *dbus.Signal, 32)
	bus.Signal(signals)
	defer bus.RemoveSignal(signals)

	var service, owner, trackID string
	rescan := time.NewTicker(rescanInterval)
	defer rescan.Stop()

	attach := func() {
		name, err := m.findPlayer(bus)
		if err != nil {
			if service != "" {
				m.logger.Info().Str("service", service).Msg("Player went away")
				service, owner, trackID = "", "", ""
				send(ctx, events, Event{Kind: TrackChanged})
			}
			return
		}
		if name == service {
			return
		}
		var unique string
		if err := bus.BusObject().Call("org.freedesktop.DBus.GetNameOwner", 0, name).Store(&unique); err != nil {
			m.logger.Warn().Err(err).Str("service", name).Msg("Failed to resolve player owner")
			return
		}
		service, owner = name, unique
		m.logger.Info().Str("service", service).Msg("Attached to player")
		trackID = m.emitState(ctx, bus, service, events)
	}
	attach()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-rescan.C:
			attach()
		case sig, ok := <-signals:
			if !ok {
				return errors.New("session bus connection closed")
			}
			if service == "" || sig.Sender != owner {
				continue
			}
			switch sig.Name {
			case mprisPlayerIface + ".Seeked":
				if len(sig.Body) > 0 {
					if us, ok := sig.Body[0].(int64); ok {
						send(ctx, events, Event{Kind: Seeked, TrackID: trackID, Position: micros(us), At: time.Now()})
					}
				}
			case propertiesIface + ".PropertiesChanged":
				if len(sig.Body) < 2 {
					continue
				}
				if iface, _ := sig.Body[0].(string); iface != mprisPlayerIface {
					continue
				}
				changed, _ := sig.Body[1].(map[string]dbus.Variant)
				if _, ok := changed["Metadata"]; ok {
					trackID = m.emitState(ctx, bus, service, events)
					continue
				}
				if v, ok := changed["PlaybackStatus"]; ok {
					status, _ := v.Value().(string)
					pos, _ := position(bus, service)
					send(ctx, events, Event{Kind: PlaybackChanged, TrackID: trackID, Playing: playing(status), Position: pos, At: time.Now()})
				}
			}
		}
	}
}

// emitState reports the player's current track and playback state and
// returns the track id.
func (m *MPRIS) emitState(ctx context.Context, bus *dbus.Conn, service string, events chan<- Event) string {
	obj := bus.Object(service, mprisPath)
	prop, err := obj.GetProperty(mprisPlayerIface + ".Metadata")
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to get metadata property")
		return ""
	}
	metadata, _ := prop.Value().(map[string]dbus.Variant)
	track := trackFromMetadata(metadata)
	send(ctx, events, Event{Kind: TrackChanged, Track: track})
	if track == nil {
		return ""
	}

	var status string
	if v, err := obj.GetProperty(mprisPlayerIface + ".PlaybackStatus"); err == nil {
		status, _ = v.Value().(string)
	}
	pos, _ := position(bus, service)
	send(ctx, events, Event{Kind: PlaybackChanged, TrackID: track.ID, Playing: playing(status), Position: pos, At: time.Now()})
	return track.ID
}

func (m *MPRIS) findPlayer(bus *dbus.Conn) (string, error) {
	var names []string
	if err := bus.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return "", err
	}
	for _, name := range names {
		if !strings.HasPrefix(name, mprisPrefix) {
			continue
		}
		if m.busName == "" || name == m.busName || name == mprisPrefix+m.busName {
			return name, nil
		}
	}
	return "", lyrics.ErrPlayerUnavailable
}

func position(bus *dbus.Conn, service string) (float64, error) {
	prop, err := bus.Object(service, mprisPath).GetProperty(mprisPlayerIface + ".Position")
	if err != nil {
		return 0, fmt.Errorf("failed to get position property: %w", err)
	}
	us, ok := prop.Value().(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected position type %T", prop.Value())
	}
	return micros(us), nil
}

func micros(us int64) float64 {
	if us < 0 {
		return 0
	}
	return float64(us) / 1e6
}

func trackFromMetadata(metadata map[string]dbus.Variant) *lyrics.Track {
	t := &lyrics.Track{
		ID:     extractString(metadata, "mpris:trackid"),
		Title:  extractString(metadata, "xesam:title"),
		Artist: extractArtist(metadata, "xesam:artist"),
		Album:  extractString(metadata, "xesam:album"),
		Path:   localPath(extractString(metadata, "xesam:url")),
	}
	if us := extractInt(metadata, "mpris:length"); us > 0 {
		t.Duration = time.Duration(us) * time.Microsecond
	}
	if t.Title == "" {
		return nil
	}
	if t.ID == "" {
		t.ID = t.Artist + " - " + t.Title
	}
	return t
}

func extractString(metadata map[string]dbus.Variant, key string) string {
	variant, exists := metadata[key]
	if !exists {
		return ""
	}
	switch typed := variant.Value().(type) {
	case string:
		return typed
	case dbus.ObjectPath:
		return string(typed)
	default:
		return ""
	}
}

func extractArtist(metadata map[string]dbus.Variant, key string) string {
	variant, exists := metadata[key]
	if !exists {
		return ""
	}
	switch typed := variant.Value().(type) {
	case []string:
		if len(typed) > 0 {
			return typed[0]
		}
		return ""
	case string:
		return typed
	default:
		return ""
	}
}

func extractInt(metadata map[string]dbus.Variant, key string) int64 {
	variant, exists := metadata[key]
	if !exists {
		return 0
	}
	switch typed := variant.Value().(type) {
	case int64:
		return typed
	case uint64:
		return int64(typed)
	case int32:
		return int64(typed)
	default:
		return 0
	}
}
