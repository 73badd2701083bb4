package rtc

import (
	"sync"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// trackSource is what a room client needs from a local track to send it.
type trackSource interface {
	TrackLocal() webrtc.TrackLocal
}

// localTrack is a captured device stream.
type localTrack struct {
	track   webrtc.TrackLocal
	kind    domain.MediaKind
	release func() error

	once sync.Once
	err  error
}

var (
	_ core.LocalTrack = (*localTrack)(nil)
	_ trackSource     = (*localTrack)(nil)
)

func newLocalTrack(track webrtc.TrackLocal, kind domain.MediaKind, release func() error) *localTrack {
	return &localTrack{track: track, kind: kind, release: release}
}

func (t *localTrack) ID() string                    { return t.track.ID() }
func (t *localTrack) Kind() domain.MediaKind        { return t.kind }
func (t *localTrack) TrackLocal() webrtc.TrackLocal { return t.track }

// Close releases the device once.
func (t *localTrack) Close() error {
	t.once.Do(func() {
		if t.release != nil {
			t.err = t.release()
		}
		log.Info().Str("module", "rtc").Str("track_id", t.track.ID()).Str("kind", string(t.kind)).Msg("local track closed")
	})
	return t.err
}
