package rtc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrTrackStopped = errors.New("track stopped")

type rtpSource interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// rtpSink renders packets of one remote track.
type rtpSink interface {
	WriteRTP(pkt *rtp.Packet) error
	Close() error
}

type discardSink struct{}

func (discardSink) WriteRTP(*rtp.Packet) error { return nil }
func (discardSink) Close() error               { return nil }

// remoteTrack plays a subscribed remote stream into its sink.
type remoteTrack struct {
	uid      domain.UID
	kind     domain.MediaKind
	src      rtpSource
	openSink func() (rtpSink, error)
	// onPlay runs once playback starts, e.g. to ask for a keyframe.
	onPlay func()
	// after is closed when the previous reader of src is gone.
	after  <-chan struct{}
	logger zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
	done    chan struct{}

	packets atomic.Uint64
}

var _ core.RemoteTrack = (*remoteTrack)(nil)

func newRemoteTrack(uid domain.UID, kind domain.MediaKind, src *webrtc.TrackRemote, recordDir string) *remoteTrack {
	t := &remoteTrack{
		uid:  uid,
		kind: kind,
		src:  src,
		logger: log.With().
			Str("module", "rtc.player").
			Uint32("uid", uint32(uid)).
			Str("kind", string(kind)).
			Logger(),
	}
	mime := src.Codec().MimeType
	t.openSink = func() (rtpSink, error) { return openRecorder(recordDir, uid, kind, mime) }
	return t
}

func (t *remoteTrack) UID() domain.UID        { return t.uid }
func (t *remoteTrack) Kind() domain.MediaKind { return t.kind }

// Play starts the read loop. Playing twice is a no-op.
func (t *remoteTrack) Play() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return ErrTrackStopped
	}
	if t.cancel != nil {
		return nil
	}
	sink, err := t.openSink()
	if err != nil {
		return fmt.Errorf("open sink: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.loop(ctx, sink)
	if t.onPlay != nil {
		go t.onPlay()
	}
	t.logger.Info().Msg("playing")
	return nil
}

// Stop ends playback. The loop exits at the next packet or when the
// peer connection closes the track.
func (t *remoteTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	if t.cancel != nil {
		t.cancel()
	}
	t.logger.Info().Uint64("packets", t.packets.Load()).Msg("stopped")
}

func (t *remoteTrack) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// ended is closed once the read loop has returned. Nil if it never ran.
func (t *remoteTrack) ended() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

func (t *remoteTrack) loop(ctx context.Context, sink rtpSink) {
	defer close(t.done)
	defer func() {
		if err := sink.Close(); err != nil {
			t.logger.Warn().Err(err).Msg("sink close")
		}
	}()
	if t.after != nil {
		select {
		case <-t.after:
		case <-ctx.Done():
			return
		}
	}
	for {
		select {
		case <-ctx.Done():
			t.logger.Debug().Msg("player ctx done")
			return
		default:
		}
		pkt, _, err := t.src.ReadRTP()
		if err != nil {
			t.logger.Info().Err(err).Msg("read RTP ended, stopping")
			return
		}
		t.packets.Add(1)
		if err := sink.WriteRTP(pkt); err != nil {
			t.logger.Error().Err(err).Msg("sink write error, stopping")
			return
		}
	}
}

// openRecorder picks a container for the codec. Without a record dir, or
// for codecs with no container, packets are read and dropped.
func openRecorder(dir string, uid domain.UID, kind domain.MediaKind, mime string) (rtpSink, error) {
	if dir == "" {
		return discardSink{}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	base := filepath.Join(dir, fmt.Sprintf("%d-%s-%d", uid, kind, time.Now().UnixNano()))
	switch {
	case strings.EqualFold(mime, webrtc.MimeTypeOpus):
		return oggwriter.New(base+".ogg", 48000, 2)
	case strings.EqualFold(mime, webrtc.MimeTypeVP8), strings.EqualFold(mime, webrtc.MimeTypeVP9):
		return ivfwriter.New(base+".ivf", ivfwriter.WithCodec(mime))
	default:
		log.Warn().Str("module", "rtc.player").Str("mime", mime).Msg("no recorder for codec, discarding")
		return discardSink{}, nil
	}
}
