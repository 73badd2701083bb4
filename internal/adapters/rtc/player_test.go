package rtc

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// fakeSource yields n packets and then io.EOF.
type fakeSource struct {
	mu sync.Mutex
	n  int
}

func (s *fakeSource) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.n == 0 {
		return nil, nil, io.EOF
	}
	s.n--
	return &rtp.Packet{Header: rtp.Header{SequenceNumber: uint16(s.n)}}, nil, nil
}

type countingSink struct {
	mu      sync.Mutex
	written int
	closed  chan struct{}
}

func newCountingSink() *countingSink { return &countingSink{closed: make(chan struct{})} }

func (s *countingSink) WriteRTP(*rtp.Packet) error {
	s.mu.Lock()
	s.written++
	s.mu.Unlock()
	return nil
}

func (s *countingSink) Close() error {
	close(s.closed)
	return nil
}

func newTestTrack(src rtpSource, sink rtpSink) *remoteTrack {
	return &remoteTrack{
		uid:      7,
		kind:     domain.KindAudio,
		src:      src,
		openSink: func() (rtpSink, error) { return sink, nil },
		logger:   log.Logger,
	}
}

func TestRemoteTrackPlaysUntilSourceEnds(t *testing.T) {
	sink := newCountingSink()
	track := newTestTrack(&fakeSource{n: 5}, sink)

	if err := track.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	select {
	case <-sink.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("sink was not closed after source ended")
	}
	if sink.written != 5 {
		t.Errorf("written = %d, want 5", sink.written)
	}
	if track.packets.Load() != 5 {
		t.Errorf("packets = %d, want 5", track.packets.Load())
	}
}

func TestRemoteTrackPlayTwiceOpensOneSink(t *testing.T) {
	opened := 0
	sink := newCountingSink()
	track := newTestTrack(&fakeSource{n: 1}, sink)
	track.openSink = func() (rtpSink, error) {
		opened++
		return sink, nil
	}

	if err := track.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if err := track.Play(); err != nil {
		t.Fatalf("second Play: %v", err)
	}
	if opened != 1 {
		t.Errorf("sinks opened = %d, want 1", opened)
	}
	<-sink.closed
}

func TestRemoteTrackStop(t *testing.T) {
	track := newTestTrack(&fakeSource{}, discardSink{})

	track.Stop()
	track.Stop()
	if err := track.Play(); !errors.Is(err, ErrTrackStopped) {
		t.Errorf("Play after Stop = %v, want ErrTrackStopped", err)
	}
}

func TestRemoteTrackOnPlay(t *testing.T) {
	called := make(chan struct{})
	track := newTestTrack(&fakeSource{}, discardSink{})
	track.onPlay = func() { close(called) }

	if err := track.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("onPlay was not called")
	}
}

func TestOpenRecorder(t *testing.T) {
	sink, err := openRecorder("", 1, domain.KindAudio, webrtc.MimeTypeOpus)
	if err != nil {
		t.Fatalf("openRecorder: %v", err)
	}
	if _, ok := sink.(discardSink); !ok {
		t.Errorf("no record dir should discard, got %T", sink)
	}

	dir := t.TempDir()
	tests := []struct {
		kind domain.MediaKind
		mime string
		ext  string
	}{
		{domain.KindAudio, webrtc.MimeTypeOpus, ".ogg"},
		{domain.KindVideo, webrtc.MimeTypeVP8, ".ivf"},
	}
	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			sink, err := openRecorder(dir, 9, tt.kind, tt.mime)
			if err != nil {
				t.Fatalf("openRecorder: %v", err)
			}
			if err := sink.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
			matches, _ := filepath.Glob(filepath.Join(dir, "9-"+string(tt.kind)+"-*"+tt.ext))
			if len(matches) != 1 {
				t.Fatalf("recordings = %v", matches)
			}
			if fi, err := os.Stat(matches[0]); err != nil || fi.Size() == 0 {
				t.Errorf("recording not written: %v", err)
			}
		})
	}

	sink, err = openRecorder(dir, 9, domain.KindVideo, webrtc.MimeTypeH264)
	if err != nil {
		t.Fatalf("openRecorder: %v", err)
	}
	if _, ok := sink.(discardSink); !ok {
		t.Errorf("h264 should discard, got %T", sink)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 2 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("unexpected files: %s", strings.Join(names, ","))
	}
}

// chanSource blocks until a packet is fed or the channel is closed.
type chanSource struct{ ch chan *rtp.Packet }

func (s *chanSource) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	pkt, ok := <-s.ch
	if !ok {
		return nil, nil, io.EOF
	}
	return pkt, nil, nil
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

func TestRemoteTrackWaitsForPreviousReader(t *testing.T) {
	src := &chanSource{ch: make(chan *rtp.Packet)}
	oldSink, newSink := newCountingSink(), newCountingSink()
	old := newTestTrack(src, oldSink)
	if err := old.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	src.ch <- &rtp.Packet{}

	next := newTestTrack(src, newSink)
	next.after = old.ended()
	if err := next.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	old.Stop()

	// the stopped reader still owns the blocked read
	src.ch <- &rtp.Packet{}
	select {
	case <-oldSink.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("old reader did not exit")
	}
	src.ch <- &rtp.Packet{}
	src.ch <- &rtp.Packet{}
	close(src.ch)
	<-newSink.closed

	if got := oldSink.count(); got != 2 {
		t.Errorf("old sink written = %d, want 2", got)
	}
	if got := newSink.count(); got != 2 {
		t.Errorf("new sink written = %d, want 2", got)
	}
}

func TestAdoptPlayerKeepsOneReader(t *testing.T) {
	c := newClient(&Engine{}, core.DefaultClientConfig())
	key := trackKey{uid: 7, kind: domain.KindAudio}
	src := &fakeSource{}
	build := func() *remoteTrack { return newTestTrack(src, discardSink{}) }

	first := c.adoptPlayer(key, src, build)
	if again := c.adoptPlayer(key, src, build); again != first {
		t.Error("live player was not reused")
	}

	if err := first.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	first.Stop()
	second := c.adoptPlayer(key, src, build)
	if second == first {
		t.Fatal("stopped player was reused")
	}
	if second.after == nil || second.after != first.ended() {
		t.Error("new player does not wait for the stopped one")
	}

	other := c.adoptPlayer(key, &fakeSource{}, build)
	if other.after != nil {
		t.Error("player of a different source waits on an unrelated reader")
	}
}
