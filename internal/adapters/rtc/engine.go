// Package rtc is the pion backed RTC engine: a websocket signaled room
// client, local device capture and remote track playback.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/Call/internal/core"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnsupportedMode  = errors.New("unsupported client mode")
	ErrUnsupportedCodec = errors.New("unsupported codec")
)

type Config struct {
	// SignalURL is the ws:// or wss:// endpoint of the room server.
	SignalURL  string
	ICEServers []string
	// RecordDir, when set, receives ogg/ivf files of played remote tracks.
	RecordDir     string
	DialTimeout   time.Duration
	ReplyTimeout  time.Duration
	ReadLimit     int64
	PingPeriod    time.Duration
	SendQueueSize int
}

func (c Config) withDefaults() Config {
	if len(c.ICEServers) == 0 {
		c.ICEServers = []string{"stun:stun.l.google.com:19302"}
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = 15 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = 30 * time.Second
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 64
	}
	return c
}

// Engine builds room clients that share one pion API.
type Engine struct {
	cfg       Config
	api       *webrtc.API
	rtcConfig webrtc.Configuration
	capture   *capturer
}

var _ core.Engine = (*Engine)(nil)

func NewEngine(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()

	capture, err := newCapturer()
	if err != nil {
		return nil, fmt.Errorf("capture init: %w", err)
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := capture.populate(mediaEngine); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: zerologFactory{}}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	log.Info().
		Str("module", "rtc").
		Str("signal_url", cfg.SignalURL).
		Strs("ice_servers", cfg.ICEServers).
		Bool("capture", capture.available()).
		Msg("engine ready")

	return &Engine{
		cfg: cfg,
		api: api,
		rtcConfig: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: cfg.ICEServers}},
		},
		capture: capture,
	}, nil
}

// CreateClient returns an unjoined room client.
func (e *Engine) CreateClient(cfg core.ClientConfig) (core.RtcClient, error) {
	switch strings.ToLower(cfg.Mode) {
	case "rtc", "live":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, cfg.Mode)
	}
	switch strings.ToLower(cfg.Codec) {
	case "vp8", "vp9", "h264":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, cfg.Codec)
	}
	return newClient(e, cfg), nil
}

func (e *Engine) CreateMicrophoneTrack(ctx context.Context) (core.LocalTrack, error) {
	t, err := e.capture.microphone(ctx)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (e *Engine) CreateCameraTrack(ctx context.Context) (core.LocalTrack, error) {
	t, err := e.capture.camera(ctx)
	if err != nil {
		return nil, err
	}
	return t, nil
}
