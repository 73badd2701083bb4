//go:build !linux

package rtc

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

// ErrCaptureUnsupported is returned on platforms without mediadevices drivers.
var ErrCaptureUnsupported = errors.New("device capture is not supported on this platform")

type capturer struct{}

func newCapturer() (*capturer, error) { return &capturer{}, nil }

func (c *capturer) available() bool { return false }

func (c *capturer) populate(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}

func (c *capturer) microphone(context.Context) (*localTrack, error) {
	return nil, ErrCaptureUnsupported
}

func (c *capturer) camera(context.Context) (*localTrack, error) {
	return nil, ErrCaptureUnsupported
}
