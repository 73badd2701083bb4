//go:build linux

package rtc

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Call/internal/domain"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrNoDeviceTrack = errors.New("device returned no track")

// capturer opens camera and microphone through mediadevices (V4L2 and
// malgo) and encodes them with VP8 and Opus.
type capturer struct {
	selector *mediadevices.CodecSelector
}

func newCapturer() (*capturer, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &capturer{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

func (c *capturer) available() bool { return true }

func (c *capturer) populate(me *webrtc.MediaEngine) error {
	c.selector.Populate(me)
	return nil
}

func (c *capturer) microphone(ctx context.Context) (*localTrack, error) {
	constraints := mediadevices.MediaStreamConstraints{
		Codec: c.selector,
		Audio: func(*mediadevices.MediaTrackConstraints) {},
	}
	return c.open(ctx, domain.KindAudio, constraints)
}

func (c *capturer) camera(ctx context.Context) (*localTrack, error) {
	constraints := mediadevices.MediaStreamConstraints{
		Codec: c.selector,
		Video: func(mc *mediadevices.MediaTrackConstraints) {
			// MJPEG nodes on some cameras poison the VP8 encoder
			mc.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			mc.Width = prop.IntRanged{Max: 640}
			mc.Height = prop.IntRanged{Max: 480}
		},
	}
	return c.open(ctx, domain.KindVideo, constraints)
}

func (c *capturer) open(ctx context.Context, kind domain.MediaKind, constraints mediadevices.MediaStreamConstraints) (*localTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, fmt.Errorf("get user media (%s): %w", kind, err)
	}
	tracks := stream.GetTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoDeviceTrack, kind)
	}
	for _, extra := range tracks[1:] {
		_ = extra.Close()
	}

	track := tracks[0]
	track.OnEnded(func(err error) {
		if err != nil {
			log.Warn().Err(err).Str("module", "rtc.capture").Str("kind", string(kind)).Msg("local track ended")
		}
	})
	log.Info().Str("module", "rtc.capture").Str("kind", string(kind)).Str("track_id", track.ID()).Msg("device opened")
	return newLocalTrack(track, kind, track.Close), nil
}
