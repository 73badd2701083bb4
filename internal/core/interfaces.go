package core

import (
	"context"
	"errors"

	"github.com/dkeye/Call/internal/domain"
)

// ErrMissingToken is returned when the token service answered without a token.
var ErrMissingToken = errors.New("token missing from response")

// TokenProvider exchanges a session config for a short lived join credential.
// Credentials are fetched per attempt; implementations must not cache them.
type TokenProvider interface {
	FetchToken(ctx context.Context, cfg domain.SessionConfig) (domain.JoinCredential, error)
}

// ClientConfig is handed to the engine when a room client is created.
type ClientConfig struct {
	Mode  string
	Codec string
}

// DefaultClientConfig is what the call forms always used.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{Mode: "rtc", Codec: "vp8"}
}

// RemoteUser identifies the publisher of a remote event.
type RemoteUser struct {
	UID domain.UID `json:"uid"`
}

// UserHandler receives user-published and user-unpublished events.
type UserHandler func(user RemoteUser, kind domain.MediaKind)

// Engine is the RTC capability the call session drives. It owns codecs,
// transport and device capture; the session only sequences calls into it.
type Engine interface {
	CreateClient(cfg ClientConfig) (RtcClient, error)
	CreateMicrophoneTrack(ctx context.Context) (LocalTrack, error)
	CreateCameraTrack(ctx context.Context) (LocalTrack, error)
}

// RtcClient is one room connection.
type RtcClient interface {
	Join(ctx context.Context, appID string, channel domain.ChannelName, token string, uid domain.UID) error
	Publish(ctx context.Context, tracks ...LocalTrack) error
	Subscribe(ctx context.Context, user RemoteUser, kind domain.MediaKind) (RemoteTrack, error)
	// OnUserPublished registers fn and returns a func that unregisters it.
	OnUserPublished(fn UserHandler) func()
	OnUserUnpublished(fn UserHandler) func()
	Leave(ctx context.Context) error
}
