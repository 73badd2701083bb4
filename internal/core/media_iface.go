package core

import "github.com/dkeye/Call/internal/domain"

// LocalTrack is a locally captured stream owned by the call session.
// Close releases the capture device.
type LocalTrack interface {
	ID() string
	Kind() domain.MediaKind
	Close() error
}

// RemoteTrack is a subscribed remote stream. Play starts rendering
// (audio out, video sink); Stop ends it. Both are safe to call twice.
type RemoteTrack interface {
	UID() domain.UID
	Kind() domain.MediaKind
	Play() error
	Stop()
}
