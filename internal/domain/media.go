package domain

import (
	"errors"
	"strings"
)

var ErrUnknownVariant = errors.New("unknown call variant")

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// Variant selects which local media a publisher sends and which remote
// media is shown in the roster.
type Variant string

const (
	VariantAudio Variant = "audio"
	VariantVideo Variant = "video"
)

func ParseVariant(s string) (Variant, error) {
	switch Variant(strings.ToLower(strings.TrimSpace(s))) {
	case VariantVideo:
		return VariantVideo, nil
	case VariantAudio:
		return VariantAudio, nil
	}
	return "", ErrUnknownVariant
}

// PublishKinds lists the local tracks a publisher acquires, in order.
func (v Variant) PublishKinds() []MediaKind {
	if v == VariantVideo {
		return []MediaKind{KindAudio, KindVideo}
	}
	return []MediaKind{KindAudio}
}

// TrackedKind is the remote media kind that decides roster membership.
func (v Variant) TrackedKind() MediaKind {
	if v == VariantVideo {
		return KindVideo
	}
	return KindAudio
}
