package app

import "github.com/dkeye/Call/internal/domain"

// ParticipantDTO is a read-only roster entry for views (no track handles).
type ParticipantDTO struct {
	UID   domain.UID         `json:"uid"`
	Kinds []domain.MediaKind `json:"kinds"`
}

// Snapshot is what a view renders.
type Snapshot struct {
	Status       domain.Status      `json:"status"`
	Message      string             `json:"message,omitempty"`
	Variant      domain.Variant     `json:"variant"`
	Channel      domain.ChannelName `json:"channel_name,omitempty"`
	UID          domain.UID         `json:"uid"`
	Role         domain.Role        `json:"role"`
	LocalTracks  []domain.MediaKind `json:"local_tracks"`
	Participants []ParticipantDTO   `json:"participants"`
}

// IdleSnapshot is what a view without a session sees.
func IdleSnapshot(v domain.Variant) Snapshot {
	return Snapshot{
		Status:       domain.StatusIdle,
		Variant:      v,
		LocalTracks:  []domain.MediaKind{},
		Participants: []ParticipantDTO{},
	}
}
