package app

import (
	"sort"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

type rosterEntry struct {
	meta  *domain.Participant
	video core.RemoteTrack
}

// Roster is the set of remote participants shown to the view.
// Not safe for concurrent use; the owning session serializes access.
type Roster struct {
	policy UnpublishPolicy
	byUID  map[domain.UID]*rosterEntry
}

func NewRoster(policy UnpublishPolicy) *Roster {
	return &Roster{
		policy: policy,
		byUID:  make(map[domain.UID]*rosterEntry),
	}
}

func (r *Roster) Len() int { return len(r.byUID) }

func (r *Roster) Has(uid domain.UID) bool {
	_, ok := r.byUID[uid]
	return ok
}

// PutVideo inserts or updates the entry for uid with a video track and
// returns the track it replaced, if any.
func (r *Roster) PutVideo(uid domain.UID, track core.RemoteTrack) core.RemoteTrack {
	e, ok := r.byUID[uid]
	if !ok {
		e = &rosterEntry{meta: domain.NewParticipant(uid)}
		r.byUID[uid] = e
	}
	old := e.video
	e.video = track
	e.meta.Add(domain.KindVideo)
	return old
}

// MarkKind records kind on an existing entry. It never creates one.
func (r *Roster) MarkKind(uid domain.UID, kind domain.MediaKind) {
	if e, ok := r.byUID[uid]; ok {
		e.meta.Add(kind)
	}
}

// Unpublish applies the policy and returns a video track that is no longer
// displayed, plus whether the participant left the roster.
func (r *Roster) Unpublish(uid domain.UID, kind domain.MediaKind) (core.RemoteTrack, bool) {
	e, ok := r.byUID[uid]
	if !ok {
		return nil, false
	}
	switch r.policy.OnUnpublish(e.meta, kind) {
	case RemoveParticipant:
		delete(r.byUID, uid)
		return e.video, true
	case DropKind:
		e.meta.Drop(kind)
		if kind == domain.KindVideo {
			t := e.video
			e.video = nil
			return t, false
		}
	case Keep:
	}
	return nil, false
}

// Clear empties the roster and returns every video track it held.
func (r *Roster) Clear() []core.RemoteTrack {
	out := make([]core.RemoteTrack, 0, len(r.byUID))
	for _, e := range r.byUID {
		if e.video != nil {
			out = append(out, e.video)
		}
	}
	r.byUID = make(map[domain.UID]*rosterEntry)
	return out
}

func (r *Roster) Snapshot() []ParticipantDTO {
	out := make([]ParticipantDTO, 0, len(r.byUID))
	for uid, e := range r.byUID {
		out = append(out, ParticipantDTO{UID: uid, Kinds: e.meta.KindList()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}
