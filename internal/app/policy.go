package app

import (
	"errors"
	"fmt"

	"github.com/dkeye/Call/internal/domain"
)

type UnpublishAction int

const (
	// Keep leaves the roster entry untouched.
	Keep UnpublishAction = iota
	// DropKind removes only the unpublished kind from the entry.
	DropKind
	// RemoveParticipant removes the whole entry.
	RemoveParticipant
)

// UnpublishPolicy is the single place that decides what a remote unpublish
// does to the roster.
type UnpublishPolicy interface {
	OnUnpublish(p *domain.Participant, kind domain.MediaKind) UnpublishAction
}

// TrackedKindPolicy removes a participant as soon as the kind the roster
// tracks is unpublished, even if other kinds are still live.
type TrackedKindPolicy struct {
	Kind domain.MediaKind
}

func (t TrackedKindPolicy) OnUnpublish(_ *domain.Participant, kind domain.MediaKind) UnpublishAction {
	if kind == t.Kind {
		return RemoveParticipant
	}
	return Keep
}

// PerKindPolicy drops kinds one at a time and removes the participant once
// nothing is left.
type PerKindPolicy struct{}

func (PerKindPolicy) OnUnpublish(p *domain.Participant, kind domain.MediaKind) UnpublishAction {
	if !p.Has(kind) {
		return Keep
	}
	if len(p.Kinds) == 1 {
		return RemoveParticipant
	}
	return DropKind
}

// DefaultPolicy keeps the behavior of the call forms for a variant.
func DefaultPolicy(v domain.Variant) UnpublishPolicy {
	return TrackedKindPolicy{Kind: v.TrackedKind()}
}

var ErrUnknownPolicy = errors.New("unknown unpublish policy")

// PolicyByName maps the configured policy name to a policy for v.
func PolicyByName(name string, v domain.Variant) (UnpublishPolicy, error) {
	switch name {
	case "", "tracked":
		return DefaultPolicy(v), nil
	case "per_kind":
		return PerKindPolicy{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
}
