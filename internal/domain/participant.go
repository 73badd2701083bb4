package domain

import "sort"

// Participant is a remote channel member as seen by the roster.
// No transport or lifecycle logic here.
type Participant struct {
	ID    UID
	Kinds map[MediaKind]struct{}
}

func NewParticipant(id UID) *Participant {
	return &Participant{ID: id, Kinds: make(map[MediaKind]struct{}, 2)}
}

func (p *Participant) Has(kind MediaKind) bool {
	_, ok := p.Kinds[kind]
	return ok
}

func (p *Participant) Add(kind MediaKind)  { p.Kinds[kind] = struct{}{} }
func (p *Participant) Drop(kind MediaKind) { delete(p.Kinds, kind) }
func (p *Participant) Empty() bool         { return len(p.Kinds) == 0 }

// KindList returns the kinds in a stable order for display.
func (p *Participant) KindList() []MediaKind {
	out := make([]MediaKind, 0, len(p.Kinds))
	for k := range p.Kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
