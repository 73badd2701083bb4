package app

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
	"github.com/rs/zerolog/log"
)

// SessionFactory builds a fresh call session for a variant.
type SessionFactory func(variant domain.Variant) *CallSession

type sessionEntry struct {
	Session *CallSession
	ViewID  string
	Cancel  context.CancelFunc
	Touched time.Time
}

// detached reports whether the entry can go: no view attached and no call
// running or starting.
func (e *sessionEntry) detached() bool {
	if e.ViewID != "" {
		return false
	}
	if e.Session == nil {
		return true
	}
	st := e.Session.Status()
	return st == domain.StatusIdle || st == domain.StatusError
}

// Registry binds each view to its own call session. A view owns at most one
// session; replacing or unbinding it tears the old one down.
type Registry struct {
	factory SessionFactory
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry(factory SessionFactory) *Registry {
	return &Registry{
		factory:  factory,
		now:      time.Now,
		sessions: make(map[core.SessionID]*sessionEntry),
	}
}

// Bind returns the session of sid for variant. A session of another variant
// is torn down and replaced, like switching call tabs.
func (r *Registry) Bind(sid core.SessionID, variant domain.Variant) *CallSession {
	r.mu.Lock()
	entry, ok := r.sessions[sid]
	if ok && entry.Session != nil && entry.Session.Variant() == variant {
		entry.Touched = r.now()
		r.mu.Unlock()
		return entry.Session
	}
	var old *CallSession
	if ok {
		old = entry.Session
	} else {
		entry = &sessionEntry{}
		r.sessions[sid] = entry
	}
	sess := r.factory(variant)
	entry.Session = sess
	entry.Touched = r.now()
	r.mu.Unlock()

	if old != nil {
		old.Teardown()
		log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("variant", string(variant)).Msg("replaced session")
	} else {
		log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("variant", string(variant)).Msg("bound session")
	}
	return sess
}

// BindView records the view connection currently attached to sid,
// cancelling the previous one.
func (r *Registry) BindView(sid core.SessionID, viewID string, cancel context.CancelFunc) {
	r.mu.Lock()
	entry, ok := r.sessions[sid]
	if !ok {
		entry = &sessionEntry{}
		r.sessions[sid] = entry
	}
	prev := entry.Cancel
	entry.ViewID, entry.Cancel = viewID, cancel
	entry.Touched = r.now()
	r.mu.Unlock()
	if prev != nil {
		prev()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("view", viewID).Msg("bound view")
}

// DetachView unbinds sid when viewID is still the attached view. A view
// replaced by a newer connection leaves the session alone.
func (r *Registry) DetachView(sid core.SessionID, viewID string) bool {
	r.mu.Lock()
	entry, ok := r.sessions[sid]
	if !ok || entry.ViewID != viewID {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, sid)
	r.mu.Unlock()
	r.release(sid, entry)
	return true
}

func (r *Registry) Get(sid core.SessionID) (*CallSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok && e.Session != nil {
		e.Touched = r.now()
		return e.Session, true
	}
	return nil, false
}

// Evict drops sid when no view is attached and its session is idle or
// failed.
func (r *Registry) Evict(sid core.SessionID) bool {
	r.mu.Lock()
	entry, ok := r.sessions[sid]
	if !ok || !entry.detached() {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, sid)
	r.mu.Unlock()
	r.release(sid, entry)
	return true
}

// Sweep evicts every detached entry untouched for longer than idle.
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := r.now().Add(-idle)
	r.mu.Lock()
	stale := make(map[core.SessionID]*sessionEntry)
	for sid, e := range r.sessions {
		if e.Touched.After(cutoff) || !e.detached() {
			continue
		}
		stale[sid] = e
		delete(r.sessions, sid)
	}
	r.mu.Unlock()

	for sid, e := range stale {
		r.release(sid, e)
	}
	if len(stale) > 0 {
		log.Info().Str("module", "app.registry").Int("sessions", len(stale)).Msg("swept idle sessions")
	}
	return len(stale)
}

// Unbind forgets sid and tears its session down.
func (r *Registry) Unbind(sid core.SessionID) {
	r.mu.Lock()
	entry, ok := r.sessions[sid]
	delete(r.sessions, sid)
	r.mu.Unlock()
	if ok {
		r.release(sid, entry)
	}
}

func (r *Registry) release(sid core.SessionID, entry *sessionEntry) {
	if entry.Cancel != nil {
		entry.Cancel()
	}
	if entry.Session != nil {
		entry.Session.Teardown()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
}

// Cancel stops the view connection of sid without touching the session.
func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled view")
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll tears every session down, used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := r.sessions
	r.sessions = make(map[core.SessionID]*sessionEntry)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		if e.Cancel != nil {
			e.Cancel()
		}
		if e.Session == nil {
			continue
		}
		wg.Add(1)
		go func(s *CallSession) {
			defer wg.Done()
			s.Teardown()
		}(e.Session)
	}
	wg.Wait()
	log.Info().Str("module", "app.registry").Int("sessions", len(entries)).Msg("closed all sessions")
}
