// Package orch is the entry point of the view adapters: it resolves the
// call session of a view and applies start, stop and variant switches.
package orch

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Call/internal/app"
	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrRateLimited = errors.New("too many start attempts")

type Orchestrator struct {
	Registry       *app.Registry
	Limiter        *StartRateLimiter
	DefaultVariant domain.Variant
}

// Session returns the session bound to sid, binding one of the default
// variant on first use.
func (o *Orchestrator) Session(sid core.SessionID) *app.CallSession {
	if sess, ok := o.Registry.Get(sid); ok {
		return sess
	}
	return o.Registry.Bind(sid, o.defaultVariant())
}

// Snapshot reads the state of sid without binding a session.
func (o *Orchestrator) Snapshot(sid core.SessionID) app.Snapshot {
	if sess, ok := o.Registry.Get(sid); ok {
		return sess.Snapshot()
	}
	return app.IdleSnapshot(o.defaultVariant())
}

func (o *Orchestrator) AttachView(sid core.SessionID, viewID string, cancel context.CancelFunc) {
	o.Registry.BindView(sid, viewID, cancel)
}

// DetachView tears the session down when the view goes away.
func (o *Orchestrator) DetachView(sid core.SessionID, viewID string) {
	if o.Registry.DetachView(sid, viewID) {
		log.Info().Str("module", "app.orch").Str("sid", string(sid)).Str("view", viewID).Msg("view detached")
	}
}

// Sweep drops sessions without a view that sat idle for longer than idle,
// and rate limit history that left its window.
func (o *Orchestrator) Sweep(idle time.Duration) {
	swept := o.Registry.Sweep(idle)
	pruned := 0
	if o.Limiter != nil {
		pruned = o.Limiter.Prune()
	}
	if swept > 0 || pruned > 0 {
		log.Debug().Str("module", "app.orch").Int("sessions", swept).Int("limiter_keys", pruned).Msg("sweep")
	}
}

// RunJanitor sweeps every interval until ctx is done. A non-positive
// interval disables sweeping.
func (o *Orchestrator) RunJanitor(ctx context.Context, interval, idle time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Sweep(idle)
		}
	}
}

// Shutdown tears down every session.
func (o *Orchestrator) Shutdown() {
	o.Registry.CloseAll()
}

func (o *Orchestrator) defaultVariant() domain.Variant {
	if o.DefaultVariant == "" {
		return domain.VariantVideo
	}
	return o.DefaultVariant
}
