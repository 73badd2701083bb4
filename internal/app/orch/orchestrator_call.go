package orch

import (
	"context"

	"github.com/dkeye/Call/internal/app"
	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
	"github.com/rs/zerolog/log"
)

// Start runs the join sequence of sid's session. The returned snapshot
// reflects the outcome even when err is set. A failed attempt with no view
// attached releases its session.
func (o *Orchestrator) Start(ctx context.Context, sid core.SessionID, req app.StartRequest) (app.Snapshot, error) {
	if o.Limiter != nil && !o.Limiter.Allow(sid) {
		log.Warn().Str("module", "app.orch").Str("sid", string(sid)).Msg("start rate limited")
		return o.Snapshot(sid), ErrRateLimited
	}
	sess := o.Session(sid)
	err := sess.Start(ctx, req)
	snap := sess.Snapshot()
	if err != nil {
		o.Registry.Evict(sid)
	}
	return snap, err
}

// Stop ends the call of sid. Without a view attached the session is
// released as well.
func (o *Orchestrator) Stop(ctx context.Context, sid core.SessionID) (app.Snapshot, error) {
	sess, ok := o.Registry.Get(sid)
	if !ok {
		return app.IdleSnapshot(o.defaultVariant()), nil
	}
	err := sess.Stop(ctx)
	snap := sess.Snapshot()
	o.Registry.Evict(sid)
	return snap, err
}

// SwitchVariant moves sid to the other call tab. The previous session is
// torn down as if its view had unmounted.
func (o *Orchestrator) SwitchVariant(sid core.SessionID, variant domain.Variant) *app.CallSession {
	sess := o.Registry.Bind(sid, variant)
	log.Info().Str("module", "app.orch").Str("sid", string(sid)).Str("variant", string(variant)).Msg("variant selected")
	return sess
}
