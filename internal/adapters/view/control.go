package view

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dkeye/Call/internal/app"
	"github.com/dkeye/Call/internal/app/orch"
	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
	"github.com/rs/zerolog/log"
)

const stopTimeout = 10 * time.Second

type stateMessage struct {
	Type  string       `json:"type"`
	State app.Snapshot `json:"state"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func (ctl *ViewWSController) sendState(c core.ViewConnection, snap app.Snapshot) {
	ctl.sendJSON(c, stateMessage{Type: "state", State: snap})
}

func (ctl *ViewWSController) sendError(c core.ViewConnection, msg string) {
	ctl.sendJSON(c, errorMessage{Type: "error", Error: msg})
}

// handleStart runs the join in the background so the view can still stop
// it while the token fetch or join is in flight.
func (ctl *ViewWSController) handleStart(ctx context.Context, link *viewLink, data []byte) {
	var req app.StartRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Error().Err(err).Str("module", "view").Msg("bad start payload")
		ctl.sendError(link.conn, "bad_payload")
		return
	}
	go func() {
		_, err := ctl.Orch.Start(ctx, link.sid, req)
		switch {
		case err == nil:
		case errors.Is(err, orch.ErrRateLimited):
			ctl.sendError(link.conn, "rate_limited")
		case errors.Is(err, app.ErrSessionBusy):
			ctl.sendError(link.conn, "busy")
		default:
			// the failure message travels with the state push
			log.Debug().Err(err).Str("module", "view").Str("sid", string(link.sid)).Msg("start failed")
		}
	}()
}

func (ctl *ViewWSController) handleStop(ctx context.Context, link *viewLink) {
	go func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		defer cancel()
		if _, err := ctl.Orch.Stop(stopCtx, link.sid); err != nil {
			log.Warn().Err(err).Str("module", "view").Str("sid", string(link.sid)).Msg("stop")
		}
	}()
}

func (ctl *ViewWSController) handleVariant(ctx context.Context, link *viewLink, data []byte) {
	var p struct {
		Variant string `json:"variant"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(link.conn, "bad_payload")
		return
	}
	variant, err := domain.ParseVariant(p.Variant)
	if err != nil {
		ctl.sendError(link.conn, err.Error())
		return
	}
	sess := ctl.Orch.SwitchVariant(link.sid, variant)
	ctl.follow(ctx, link, sess)
}

func (ctl *ViewWSController) handlePing(c core.ViewConnection) {
	ctl.sendJSON(c, struct {
		Type string `json:"type"`
	}{Type: "pong"})
}
