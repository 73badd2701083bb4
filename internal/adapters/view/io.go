package view

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/Call/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *ViewWSController) writePump(ctx context.Context, c *WsViewConn) {
	ticker := time.NewTicker(ctl.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "view").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "view").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "view").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Warn().Err(err).Str("module", "view").Msg("writePump ping")
				return
			}
		}
	}
}

func (ctl *ViewWSController) readPump(ctx context.Context, link *viewLink, viewID string) {
	sid := link.sid
	defer func() {
		log.Info().Str("module", "view").Str("sid", string(sid)).Str("view", viewID).Msg("readPump closing")
		link.conn.Close()
		ctl.Orch.DetachView(sid, viewID)
	}()

	wait := ctl.pingPeriod * 2
	_ = link.conn.conn.SetReadDeadline(time.Now().Add(wait))
	link.conn.conn.SetPongHandler(func(string) error {
		return link.conn.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, data, err := link.conn.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("module", "view").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		_ = link.conn.conn.SetReadDeadline(time.Now().Add(wait))
		ctl.handleMessage(ctx, link, data)
	}
}

func (ctl *ViewWSController) handleMessage(ctx context.Context, link *viewLink, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "view").Msg("bad json")
		ctl.sendError(link.conn, "bad_payload")
		return
	}

	switch env.Type {
	case "start":
		ctl.handleStart(ctx, link, data)
	case "stop":
		ctl.handleStop(ctx, link)
	case "variant":
		ctl.handleVariant(ctx, link, data)
	case "state":
		ctl.sendState(link.conn, link.session().Snapshot())
	case "ping":
		ctl.handlePing(link.conn)
	default:
		log.Warn().Str("module", "view").Str("type", env.Type).Msg("unknown message")
	}
}

func (ctl *ViewWSController) sendJSON(c core.ViewConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "view").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Debug().Err(err).Str("module", "view").Msg("sendJSON dropped")
	}
}
