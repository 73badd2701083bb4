// Package view serves the call controls of one browser view over a
// websocket and pushes every session state change back to it.
package view

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Call/internal/app"
	"github.com/dkeye/Call/internal/app/orch"
	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
}

type ViewWSController struct {
	Orch *orch.Orchestrator

	readLimit  int64
	pingPeriod time.Duration
}

func NewViewWSController(o *orch.Orchestrator, opts Options) *ViewWSController {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 32768
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	return &ViewWSController{Orch: o, readLimit: opts.ReadLimit, pingPeriod: opts.PingPeriod}
}

type WsViewConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

var _ core.ViewConnection = (*WsViewConn)(nil)

func (c *WsViewConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsViewConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// viewLink follows the session currently bound to a view; a variant switch
// moves it to the new session.
type viewLink struct {
	sid  core.SessionID
	conn *WsViewConn

	mu   sync.Mutex
	sess *app.CallSession
	stop func()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleView upgrades the request and attaches the view to the session of
// its client token. Closing the socket tears that session down.
func (ctl *ViewWSController) HandleView(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(c.GetString("client_token"))
	viewID := uuid.NewString()
	log.Info().Str("module", "view").Str("sid", string(sid)).Str("view", viewID).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "view").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.readLimit)

	conn := &WsViewConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.AttachView(sid, viewID, cancel)

	sess := ctl.Orch.Session(sid)
	if v := c.Query("variant"); v != "" {
		if variant, err := domain.ParseVariant(v); err == nil {
			sess = ctl.Orch.SwitchVariant(sid, variant)
		}
	}
	link := &viewLink{sid: sid, conn: conn}
	ctl.follow(ctx, link, sess)

	go func() {
		<-ctx.Done()
		link.unfollow()
		conn.Close()
	}()
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, link, viewID)
}

// follow pushes snapshots of sess to the view until the view switches
// away or the session is torn down.
func (ctl *ViewWSController) follow(ctx context.Context, link *viewLink, sess *app.CallSession) {
	link.mu.Lock()
	if link.sess == sess {
		link.mu.Unlock()
		return
	}
	if link.stop != nil {
		link.stop()
	}
	updates, stop := sess.Watch()
	link.sess, link.stop = sess, stop
	link.mu.Unlock()

	ctl.sendState(link.conn, sess.Snapshot())
	go func() {
		for snap := range updates {
			ctl.sendState(link.conn, snap)
		}
		if ctx.Err() != nil {
			return
		}
		// torn down from elsewhere, e.g. a variant switch over REST
		link.mu.Lock()
		current := link.sess == sess
		link.mu.Unlock()
		if current {
			if next, ok := ctl.Orch.Registry.Get(link.sid); ok && next != sess {
				ctl.follow(ctx, link, next)
			}
		}
	}()
}

func (l *viewLink) unfollow() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop != nil {
		l.stop()
		l.stop = nil
	}
}

func (l *viewLink) session() *app.CallSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sess
}
