package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotJoined     = errors.New("client is not joined")
	ErrAlreadyJoined = errors.New("client already joined")
	ErrRejected      = errors.New("rejected by room server")
	ErrSignalClosed  = errors.New("signaling connection closed")
	ErrBackpressure  = errors.New("signaling send queue full")
	ErrForeignTrack  = errors.New("track was not created by this engine")
)

type clientState int

const (
	stateIdle clientState = iota
	stateJoining
	stateJoined
	stateClosed
)

type trackKey struct {
	uid  domain.UID
	kind domain.MediaKind
}

type reply struct {
	env envelope
	err error
}

// Client is one room connection: a signaling websocket plus the peer
// connection it negotiates. A client is single use; after Leave or a failed
// Join a new one must be created.
type Client struct {
	id     string
	engine *Engine
	cfg    core.ClientConfig
	logger zerolog.Logger

	mu         sync.Mutex
	state      clientState
	conn       *websocket.Conn
	peer       *peer
	send       chan []byte
	sendClosed bool
	writeDone  chan struct{}
	life       context.Context
	cancel     context.CancelFunc
	waiters    map[string][]chan reply
	arrived    map[trackKey]*webrtc.TrackRemote
	pending    map[trackKey]chan *webrtc.TrackRemote
	players    map[trackKey]*remoteTrack

	hmu         sync.RWMutex
	nextHandler int
	published   map[int]core.UserHandler
	unpublished map[int]core.UserHandler

	events  *signalQueue
	signals *signalQueue

	closeOnce sync.Once
}

var _ core.RtcClient = (*Client)(nil)

func newClient(e *Engine, cfg core.ClientConfig) *Client {
	id := uuid.NewString()
	return &Client{
		id:          id,
		engine:      e,
		cfg:         cfg,
		logger:      log.With().Str("module", "rtc.client").Str("client_id", id).Logger(),
		waiters:     make(map[string][]chan reply),
		arrived:     make(map[trackKey]*webrtc.TrackRemote),
		pending:     make(map[trackKey]chan *webrtc.TrackRemote),
		players:     make(map[trackKey]*remoteTrack),
		published:   make(map[int]core.UserHandler),
		unpublished: make(map[int]core.UserHandler),
		events:      newSignalQueue(),
		signals:     newSignalQueue(),
	}
}

// Join dials the room server and waits until it accepts the credential.
func (c *Client) Join(ctx context.Context, appID string, channel domain.ChannelName, token string, uid domain.UID) error {
	c.mu.Lock()
	switch c.state {
	case stateJoining, stateJoined:
		c.mu.Unlock()
		return ErrAlreadyJoined
	case stateClosed:
		c.mu.Unlock()
		return ErrSignalClosed
	}
	c.state = stateJoining
	c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		c.shutdown()
		return err
	}

	ch, drop := c.expect(msgJoined)
	defer drop()
	err := c.sendEnvelope(envelope{
		Type:     msgJoin,
		ClientID: c.id,
		AppID:    appID,
		Channel:  string(channel),
		Token:    token,
		UID:      uid,
		Mode:     c.cfg.Mode,
		Codec:    c.cfg.Codec,
	})
	if err == nil {
		_, err = c.await(ctx, ch)
	}
	if err != nil {
		c.shutdown()
		return fmt.Errorf("join %s: %w", channel, err)
	}

	c.mu.Lock()
	if c.state != stateJoining {
		c.mu.Unlock()
		c.shutdown()
		return ErrSignalClosed
	}
	c.state = stateJoined
	c.mu.Unlock()
	c.logger.Info().Str("channel", string(channel)).Stringer("uid", uid).Msg("joined")
	return nil
}

func (c *Client) connect(ctx context.Context) error {
	cfg := c.engine.cfg
	dialer := websocket.Dialer{HandshakeTimeout: cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, cfg.SignalURL, nil)
	if err != nil {
		return fmt.Errorf("dial signaling: %w", err)
	}
	conn.SetReadLimit(cfg.ReadLimit)

	p, err := c.engine.newPeer(c.logger)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("peer connection: %w", err)
	}
	p.onICE = func(ci webrtc.ICECandidateInit) {
		if err := c.sendEnvelope(envelope{
			Type:          msgCandidate,
			Candidate:     ci.Candidate,
			SDPMid:        ci.SDPMid,
			SDPMLineIndex: ci.SDPMLineIndex,
		}); err != nil {
			c.logger.Debug().Err(err).Msg("drop local candidate")
		}
	}
	p.onTrack = c.onRemoteTrack
	p.onClosed = func() { c.logger.Warn().Msg("peer connection failed") }
	p.start()

	life, cancel := context.WithCancel(context.Background())
	send := make(chan []byte, cfg.SendQueueSize)
	writeDone := make(chan struct{})

	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		cancel()
		_ = conn.Close()
		p.Close()
		return ErrSignalClosed
	}
	c.conn, c.peer = conn, p
	c.send, c.writeDone = send, writeDone
	c.life, c.cancel = life, cancel
	c.mu.Unlock()

	go c.writePump(life, conn, send, writeDone)
	go c.readPump(life, conn)
	go c.events.drain(life.Done(), c.dispatch)
	go c.signals.drain(life.Done(), c.negotiateRemote)
	return nil
}

// Publish attaches local tracks and renegotiates with the room server.
func (c *Client) Publish(ctx context.Context, tracks ...core.LocalTrack) error {
	p, err := c.joinedPeer()
	if err != nil {
		return err
	}
	if len(tracks) == 0 {
		return nil
	}
	for _, t := range tracks {
		src, ok := t.(trackSource)
		if !ok {
			return fmt.Errorf("%w: %s", ErrForeignTrack, t.ID())
		}
		if err := p.AddLocalTrack(src.TrackLocal()); err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
	}

	p.negMu.Lock()
	defer p.negMu.Unlock()
	offer, err := p.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	ch, drop := c.expect(msgAnswer)
	defer drop()
	if err := c.sendEnvelope(envelope{Type: msgOffer, SDP: offer.SDP}); err != nil {
		return err
	}
	answer, err := c.await(ctx, ch)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if err := p.ApplyAnswer(answer.SDP); err != nil {
		return fmt.Errorf("apply answer: %w", err)
	}
	c.logger.Info().Int("tracks", len(tracks)).Msg("published")
	return nil
}

// Subscribe asks for the remote track of user and waits until it arrives
// on the peer connection.
func (c *Client) Subscribe(ctx context.Context, user core.RemoteUser, kind domain.MediaKind) (core.RemoteTrack, error) {
	if _, err := c.joinedPeer(); err != nil {
		return nil, err
	}
	key := trackKey{uid: user.UID, kind: kind}

	c.mu.Lock()
	if tr, ok := c.arrived[key]; ok {
		c.mu.Unlock()
		return c.player(key, tr), nil
	}
	ch := make(chan *webrtc.TrackRemote, 1)
	c.pending[key] = ch
	life := c.life
	c.mu.Unlock()

	if err := c.sendEnvelope(envelope{Type: msgSubscribe, UID: user.UID, Kind: kind}); err != nil {
		c.dropPending(key, ch)
		return nil, err
	}

	select {
	case tr := <-ch:
		return c.player(key, tr), nil
	case <-ctx.Done():
		c.dropPending(key, ch)
		return nil, ctx.Err()
	case <-life.Done():
		c.dropPending(key, ch)
		return nil, ErrSignalClosed
	}
}

func (c *Client) OnUserPublished(fn core.UserHandler) func() {
	return c.register(c.published, fn)
}

func (c *Client) OnUserUnpublished(fn core.UserHandler) func() {
	return c.register(c.unpublished, fn)
}

func (c *Client) register(set map[int]core.UserHandler, fn core.UserHandler) func() {
	c.hmu.Lock()
	id := c.nextHandler
	c.nextHandler++
	set[id] = fn
	c.hmu.Unlock()
	return func() {
		c.hmu.Lock()
		delete(set, id)
		c.hmu.Unlock()
	}
}

// Leave tells the room server goodbye, flushes the send queue and closes
// everything. Leaving an unjoined or closed client is a no-op.
func (c *Client) Leave(ctx context.Context) error {
	c.mu.Lock()
	if c.state == stateIdle || c.state == stateClosed || c.send == nil {
		c.state = stateClosed
		c.mu.Unlock()
		return nil
	}
	var err error
	if !c.sendClosed {
		b, _ := json.Marshal(envelope{Type: msgLeave})
		select {
		case c.send <- b:
		default:
			err = ErrBackpressure
		}
		c.sendClosed = true
		close(c.send)
	}
	done := c.writeDone
	c.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	c.shutdown()
	c.logger.Info().Msg("left")
	return err
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = stateClosed
		conn, p, cancel := c.conn, c.peer, c.cancel
		if c.send != nil && !c.sendClosed {
			c.sendClosed = true
			close(c.send)
		}
		waiters := c.waiters
		c.waiters = make(map[string][]chan reply)
		c.arrived = make(map[trackKey]*webrtc.TrackRemote)
		c.players = make(map[trackKey]*remoteTrack)
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		for _, list := range waiters {
			for _, ch := range list {
				ch <- reply{err: ErrSignalClosed}
			}
		}
		if conn != nil {
			_ = conn.Close()
		}
		if p != nil {
			p.Close()
		}
	})
}

func (c *Client) joinedPeer() (*peer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateJoined {
		return nil, ErrNotJoined
	}
	return c.peer, nil
}

func (c *Client) sendEnvelope(env envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.send == nil || c.sendClosed {
		return ErrSignalClosed
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

// expect registers interest in the next message of typ.
func (c *Client) expect(typ string) (<-chan reply, func()) {
	ch := make(chan reply, 1)
	c.mu.Lock()
	c.waiters[typ] = append(c.waiters[typ], ch)
	c.mu.Unlock()
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		list := c.waiters[typ]
		for i, w := range list {
			if w == ch {
				c.waiters[typ] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

func (c *Client) await(ctx context.Context, ch <-chan reply) (envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, c.engine.cfg.ReplyTimeout)
	defer cancel()
	select {
	case r := <-ch:
		if r.err != nil {
			return envelope{}, r.err
		}
		if r.env.Type == msgError {
			return r.env, fmt.Errorf("%w: %s", ErrRejected, r.env.Error)
		}
		return r.env, nil
	case <-ctx.Done():
		return envelope{}, ctx.Err()
	}
}

// deliver hands env to the oldest waiter of typ.
func (c *Client) deliver(typ string, env envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.waiters[typ]
	if len(list) == 0 {
		return false
	}
	c.waiters[typ] = list[1:]
	list[0] <- reply{env: env}
	return true
}

// rejectAll fails every pending request with a server error.
func (c *Client) rejectAll(env envelope) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for typ, list := range c.waiters {
		for _, ch := range list {
			ch <- reply{env: env}
			n++
		}
		delete(c.waiters, typ)
	}
	return n
}

func (c *Client) handleSignal(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Error().Err(err).Msg("bad json")
		return
	}

	switch env.Type {
	case msgJoined, msgAnswer, msgLeft:
		if !c.deliver(env.Type, env) {
			c.logger.Debug().Str("type", env.Type).Msg("unsolicited reply")
		}
	case msgError:
		n := c.rejectAll(env)
		c.logger.Warn().Str("error", env.Error).Int("pending", n).Msg("server error")
	case msgOffer, msgCandidate:
		c.signals.push(env)
	case msgPublished, msgUnpublished:
		c.events.push(env)
	case msgPong:
	default:
		c.logger.Warn().Str("type", env.Type).Msg("unknown signal")
	}
}

// negotiateRemote applies server offers and candidates in arrival order.
func (c *Client) negotiateRemote(env envelope) {
	c.mu.Lock()
	p := c.peer
	c.mu.Unlock()
	if p == nil {
		return
	}
	p.negMu.Lock()
	defer p.negMu.Unlock()

	switch env.Type {
	case msgOffer:
		answer, err := p.ApplyOfferAndCreateAnswer(env.SDP)
		if err != nil {
			c.logger.Error().Err(err).Msg("apply remote offer")
			return
		}
		if err := c.sendEnvelope(envelope{Type: msgAnswer, SDP: answer.SDP}); err != nil {
			c.logger.Error().Err(err).Msg("send answer")
		}
	case msgCandidate:
		ci := webrtc.ICECandidateInit{
			Candidate:     env.Candidate,
			SDPMid:        env.SDPMid,
			SDPMLineIndex: env.SDPMLineIndex,
		}
		if err := p.AddICECandidate(ci); err != nil {
			c.logger.Warn().Err(err).Msg("add remote candidate")
		}
	}
}

func (c *Client) dispatch(env envelope) {
	user := core.RemoteUser{UID: env.UID}
	set := c.published
	if env.Type == msgUnpublished {
		set = c.unpublished
		c.mu.Lock()
		delete(c.arrived, trackKey{uid: env.UID, kind: env.Kind})
		c.mu.Unlock()
	}

	c.hmu.RLock()
	handlers := make([]core.UserHandler, 0, len(set))
	for _, fn := range set {
		handlers = append(handlers, fn)
	}
	c.hmu.RUnlock()

	c.logger.Debug().Str("type", env.Type).Stringer("remote_uid", env.UID).Str("kind", string(env.Kind)).Msg("user event")
	for _, fn := range handlers {
		fn(user, env.Kind)
	}
}

// onRemoteTrack matches tracks to subscriptions by stream id, which the
// room server sets to the publisher uid.
func (c *Client) onRemoteTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	uid, err := strconv.ParseUint(track.StreamID(), 10, 32)
	if err != nil {
		c.logger.Warn().Str("stream_id", track.StreamID()).Msg("remote track without uid stream id")
		return
	}
	kind := domain.KindAudio
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		kind = domain.KindVideo
	}
	key := trackKey{uid: domain.UID(uid), kind: kind}

	c.mu.Lock()
	c.arrived[key] = track
	ch, ok := c.pending[key]
	delete(c.pending, key)
	c.mu.Unlock()
	if ok {
		ch <- track
	}
}

func (c *Client) dropPending(key trackKey, ch chan *webrtc.TrackRemote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[key] == ch {
		delete(c.pending, key)
	}
}

func (c *Client) player(key trackKey, track *webrtc.TrackRemote) *remoteTrack {
	return c.adoptPlayer(key, track, func() *remoteTrack {
		t := newRemoteTrack(key.uid, key.kind, track, c.engine.cfg.RecordDir)
		if key.kind == domain.KindVideo {
			t.onPlay = func() { c.requestKeyframe(track) }
		}
		return t
	})
}

// adoptPlayer keeps a single reader per remote track. A live player of src
// is handed back as is; a new one starts reading only after the stopped
// one has let go of src.
func (c *Client) adoptPlayer(key trackKey, src rtpSource, build func() *remoteTrack) *remoteTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.players[key]
	if prev != nil && prev.src == src && !prev.isStopped() {
		return prev
	}
	t := build()
	if prev != nil && prev.src == src {
		t.after = prev.ended()
	}
	c.players[key] = t
	return t
}

func (c *Client) requestKeyframe(track *webrtc.TrackRemote) {
	c.mu.Lock()
	p := c.peer
	c.mu.Unlock()
	if p == nil {
		return
	}
	pli := &rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}
	if err := p.pc.WriteRTCP([]rtcp.Packet{pli}); err != nil {
		c.logger.Debug().Err(err).Msg("keyframe request")
	}
}

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, send <-chan []byte, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.engine.cfg.PingPeriod)
	defer ticker.Stop()
	ping, _ := json.Marshal(envelope{Type: msgPing})

	write := func(data []byte) bool {
		if err := conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
			c.logger.Error().Err(err).Msg("writePump set deadline")
			return false
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.logger.Error().Err(err).Msg("writePump write error")
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-send:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leave")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
				return
			}
			if !write(data) {
				go c.shutdown()
				return
			}
		case <-ticker.C:
			if !write(ping) {
				go c.shutdown()
				return
			}
		}
	}
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) {
	defer c.shutdown()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Error().Err(err).Msg("readPump read error")
			}
			return
		}
		c.handleSignal(data)
	}
}
