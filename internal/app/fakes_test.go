package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

type fakeTokens struct {
	mu    sync.Mutex
	token string
	err   error
	block bool
	calls int
}

func (f *fakeTokens) FetchToken(ctx context.Context, cfg domain.SessionConfig) (domain.JoinCredential, error) {
	f.mu.Lock()
	f.calls++
	token, err, block := f.token, f.err, f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return domain.JoinCredential{}, ctx.Err()
	}
	if err != nil {
		return domain.JoinCredential{}, err
	}
	return domain.JoinCredential{Token: token, IssuedFor: cfg}, nil
}

func (f *fakeTokens) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// gate parks a fake call until the test releases it.
type gate struct {
	entered chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) wait(ctx context.Context) error {
	close(g.entered)
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gate) reached(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("gate never reached")
	}
}

type fakeLocal struct {
	id   string
	kind domain.MediaKind

	mu     sync.Mutex
	closes int
}

func (t *fakeLocal) ID() string             { return t.id }
func (t *fakeLocal) Kind() domain.MediaKind { return t.kind }
func (t *fakeLocal) Close() error {
	t.mu.Lock()
	t.closes++
	t.mu.Unlock()
	return nil
}

func (t *fakeLocal) Closes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

type fakeRemote struct {
	uid  domain.UID
	kind domain.MediaKind

	mu    sync.Mutex
	plays int
	stops int
}

func (t *fakeRemote) UID() domain.UID        { return t.uid }
func (t *fakeRemote) Kind() domain.MediaKind { return t.kind }
func (t *fakeRemote) Play() error {
	t.mu.Lock()
	t.plays++
	t.mu.Unlock()
	return nil
}
func (t *fakeRemote) Stop() {
	t.mu.Lock()
	t.stops++
	t.mu.Unlock()
}

func (t *fakeRemote) Counts() (plays, stops int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.plays, t.stops
}

type joinCall struct {
	appID   string
	channel domain.ChannelName
	token   string
	uid     domain.UID
}

type fakeClient struct {
	joinErr    error
	publishErr error
	joinGate   *gate

	mu          sync.Mutex
	joins       []joinCall
	published   []core.LocalTrack
	leaves      int
	subscribed  []*fakeRemote
	onPublished map[int]core.UserHandler
	onUnpub     map[int]core.UserHandler
	next        int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		onPublished: make(map[int]core.UserHandler),
		onUnpub:     make(map[int]core.UserHandler),
	}
}

func (c *fakeClient) Join(ctx context.Context, appID string, channel domain.ChannelName, token string, uid domain.UID) error {
	c.mu.Lock()
	c.joins = append(c.joins, joinCall{appID, channel, token, uid})
	c.mu.Unlock()
	if c.joinGate != nil {
		if err := c.joinGate.wait(ctx); err != nil {
			return err
		}
	}
	return c.joinErr
}

func (c *fakeClient) Publish(ctx context.Context, tracks ...core.LocalTrack) error {
	c.mu.Lock()
	c.published = append(c.published, tracks...)
	c.mu.Unlock()
	return c.publishErr
}

func (c *fakeClient) Subscribe(ctx context.Context, user core.RemoteUser, kind domain.MediaKind) (core.RemoteTrack, error) {
	t := &fakeRemote{uid: user.UID, kind: kind}
	c.mu.Lock()
	c.subscribed = append(c.subscribed, t)
	c.mu.Unlock()
	return t, nil
}

func (c *fakeClient) register(set map[int]core.UserHandler, fn core.UserHandler) func() {
	c.mu.Lock()
	id := c.next
	c.next++
	set[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(set, id)
		c.mu.Unlock()
	}
}

func (c *fakeClient) OnUserPublished(fn core.UserHandler) func() {
	return c.register(c.onPublished, fn)
}

func (c *fakeClient) OnUserUnpublished(fn core.UserHandler) func() {
	return c.register(c.onUnpub, fn)
}

func (c *fakeClient) Leave(ctx context.Context) error {
	c.mu.Lock()
	c.leaves++
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) emit(set map[int]core.UserHandler, uid domain.UID, kind domain.MediaKind) {
	c.mu.Lock()
	handlers := make([]core.UserHandler, 0, len(set))
	for _, fn := range set {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(core.RemoteUser{UID: uid}, kind)
	}
}

func (c *fakeClient) publish(uid domain.UID, kind domain.MediaKind) {
	c.emit(c.onPublished, uid, kind)
}

func (c *fakeClient) unpublish(uid domain.UID, kind domain.MediaKind) {
	c.emit(c.onUnpub, uid, kind)
}

func (c *fakeClient) Published() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

func (c *fakeClient) Leaves() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leaves
}

func (c *fakeClient) Handlers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.onPublished) + len(c.onUnpub)
}

// lastSubscribed returns the most recent remote track for uid and kind.
func (c *fakeClient) lastSubscribed(uid domain.UID, kind domain.MediaKind) *fakeRemote {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.subscribed) - 1; i >= 0; i-- {
		if t := c.subscribed[i]; t.uid == uid && t.kind == kind {
			return t
		}
	}
	return nil
}

type fakeEngine struct {
	micErr error
	camErr error
	client *fakeClient
	// createGate and camGate ignore cancellation, like a slow device.
	createGate *gate
	camGate    *gate

	mu      sync.Mutex
	clients int
	locals  []*fakeLocal
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{client: newFakeClient()}
}

func (e *fakeEngine) CreateClient(cfg core.ClientConfig) (core.RtcClient, error) {
	if cfg != core.DefaultClientConfig() {
		return nil, fmt.Errorf("unexpected client config %+v", cfg)
	}
	if e.createGate != nil {
		_ = e.createGate.wait(context.Background())
	}
	e.mu.Lock()
	e.clients++
	e.mu.Unlock()
	return e.client, nil
}

func (e *fakeEngine) create(kind domain.MediaKind, err error) (core.LocalTrack, error) {
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	t := &fakeLocal{id: fmt.Sprintf("%s-%d", kind, len(e.locals)), kind: kind}
	e.locals = append(e.locals, t)
	return t, nil
}

func (e *fakeEngine) CreateMicrophoneTrack(context.Context) (core.LocalTrack, error) {
	return e.create(domain.KindAudio, e.micErr)
}

func (e *fakeEngine) CreateCameraTrack(context.Context) (core.LocalTrack, error) {
	if e.camGate != nil {
		_ = e.camGate.wait(context.Background())
	}
	return e.create(domain.KindVideo, e.camErr)
}

func (e *fakeEngine) Clients() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clients
}

func (e *fakeEngine) Locals() []*fakeLocal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*fakeLocal(nil), e.locals...)
}

var errBoom = errors.New("boom")

func waitStatus(t *testing.T, s *CallSession, want domain.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status = %s, want %s", s.Status(), want)
}
