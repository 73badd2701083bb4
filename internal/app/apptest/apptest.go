// Package apptest provides in-memory token and engine doubles for tests of
// the packages built on top of app.
package apptest

import (
	"context"
	"sync"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

type Tokens struct {
	Token string
	Err   error
}

func (t *Tokens) FetchToken(ctx context.Context, cfg domain.SessionConfig) (domain.JoinCredential, error) {
	if err := ctx.Err(); err != nil {
		return domain.JoinCredential{}, err
	}
	if t.Err != nil {
		return domain.JoinCredential{}, t.Err
	}
	return domain.JoinCredential{Token: t.Token, IssuedFor: cfg}, nil
}

// Engine hands out clients that join instantly and tracks that do nothing.
type Engine struct {
	JoinErr  error
	LeaveErr error

	mu     sync.Mutex
	joins  int
	leaves int
}

func (e *Engine) CreateClient(core.ClientConfig) (core.RtcClient, error) {
	return &client{engine: e}, nil
}

func (e *Engine) CreateMicrophoneTrack(context.Context) (core.LocalTrack, error) {
	return track{kind: domain.KindAudio}, nil
}

func (e *Engine) CreateCameraTrack(context.Context) (core.LocalTrack, error) {
	return track{kind: domain.KindVideo}, nil
}

func (e *Engine) Joins() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.joins
}

func (e *Engine) Leaves() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leaves
}

type client struct {
	engine *Engine
}

func (c *client) Join(ctx context.Context, _ string, _ domain.ChannelName, _ string, _ domain.UID) error {
	c.engine.mu.Lock()
	c.engine.joins++
	c.engine.mu.Unlock()
	return c.engine.JoinErr
}

func (c *client) Publish(context.Context, ...core.LocalTrack) error { return nil }

func (c *client) Subscribe(_ context.Context, user core.RemoteUser, kind domain.MediaKind) (core.RemoteTrack, error) {
	return remote{uid: user.UID, kind: kind}, nil
}

func (c *client) OnUserPublished(core.UserHandler) func()   { return func() {} }
func (c *client) OnUserUnpublished(core.UserHandler) func() { return func() {} }

func (c *client) Leave(context.Context) error {
	c.engine.mu.Lock()
	c.engine.leaves++
	c.engine.mu.Unlock()
	return c.engine.LeaveErr
}

type track struct{ kind domain.MediaKind }

func (t track) ID() string             { return string(t.kind) }
func (t track) Kind() domain.MediaKind { return t.kind }
func (t track) Close() error           { return nil }

type remote struct {
	uid  domain.UID
	kind domain.MediaKind
}

func (r remote) UID() domain.UID        { return r.uid }
func (r remote) Kind() domain.MediaKind { return r.kind }
func (r remote) Play() error            { return nil }
func (r remote) Stop()                  {}
