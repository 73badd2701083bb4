package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const teardownTimeout = 5 * time.Second

// StartRequest carries the raw form fields of a join.
type StartRequest struct {
	ChannelName string `json:"channel_name"`
	UID         string `json:"uid"`
	Role        string `json:"role"`
}

type Options struct {
	AppID       string
	Variant     domain.Variant
	Policy      UnpublishPolicy
	JoinTimeout time.Duration
}

// CallSession sequences token fetch, join and publish for one call at a time
// and keeps the remote roster in sync with engine events. It exclusively owns
// the engine client and every local track.
type CallSession struct {
	tokens      core.TokenProvider
	engine      core.Engine
	appID       string
	variant     domain.Variant
	joinTimeout time.Duration
	logger      zerolog.Logger

	mu         sync.Mutex
	status     domain.Status
	message    string
	cfg        domain.SessionConfig
	cred       *domain.JoinCredential
	client     core.RtcClient
	local      []core.LocalTrack
	roster     *Roster
	audio      map[domain.UID]core.RemoteTrack
	unregister []func()
	// epoch changes on every Start and Stop; async work started under an
	// older epoch must not touch session state.
	epoch      uint64
	attemptCtx context.Context
	cancel     context.CancelFunc

	watchMu  sync.Mutex
	watchers map[int]chan Snapshot
	nextID   int
}

func NewCallSession(tokens core.TokenProvider, engine core.Engine, opts Options) *CallSession {
	if opts.Variant == "" {
		opts.Variant = domain.VariantVideo
	}
	if opts.Policy == nil {
		opts.Policy = DefaultPolicy(opts.Variant)
	}
	return &CallSession{
		tokens:      tokens,
		engine:      engine,
		appID:       opts.AppID,
		variant:     opts.Variant,
		joinTimeout: opts.JoinTimeout,
		logger:      log.With().Str("module", "app.session").Str("variant", string(opts.Variant)).Logger(),
		status:      domain.StatusIdle,
		roster:      NewRoster(opts.Policy),
		audio:       make(map[domain.UID]core.RemoteTrack),
		watchers:    make(map[int]chan Snapshot),
	}
}

func (s *CallSession) Variant() domain.Variant { return s.variant }

func (s *CallSession) Status() domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Start runs the whole join sequence and returns once the session is Active
// or has failed. ctx bounds the sequence only; the joined call outlives it.
func (s *CallSession) Start(ctx context.Context, req StartRequest) error {
	role, roleErr := domain.ParseRole(req.Role)

	s.mu.Lock()
	if s.status != domain.StatusIdle && s.status != domain.StatusError {
		st := s.status
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionBusy, st)
	}
	// Tracks left over from a failed attempt are released before retrying.
	leftovers := s.local
	s.local = nil

	cfg, err := domain.NewSessionConfig(req.ChannelName, req.UID, role)
	msg := MsgMissingParams
	if err == nil && roleErr != nil {
		err, msg = roleErr, MsgInvalidRole
	}
	if err != nil {
		s.status, s.message = domain.StatusError, msg
		s.mu.Unlock()
		closeLocal(leftovers)
		s.notify()
		s.logger.Warn().Err(err).Msg("invalid session config")
		return &CallError{Kind: ConfigValidationFailure, Message: msg, Err: err}
	}

	s.epoch++
	epoch := s.epoch
	attemptCtx, cancel := context.WithCancel(context.Background())
	s.attemptCtx, s.cancel = attemptCtx, cancel
	s.cfg, s.cred = cfg, nil
	s.status, s.message = domain.StatusFetchingToken, ""
	s.mu.Unlock()
	closeLocal(leftovers)
	s.notify()

	s.logger.Info().
		Str("channel", string(cfg.ChannelName)).
		Stringer("uid", cfg.LocalIdentity).
		Stringer("role", cfg.Role).
		Msg("starting call")

	detach := context.AfterFunc(ctx, cancel)
	defer detach()
	return s.run(attemptCtx, epoch, cfg)
}

func (s *CallSession) run(ctx context.Context, epoch uint64, cfg domain.SessionConfig) error {
	cred, err := s.tokens.FetchToken(ctx, cfg)
	if err != nil {
		if errors.Is(err, core.ErrMissingToken) {
			return s.fail(epoch, TokenFetchFailure, MsgTokenMissing, err)
		}
		return s.fail(epoch, TokenFetchFailure, tokenErrorMessage(err), err)
	}
	if !s.advance(epoch, func() {
		s.cred = &cred
		s.status = domain.StatusJoining
	}) {
		return ErrAttemptAborted
	}
	s.notify()
	return s.join(ctx, epoch, cfg, cred)
}

func (s *CallSession) join(ctx context.Context, epoch uint64, cfg domain.SessionConfig, cred domain.JoinCredential) error {
	if cred.Token == "" || cfg.ChannelName == "" || s.appID == "" {
		return s.fail(epoch, ConfigValidationFailure, MsgMissingParams, ErrMissingParams)
	}

	client, err := s.engine.CreateClient(core.DefaultClientConfig())
	if err != nil {
		return s.fail(epoch, EngineJoinFailure, startErrorMessage(err), err)
	}
	unregister := []func(){
		client.OnUserPublished(func(u core.RemoteUser, k domain.MediaKind) { s.onRemotePublished(epoch, u, k) }),
		client.OnUserUnpublished(func(u core.RemoteUser, k domain.MediaKind) { s.onRemoteUnpublished(epoch, u, k) }),
	}
	if !s.advance(epoch, func() {
		s.client = client
		s.unregister = unregister
	}) {
		runAll(unregister)
		s.leave(client)
		return ErrAttemptAborted
	}

	joinCtx := ctx
	if s.joinTimeout > 0 {
		var cancel context.CancelFunc
		joinCtx, cancel = context.WithTimeout(ctx, s.joinTimeout)
		defer cancel()
	}
	if err := client.Join(joinCtx, s.appID, cfg.ChannelName, cred.Token, cfg.LocalIdentity); err != nil {
		return s.failJoin(epoch, err)
	}
	s.logger.Info().Str("channel", string(cfg.ChannelName)).Stringer("uid", cfg.LocalIdentity).Msg("joined channel")

	msg := MsgJoinedSubscriber
	if cfg.Role == domain.RolePublisher {
		tracks := make([]core.LocalTrack, 0, 2)
		for _, kind := range s.variant.PublishKinds() {
			t, err := s.createTrack(ctx, kind)
			if err != nil {
				return s.failJoin(epoch, err)
			}
			if !s.adopt(epoch, t) {
				return ErrAttemptAborted
			}
			tracks = append(tracks, t)
		}
		if err := client.Publish(ctx, tracks...); err != nil {
			return s.failJoin(epoch, err)
		}
		msg = MsgPublishedAudio
		if s.variant == domain.VariantVideo {
			msg = MsgPublishedAV
		}
	}

	if !s.advance(epoch, func() {
		s.status, s.message = domain.StatusActive, msg
	}) {
		return ErrAttemptAborted
	}
	s.notify()
	s.logger.Info().Str("channel", string(cfg.ChannelName)).Msg(msg)
	return nil
}

func (s *CallSession) createTrack(ctx context.Context, kind domain.MediaKind) (core.LocalTrack, error) {
	if kind == domain.KindVideo {
		return s.engine.CreateCameraTrack(ctx)
	}
	return s.engine.CreateMicrophoneTrack(ctx)
}

// advance runs fn under the lock if epoch is still current.
func (s *CallSession) advance(epoch uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return false
	}
	fn()
	return true
}

// adopt hands a freshly created local track to the session, or closes it
// when the attempt was stopped meanwhile.
func (s *CallSession) adopt(epoch uint64, t core.LocalTrack) bool {
	if s.advance(epoch, func() { s.local = append(s.local, t) }) {
		return true
	}
	closeLocal([]core.LocalTrack{t})
	return false
}

func (s *CallSession) fail(epoch uint64, kind FailureKind, msg string, err error) error {
	var cancel context.CancelFunc
	if !s.advance(epoch, func() {
		s.status, s.message = domain.StatusError, msg
		s.cred = nil
		cancel, s.cancel = s.cancel, nil
	}) {
		return ErrAttemptAborted
	}
	if cancel != nil {
		cancel()
	}
	s.notify()
	s.logger.Error().Err(err).Str("kind", kind.String()).Msg("call attempt failed")
	return &CallError{Kind: kind, Message: msg, Err: err}
}

// failJoin is fail for errors after the client exists: the client is left so
// the engine is never half joined. Local tracks already created stay owned
// by the session until the next Stop or Start.
func (s *CallSession) failJoin(epoch uint64, err error) error {
	var (
		client     core.RtcClient
		unregister []func()
	)
	if !s.advance(epoch, func() {
		client, unregister = s.client, s.unregister
		s.client, s.unregister = nil, nil
	}) {
		return ErrAttemptAborted
	}
	runAll(unregister)
	if client != nil {
		s.leave(client)
	}
	return s.fail(epoch, EngineJoinFailure, startErrorMessage(err), err)
}

func (s *CallSession) leave(client core.RtcClient) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := client.Leave(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("leave after failed join")
	}
}

// Stop leaves the room and releases every owned resource. It is a no-op
// when there is no client, no local track and no attempt in flight.
func (s *CallSession) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.client == nil && len(s.local) == 0 && !s.status.InFlight() {
		s.mu.Unlock()
		return nil
	}
	s.epoch++
	client, local, unregister, cancel := s.client, s.local, s.unregister, s.cancel
	remote := s.roster.Clear()
	for _, t := range s.audio {
		remote = append(remote, t)
	}
	s.client, s.local, s.unregister, s.cancel, s.attemptCtx = nil, nil, nil, nil, nil
	s.audio = make(map[domain.UID]core.RemoteTrack)
	s.cred = nil
	s.status, s.message = domain.StatusDisconnecting, ""
	s.mu.Unlock()
	s.notify()

	runAll(unregister)
	if cancel != nil {
		cancel()
	}
	var err error
	if client != nil {
		if lerr := client.Leave(ctx); lerr != nil {
			err = fmt.Errorf("leave: %w", lerr)
			s.logger.Warn().Err(lerr).Msg("engine leave failed")
		}
	}
	for _, t := range remote {
		t.Stop()
	}
	closeLocal(local)

	s.mu.Lock()
	s.status, s.message = domain.StatusIdle, MsgDisconnected
	s.mu.Unlock()
	s.notify()
	s.logger.Info().Int("local_tracks", len(local)).Int("remote_tracks", len(remote)).Msg("disconnected")
	return err
}

// Teardown is Stop for views that go away without disconnecting.
func (s *CallSession) Teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("teardown")
	}
	s.closeWatchers()
}

func (s *CallSession) onRemotePublished(epoch uint64, user core.RemoteUser, kind domain.MediaKind) {
	s.mu.Lock()
	if s.epoch != epoch || s.client == nil {
		s.mu.Unlock()
		return
	}
	client, ctx := s.client, s.attemptCtx
	s.mu.Unlock()

	track, err := client.Subscribe(ctx, user, kind)
	if err != nil {
		s.logger.Warn().Err(err).Stringer("remote_uid", user.UID).Str("kind", string(kind)).Msg("subscribe failed")
		return
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		track.Stop()
		return
	}
	var stale core.RemoteTrack
	switch kind {
	case domain.KindVideo:
		if s.variant != domain.VariantVideo {
			s.mu.Unlock()
			track.Stop()
			return
		}
		stale = s.roster.PutVideo(user.UID, track)
	case domain.KindAudio:
		stale = s.audio[user.UID]
		s.audio[user.UID] = track
		s.roster.MarkKind(user.UID, kind)
	}
	s.mu.Unlock()

	if stale != nil && stale != track {
		stale.Stop()
	}
	if err := track.Play(); err != nil {
		s.logger.Warn().Err(err).Stringer("remote_uid", user.UID).Str("kind", string(kind)).Msg("play failed")
	}
	s.logger.Info().Stringer("remote_uid", user.UID).Str("kind", string(kind)).Msg("remote published")
	s.notify()
}

func (s *CallSession) onRemoteUnpublished(epoch uint64, user core.RemoteUser, kind domain.MediaKind) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	var stop []core.RemoteTrack
	video, removed := s.roster.Unpublish(user.UID, kind)
	if video != nil {
		stop = append(stop, video)
	}
	if kind == domain.KindAudio {
		if t, ok := s.audio[user.UID]; ok {
			delete(s.audio, user.UID)
			stop = append(stop, t)
		}
	}
	s.mu.Unlock()

	for _, t := range stop {
		t.Stop()
	}
	s.logger.Info().Stringer("remote_uid", user.UID).Str("kind", string(kind)).Bool("removed", removed).Msg("remote unpublished")
	s.notify()
}

func (s *CallSession) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	local := make([]domain.MediaKind, 0, len(s.local))
	for _, t := range s.local {
		local = append(local, t.Kind())
	}
	return Snapshot{
		Status:       s.status,
		Message:      s.message,
		Variant:      s.variant,
		Channel:      s.cfg.ChannelName,
		UID:          s.cfg.LocalIdentity,
		Role:         s.cfg.Role,
		LocalTracks:  local,
		Participants: s.roster.Snapshot(),
	}
}

// Watch returns a channel of snapshots, one per state change. Slow readers
// only ever miss intermediate states, never the latest one.
func (s *CallSession) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)
	s.watchMu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	s.watchMu.Unlock()
	return ch, func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		if c, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(c)
		}
	}
}

// notify takes the snapshot under watchMu; the last push always carries
// the current state.
func (s *CallSession) notify() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	snap := s.Snapshot()
	for _, ch := range s.watchers {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (s *CallSession) closeWatchers() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for id, ch := range s.watchers {
		delete(s.watchers, id)
		close(ch)
	}
}

func closeLocal(tracks []core.LocalTrack) {
	for _, t := range tracks {
		if err := t.Close(); err != nil {
			log.Warn().Err(err).Str("module", "app.session").Str("track", t.ID()).Msg("close local track")
		}
	}
}

func runAll(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
