package app

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

func newTestRegistry() (*Registry, *int) {
	built := 0
	reg := NewRegistry(func(v domain.Variant) *CallSession {
		built++
		return NewCallSession(&fakeTokens{token: "t"}, newFakeEngine(), Options{AppID: "app", Variant: v})
	})
	return reg, &built
}

func TestRegistryBindSameVariant(t *testing.T) {
	reg, built := newTestRegistry()
	a := reg.Bind("sid", domain.VariantVideo)
	b := reg.Bind("sid", domain.VariantVideo)
	if a != b || *built != 1 {
		t.Errorf("same variant rebuilt session: built=%d", *built)
	}
}

func TestRegistryBindOtherVariantTearsDown(t *testing.T) {
	reg, _ := newTestRegistry()
	old := reg.Bind("sid", domain.VariantVideo)
	updates, _ := old.Watch()
	if err := old.Start(context.Background(), StartRequest{ChannelName: "room1", UID: "1"}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	next := reg.Bind("sid", domain.VariantAudio)
	if next == old || next.Variant() != domain.VariantAudio {
		t.Fatal("variant switch did not replace the session")
	}
	if old.Status() != domain.StatusIdle {
		t.Errorf("old session status = %s, want idle", old.Status())
	}
	for range updates {
	}
	if got, _ := reg.Get("sid"); got != next {
		t.Error("registry does not hold the new session")
	}
}

func TestRegistryDetachView(t *testing.T) {
	reg, _ := newTestRegistry()
	sess := reg.Bind("sid", domain.VariantVideo)

	firstCancelled := false
	reg.BindView("sid", "v1", func() { firstCancelled = true })
	reg.BindView("sid", "v2", func() {})
	if !firstCancelled {
		t.Error("replacing a view did not cancel the old one")
	}

	if reg.DetachView("sid", "v1") {
		t.Error("stale view detached the session")
	}
	if _, ok := reg.Get("sid"); !ok {
		t.Fatal("session lost after stale detach")
	}

	updates, _ := sess.Watch()
	if !reg.DetachView("sid", "v2") {
		t.Error("current view did not detach")
	}
	for range updates {
	}
	if reg.Len() != 0 {
		t.Errorf("len = %d, want 0", reg.Len())
	}
}

func TestRegistryBindAfterBindView(t *testing.T) {
	reg, built := newTestRegistry()
	reg.BindView("sid", "v1", func() {})
	if _, ok := reg.Get("sid"); ok {
		t.Fatal("view-only entry reported a session")
	}
	if sess := reg.Bind("sid", domain.VariantVideo); sess == nil || *built != 1 {
		t.Errorf("bind after view: sess=%v built=%d", sess, *built)
	}
}

func TestRegistryCancelAndUnbind(t *testing.T) {
	reg, _ := newTestRegistry()
	if reg.Cancel("missing") {
		t.Error("cancel of unknown sid reported true")
	}
	reg.Bind("sid", domain.VariantVideo)
	cancelled := 0
	reg.BindView("sid", "v1", func() { cancelled++ })

	if !reg.Cancel("sid") || cancelled != 1 {
		t.Errorf("cancel: cancelled=%d", cancelled)
	}
	if _, ok := reg.Get("sid"); !ok {
		t.Error("Cancel dropped the session")
	}

	reg.Unbind("sid")
	if reg.Len() != 0 {
		t.Errorf("len after unbind = %d", reg.Len())
	}
}

func TestRegistryCloseAll(t *testing.T) {
	reg, _ := newTestRegistry()
	var sessions []*CallSession
	for _, sid := range []core.SessionID{"a", "b", "c"} {
		s := reg.Bind(sid, domain.VariantVideo)
		if err := s.Start(context.Background(), StartRequest{ChannelName: "room", UID: "1"}); err != nil {
			t.Fatalf("Start %s: %v", sid, err)
		}
		sessions = append(sessions, s)
	}

	reg.CloseAll()
	if reg.Len() != 0 {
		t.Errorf("len = %d, want 0", reg.Len())
	}
	for _, s := range sessions {
		if s.Status() != domain.StatusIdle {
			t.Errorf("status = %s, want idle", s.Status())
		}
	}
}

func TestRegistryEvict(t *testing.T) {
	reg, _ := newTestRegistry()
	if reg.Evict("missing") {
		t.Error("evicted an unknown sid")
	}

	active := reg.Bind("active", domain.VariantVideo)
	if err := active.Start(context.Background(), StartRequest{ChannelName: "room", UID: "1"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if reg.Evict("active") {
		t.Error("evicted a session with a running call")
	}

	reg.Bind("viewed", domain.VariantVideo)
	reg.BindView("viewed", "v1", func() {})
	if reg.Evict("viewed") {
		t.Error("evicted a session with an attached view")
	}

	reg.Bind("idle", domain.VariantVideo)
	if !reg.Evict("idle") {
		t.Error("idle session without view not evicted")
	}
	if reg.Len() != 2 {
		t.Errorf("len = %d, want 2", reg.Len())
	}
}

func TestRegistrySweep(t *testing.T) {
	reg, _ := newTestRegistry()
	now := time.Unix(1000, 0)
	reg.now = func() time.Time { return now }

	reg.Bind("old", domain.VariantVideo)
	now = now.Add(5 * time.Minute)
	reg.Bind("new", domain.VariantVideo)
	now = now.Add(5 * time.Minute)

	if n := reg.Sweep(7 * time.Minute); n != 1 {
		t.Errorf("swept %d, want 1", n)
	}
	if _, ok := reg.Get("old"); ok {
		t.Error("old session survived")
	}

	// Get keeps a session alive
	now = now.Add(10 * time.Minute)
	reg.Get("new")
	if n := reg.Sweep(7 * time.Minute); n != 0 {
		t.Errorf("swept %d recently used sessions", n)
	}
}
