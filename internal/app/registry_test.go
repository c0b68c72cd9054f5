package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Scribe/internal/core"
	"github.com/dkeye/Scribe/internal/domain"
)

func newTestRegistry(cfg RegistryConfig) *Registry {
	return NewRegistry(cfg, NewBus(), nil)
}

func TestAdmitEnforcesPerUserCap(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(RegistryConfig{MaxPerUser: 2})

	if _, err := r.Admit(&fakeConn{}, "s1", "u1", nil); err != nil {
		t.Fatalf("first admit failed: %v", err)
	}
	if _, err := r.Admit(&fakeConn{}, "s2", "u1", nil); err != nil {
		t.Fatalf("second admit failed: %v", err)
	}

	_, err := r.Admit(&fakeConn{}, "s3", "u1", nil)
	if !errors.Is(err, core.ErrConnectionLimit) {
		t.Fatalf("expected ErrConnectionLimit, got %v", err)
	}
	if r.Count() != 2 {
		t.Fatalf("rejected admission changed state: count=%d", r.Count())
	}
	if _, ok := r.Get("s3"); ok {
		t.Fatalf("rejected session was registered")
	}

	// A different user is unaffected.
	if _, err := r.Admit(&fakeConn{}, "s4", "u2", nil); err != nil {
		t.Fatalf("other user admit failed: %v", err)
	}
}

func TestAdmitWithoutUserSkipsCap(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(RegistryConfig{MaxPerUser: 1})
	for i, sid := range []domain.SessionID{"a", "b", "c"} {
		if _, err := r.Admit(&fakeConn{}, sid, "", nil); err != nil {
			t.Fatalf("admit %d failed: %v", i, err)
		}
	}
	if r.Count() != 3 {
		t.Fatalf("expected 3 sessions, got %d", r.Count())
	}
}

func TestIndexConsistency(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(RegistryConfig{})
	if _, err := r.Admit(&fakeConn{}, "s1", "u1", nil); err != nil {
		t.Fatalf("admit failed: %v", err)
	}

	conns := r.ByUser("u1")
	if len(conns) != 1 || conns[0].SessionID != "s1" {
		t.Fatalf("user index missing session: %+v", conns)
	}
	if _, ok := r.Get("s1"); !ok {
		t.Fatalf("session index missing session")
	}

	r.Remove("s1")
	if _, ok := r.Get("s1"); ok {
		t.Fatalf("session still in primary index after remove")
	}
	if got := r.ByUser("u1"); len(got) != 0 {
		t.Fatalf("session still in user index after remove: %+v", got)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(RegistryConfig{})
	if _, err := r.Admit(&fakeConn{}, "s1", "u1", nil); err != nil {
		t.Fatalf("admit failed: %v", err)
	}

	if !r.Remove("s1") {
		t.Fatalf("first remove reported no-op")
	}
	if r.Remove("s1") {
		t.Fatalf("second remove reported work done")
	}
	if r.Remove("never-existed") {
		t.Fatalf("removing unknown session reported work done")
	}
}

func TestSendSerializesAndDelivers(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(RegistryConfig{})
	conn := &fakeConn{}
	if _, err := r.Admit(conn, "s1", "u1", nil); err != nil {
		t.Fatalf("admit failed: %v", err)
	}

	if !r.Send("s1", map[string]string{"type": "pong"}) {
		t.Fatalf("send to live session failed")
	}
	if conn.sentCount() != 1 {
		t.Fatalf("expected 1 frame, got %d", conn.sentCount())
	}
	if r.Send("ghost", map[string]string{"type": "pong"}) {
		t.Fatalf("send to unknown session reported success")
	}
}

func TestBroadcastWithPredicate(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(RegistryConfig{})
	c1, c2, c3 := &fakeConn{}, &fakeConn{}, &fakeConn{}
	mustAdmit(t, r, c1, "s1", "u1")
	mustAdmit(t, r, c2, "s2", "u1")
	mustAdmit(t, r, c3, "s3", "u2")

	n := r.Broadcast(map[string]string{"type": "notice"}, func(c *Connection) bool {
		return c.UserID == "u1"
	})
	if n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	if c3.sentCount() != 0 {
		t.Fatalf("predicate did not filter")
	}

	if n := r.Broadcast(map[string]string{"type": "notice"}, nil); n != 3 {
		t.Fatalf("expected 3 deliveries without predicate, got %d", n)
	}
}

func mustAdmit(t *testing.T, r *Registry, conn core.Conn, sid domain.SessionID, uid domain.UserID) {
	t.Helper()
	if _, err := r.Admit(conn, sid, uid, nil); err != nil {
		t.Fatalf("admit %s failed: %v", sid, err)
	}
}

func TestHeartbeatReapsSilentPeer(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(RegistryConfig{PingInterval: 20 * time.Millisecond, PongTimeout: 10 * time.Millisecond})
	conn := &fakeConn{}
	mustAdmit(t, r, conn, "s1", "u1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartHeartbeat(ctx)

	waitFor(t, time.Second, func() bool {
		_, ok := r.Get("s1")
		return !ok && conn.isClosed()
	}, "silent peer to be reaped")
}

func TestHeartbeatKeepsRefreshedPeer(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(RegistryConfig{PingInterval: 20 * time.Millisecond, PongTimeout: 10 * time.Millisecond})
	conn := &fakeConn{}
	mustAdmit(t, r, conn, "s1", "u1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartHeartbeat(ctx)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.Refresh("s1")
			}
		}
	}()

	time.Sleep(150 * time.Millisecond)
	if _, ok := r.Get("s1"); !ok {
		t.Fatalf("refreshed peer was reaped")
	}
}

func TestHeartbeatReapsFailedPing(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(RegistryConfig{PingInterval: 20 * time.Millisecond, PongTimeout: 10 * time.Millisecond})
	conn := &fakeConn{pingErr: errors.New("broken pipe")}
	mustAdmit(t, r, conn, "s1", "u1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartHeartbeat(ctx)

	waitFor(t, time.Second, func() bool {
		_, ok := r.Get("s1")
		return !ok
	}, "peer with broken transport to be reaped")
}

func TestAdmitPublishesConnectionEvents(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	r := NewRegistry(RegistryConfig{}, bus, nil)
	col := collectEvents(bus)
	defer col.cancel()

	mustAdmit(t, r, &fakeConn{}, "s1", "u1")
	r.Remove("s1")

	waitFor(t, time.Second, func() bool {
		return len(col.ofType(core.EventConnected)) == 1 && len(col.ofType(core.EventDisconnected)) == 1
	}, "connected and disconnected events")
}
