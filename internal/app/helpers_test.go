package app

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Scribe/internal/core"
	"github.com/dkeye/Scribe/internal/domain"
)

type fakeConn struct {
	mu      sync.Mutex
	sent    []core.Frame
	pings   int
	closed  bool
	pingErr error
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, f)
	return nil
}

func (c *fakeConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return c.pingErr
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeTranscriber records every call and tracks concurrent in-flight calls.
type fakeTranscriber struct {
	delay time.Duration
	text  string
	err   error

	mu    sync.Mutex
	calls [][]byte

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeTranscriber) Name() string                     { return "fake" }
func (f *fakeTranscriber) Initialize(context.Context) error { return nil }
func (f *fakeTranscriber) Cleanup(context.Context) error    { return nil }

func (f *fakeTranscriber) ProcessAudio(ctx context.Context, audio []byte, meta core.SessionMeta) (domain.TranscriptionResult, error) {
	n := f.inFlight.Add(1)
	for {
		max := f.maxInFlight.Load()
		if n <= max || f.maxInFlight.CompareAndSwap(max, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.calls = append(f.calls, audio)
	f.mu.Unlock()
	f.inFlight.Add(-1)

	if f.err != nil {
		return domain.TranscriptionResult{}, f.err
	}
	return domain.TranscriptionResult{Text: f.text, Timestamp: time.Now()}, nil
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTranscriber) totalBytes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += len(c)
	}
	return n
}

// fakeHandler counts invocations and records requests.
type fakeHandler struct {
	delay time.Duration
	err   error

	mu       sync.Mutex
	requests []*core.BatchRequest
}

func (h *fakeHandler) Handle(ctx context.Context, req *core.BatchRequest) (*core.BatchResponse, error) {
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	h.mu.Lock()
	h.requests = append(h.requests, req)
	h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	return &core.BatchResponse{Text: "handled"}, nil
}

func (h *fakeHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.requests)
}

// eventCollector drains a bus subscription into a slice.
type eventCollector struct {
	mu     sync.Mutex
	events []core.Event
	cancel func()
}

func collectEvents(b *Bus) *eventCollector {
	ch, cancel := b.Subscribe(128)
	c := &eventCollector{cancel: cancel}
	go func() {
		for ev := range ch {
			c.mu.Lock()
			c.events = append(c.events, ev)
			c.mu.Unlock()
		}
	}()
	return c
}

func (c *eventCollector) ofType(t core.EventType) []core.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []core.Event
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
