package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dkeye/Scribe/internal/core"
	"github.com/dkeye/Scribe/internal/domain"
	"github.com/dkeye/Scribe/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Connection is the registry's handle to one admitted session.
// The registry owns all its mutable state; other components hold it only
// to send or to read liveness.
type Connection struct {
	SessionID domain.SessionID
	UserID    domain.UserID

	conn core.Conn

	mu           sync.Mutex
	alive        bool
	lastActivity time.Time
	metadata     map[string]string
}

func (c *Connection) TrySend(f core.Frame) error {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
	return c.conn.TrySend(f)
}

// Refresh records an application- or protocol-level liveness signal.
func (c *Connection) Refresh() {
	c.mu.Lock()
	c.alive = true
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Connection) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

func (c *Connection) markNotAlive() {
	c.mu.Lock()
	c.alive = false
	c.mu.Unlock()
}

func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Metadata returns a copy of the opaque admission metadata.
func (c *Connection) Metadata() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.metadata))
	for k, v := range c.metadata {
		out[k] = v
	}
	return out
}

type RegistryConfig struct {
	MaxPerUser   int
	PingInterval time.Duration
	PongTimeout  time.Duration
}

// Registry owns the set of live sessions: admission with a per-user cap,
// dual session/user indices, delivery, and heartbeat liveness.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*Connection
	users    map[domain.UserID]map[domain.SessionID]struct{}

	cfg     RegistryConfig
	bus     *Bus
	metrics *metrics.Metrics
}

func NewRegistry(cfg RegistryConfig, bus *Bus, m *metrics.Metrics) *Registry {
	if cfg.MaxPerUser <= 0 {
		cfg.MaxPerUser = 5
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 5 * time.Second
	}
	return &Registry{
		sessions: make(map[domain.SessionID]*Connection),
		users:    make(map[domain.UserID]map[domain.SessionID]struct{}),
		cfg:      cfg,
		bus:      bus,
		metrics:  m,
	}
}

// Admit registers a connection in both indices. It fails with
// core.ErrConnectionLimit when the user already holds the maximum number of
// sessions; the caller must close the transport with a distinguishing code.
func (r *Registry) Admit(conn core.Conn, sid domain.SessionID, uid domain.UserID, meta map[string]string) (*Connection, error) {
	var replaced *Connection

	r.mu.Lock()
	if uid != "" && len(r.users[uid]) >= r.cfg.MaxPerUser {
		if _, dup := r.users[uid][sid]; !dup {
			r.mu.Unlock()
			if r.metrics != nil {
				r.metrics.SessionsRejected.Inc()
			}
			log.Warn().Str("module", "app.registry").Str("sid", string(sid)).Str("uid", string(uid)).Msg("admission rejected: connection limit")
			return nil, core.ErrConnectionLimit
		}
	}
	if old, ok := r.sessions[sid]; ok {
		replaced = old
		r.dropLocked(sid)
	}
	c := &Connection{
		SessionID:    sid,
		UserID:       uid,
		conn:         conn,
		alive:        true,
		lastActivity: time.Now(),
		metadata:     meta,
	}
	r.sessions[sid] = c
	if uid != "" {
		set, ok := r.users[uid]
		if !ok {
			set = make(map[domain.SessionID]struct{})
			r.users[uid] = set
		}
		set[sid] = struct{}{}
	}
	r.mu.Unlock()

	if replaced != nil {
		log.Warn().Str("module", "app.registry").Str("sid", string(sid)).Msg("session replaced, closing previous transport")
		replaced.conn.Close()
	}
	if r.metrics != nil {
		r.metrics.SessionsAdmitted.Inc()
		r.metrics.ActiveSessions.Inc()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("uid", string(uid)).Msg("session admitted")
	r.bus.Publish(core.Event{Type: core.EventConnected, SessionID: sid, UserID: uid})
	return c, nil
}

// dropLocked removes sid from both indices. Caller holds r.mu.
func (r *Registry) dropLocked(sid domain.SessionID) {
	c, ok := r.sessions[sid]
	if !ok {
		return
	}
	delete(r.sessions, sid)
	if c.UserID != "" {
		if set, ok := r.users[c.UserID]; ok {
			delete(set, sid)
			if len(set) == 0 {
				delete(r.users, c.UserID)
			}
		}
	}
}

// Remove cleans both indices. Idempotent: removing an unknown or already
// removed session is a no-op.
func (r *Registry) Remove(sid domain.SessionID) bool {
	r.mu.Lock()
	c, ok := r.sessions[sid]
	if !ok {
		r.mu.Unlock()
		return false
	}
	r.dropLocked(sid)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SessionsRemoved.Inc()
		r.metrics.ActiveSessions.Dec()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("session removed")
	r.bus.Publish(core.Event{Type: core.EventDisconnected, SessionID: sid, UserID: c.UserID})
	return true
}

func (r *Registry) Get(sid domain.SessionID) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.sessions[sid]
	return c, ok
}

func (r *Registry) ByUser(uid domain.UserID) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.users[uid]))
	for sid := range r.users[uid] {
		if c, ok := r.sessions[sid]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Send serializes v and delivers it to the session. Returns false, not an
// error, when the session is unknown or the transport is not writable.
func (r *Registry) Send(sid domain.SessionID, v any) bool {
	c, ok := r.Get(sid)
	if !ok {
		return false
	}
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Str("sid", string(sid)).Msg("send marshal")
		return false
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "app.registry").Str("sid", string(sid)).Msg("send failed")
		return false
	}
	return true
}

// Broadcast delivers v to every connection matching pred (nil matches all)
// and returns the count of successful deliveries.
func (r *Registry) Broadcast(v any, pred func(*Connection) bool) int {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Msg("broadcast marshal")
		return 0
	}

	r.mu.RLock()
	targets := make([]*Connection, 0, len(r.sessions))
	for _, c := range r.sessions {
		if pred == nil || pred(c) {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if err := c.TrySend(b); err == nil {
			sent++
		}
	}
	return sent
}

// Refresh records an application-level liveness signal (pong) for sid.
func (r *Registry) Refresh(sid domain.SessionID) {
	if c, ok := r.Get(sid); ok {
		c.Refresh()
	}
}

// SessionInfo is a read-only view for monitoring APIs.
type SessionInfo struct {
	SessionID    domain.SessionID `json:"sessionId"`
	UserID       domain.UserID    `json:"userId,omitempty"`
	Alive        bool             `json:"alive"`
	LastActivity time.Time        `json:"lastActivity"`
}

func (r *Registry) Snapshot() []SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for _, c := range r.sessions {
		out = append(out, SessionInfo{
			SessionID:    c.SessionID,
			UserID:       c.UserID,
			Alive:        c.Alive(),
			LastActivity: c.LastActivity(),
		})
	}
	return out
}

// StartHeartbeat runs the liveness protocol until ctx is done. Each tick a
// connection that never refreshed since the previous tick is reaped; the
// others are marked not-alive and pinged, with a bounded per-ping wait.
func (r *Registry) StartHeartbeat(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.cfg.PingInterval)
		defer ticker.Stop()
		log.Info().Str("module", "app.registry").Dur("interval", r.cfg.PingInterval).Msg("heartbeat started")
		for {
			select {
			case <-ctx.Done():
				log.Info().Str("module", "app.registry").Msg("heartbeat stopped")
				return
			case <-ticker.C:
				r.heartbeatTick()
			}
		}
	}()
}

func (r *Registry) heartbeatTick() {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.sessions))
	for _, c := range r.sessions {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		if !c.Alive() {
			log.Info().Str("module", "app.registry").Str("sid", string(c.SessionID)).Msg("no liveness signal for a full interval, reaping")
			r.reap(c)
			continue
		}
		c.markNotAlive()
		if err := c.conn.Ping(); err != nil {
			log.Info().Err(err).Str("module", "app.registry").Str("sid", string(c.SessionID)).Msg("ping failed, reaping")
			r.reap(c)
			continue
		}
		conn := c
		time.AfterFunc(r.cfg.PongTimeout, func() {
			cur, ok := r.Get(conn.SessionID)
			if ok && cur == conn && !conn.Alive() {
				log.Info().Str("module", "app.registry").Str("sid", string(conn.SessionID)).Msg("pong timeout, reaping")
				r.reap(conn)
			}
		})
	}
}

// reap terminates a dead connection. This is a normal disconnection path,
// not an error: it goes through the same cleanup as a client-initiated close.
func (r *Registry) reap(c *Connection) {
	if r.metrics != nil {
		r.metrics.LivenessTerminated.Inc()
	}
	c.conn.Close()
	r.Remove(c.SessionID)
}
