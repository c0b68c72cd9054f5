package stream

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dkeye/Scribe/internal/app"
	"github.com/dkeye/Scribe/internal/core"
	"github.com/dkeye/Scribe/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

// CloseConnectionLimit is the close code sent on admission rejection,
// distinct from normal closure.
const CloseConnectionLimit = 4001

type Controller struct {
	Registry *app.Registry
	Orch     *app.Orchestrator

	ReadLimit    int64
	WriteTimeout time.Duration
}

func NewController(reg *app.Registry, orch *app.Orchestrator, readLimit int64, writeTimeout time.Duration) *Controller {
	if readLimit <= 0 {
		readLimit = 1 << 20
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Controller{
		Registry:     reg,
		Orch:         orch,
		ReadLimit:    readLimit,
		WriteTimeout: writeTimeout,
	}
}

// streamConn is the transport endpoint handed to the registry.
// It implements core.Conn.
type streamConn struct {
	conn         *websocket.Conn
	send         chan core.Frame
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

func (c *streamConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// Ping sends a protocol-level ping control frame. Safe concurrently with
// the write pump (gorilla allows concurrent WriteControl).
func (c *streamConn) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *streamConn) Close() {
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

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleStream upgrades the connection and runs admission. Rejected
// admissions close the channel with CloseConnectionLimit; admitted sessions
// get a pipeline and their read/write pumps.
func (ctl *Controller) HandleStream(ctx context.Context, c *gin.Context) {
	sid := domain.SessionID(c.Query("session_id"))
	if sid == "" {
		sid = domain.SessionID(c.GetString("client_token"))
	}
	uid := domain.UserID(c.Query("user_id"))
	log.Info().Str("module", "adapters.stream").Str("sid", string(sid)).Str("uid", string(uid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.stream").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.ReadLimit)

	conn := &streamConn{
		conn:         ws,
		send:         make(chan core.Frame, 256),
		writeTimeout: ctl.WriteTimeout,
	}

	meta := admissionMetadata(c)
	if _, err := ctl.Registry.Admit(conn, sid, uid, meta); err != nil {
		deadline := time.Now().Add(ctl.WriteTimeout)
		msg := websocket.FormatCloseMessage(CloseConnectionLimit, "connection limit reached")
		_ = ws.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = ws.Close()
		return
	}

	ws.SetPongHandler(func(string) error {
		ctl.Registry.Refresh(sid)
		return nil
	})

	ctl.Orch.Bind(sid, uid, audioFormat(c), meta)

	go ctl.writePump(ctx, sid, conn)
	go ctl.readPump(ctx, sid, conn)
}

// admissionMetadata collects opaque query params, excluding the reserved ones.
func admissionMetadata(c *gin.Context) map[string]string {
	meta := make(map[string]string)
	for k, vs := range c.Request.URL.Query() {
		switch k {
		case "session_id", "user_id", "format", "sample_rate", "channels":
			continue
		}
		if len(vs) > 0 {
			meta[k] = vs[0]
		}
	}
	return meta
}

func audioFormat(c *gin.Context) domain.AudioFormat {
	f := domain.AudioFormat{MIMEType: c.DefaultQuery("format", "audio/webm")}
	if v, err := strconv.Atoi(c.Query("sample_rate")); err == nil {
		f.SampleRate = v
	}
	if v, err := strconv.Atoi(c.Query("channels")); err == nil {
		f.Channels = v
	}
	return f
}
