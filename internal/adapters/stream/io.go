package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/Scribe/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *Controller) writePump(ctx context.Context, sid domain.SessionID, c *streamConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "adapters.stream").Str("sid", string(sid)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "adapters.stream").Str("sid", string(sid)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				log.Error().Err(err).Str("module", "adapters.stream").Str("sid", string(sid)).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "adapters.stream").Str("sid", string(sid)).Msg("writePump write error")
				return
			}
		}
	}
}

// readPump is the single cleanup path: whether the client closed, the
// heartbeat reaped the transport, or a read failed, the session is torn down
// here exactly once (teardown itself is idempotent).
func (ctl *Controller) readPump(ctx context.Context, sid domain.SessionID, c *streamConn) {
	defer func() {
		log.Info().Str("module", "adapters.stream").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Orch.OnDisconnect(sid)
		ctl.Registry.Remove(sid)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "adapters.stream").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			mt, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "adapters.stream").Str("sid", string(sid)).Msg("readPump read error")
				return
			}
			ctl.handleFrame(ctx, sid, c, mt, data)
		}
	}
}

// handleFrame routes one inbound frame: structured control data is
// dispatched by type, anything else is a raw audio frame.
func (ctl *Controller) handleFrame(ctx context.Context, sid domain.SessionID, c *streamConn, mt int, data []byte) {
	if mt == websocket.BinaryMessage {
		ctl.Orch.OnAudio(sid, data)
		return
	}

	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		ctl.Orch.OnAudio(sid, data)
		return
	}
	ctl.handleControl(ctx, sid, c, env.Type)
}

func (ctl *Controller) sendJSON(c *streamConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.stream").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
