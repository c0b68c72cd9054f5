package stream

import (
	"context"
	"time"

	"github.com/dkeye/Scribe/internal/domain"
	"github.com/rs/zerolog/log"
)

type ack struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func newAck(t string) ack {
	return ack{Type: t, Timestamp: time.Now().UnixMilli()}
}

// handleControl acknowledges every recognized control message with a
// matching confirmation; unknown types are logged and ignored.
func (ctl *Controller) handleControl(ctx context.Context, sid domain.SessionID, c *streamConn, msgType string) {
	switch msgType {
	case "ping":
		ctl.Registry.Refresh(sid)
		ctl.sendJSON(c, newAck("pong"))
	case "start-recording":
		ctl.Orch.StartRecording(sid)
		ctl.sendJSON(c, newAck("recording-started"))
	case "stop-recording":
		// Synchronous drain: the ack waits until the buffer is empty and no
		// call is outstanding. Blocks only this session's read loop.
		if err := ctl.Orch.StopRecording(ctx, sid); err != nil {
			log.Warn().Err(err).Str("module", "adapters.stream").Str("sid", string(sid)).Msg("stop drain interrupted")
			return
		}
		ctl.sendJSON(c, newAck("recording-stopped"))
	case "pause-recording":
		ctl.Orch.PauseRecording(sid)
		ctl.sendJSON(c, newAck("recording-paused"))
	case "resume-recording":
		ctl.Orch.ResumeRecording(sid)
		ctl.sendJSON(c, newAck("recording-resumed"))
	default:
		log.Warn().Str("module", "adapters.stream").Str("sid", string(sid)).Str("type", msgType).Msg("unknown control message")
	}
}
