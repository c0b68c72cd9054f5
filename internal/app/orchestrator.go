package app

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/Scribe/internal/core"
	"github.com/dkeye/Scribe/internal/domain"
	"github.com/dkeye/Scribe/internal/metrics"
	"github.com/rs/zerolog/log"
)

// pipeline holds one session's recording state, audio buffer and the
// single-flight dispatch flag. All fields are guarded by mu; the invariant
// the whole design protects is at most one outstanding transcription call
// per session.
type pipeline struct {
	meta core.SessionMeta

	mu         sync.Mutex
	state      domain.RecordingState
	buffer     [][]byte
	inFlight   bool
	flightDone chan struct{}
	closed     bool
}

// Orchestrator drives per-session control handling, audio buffering and
// sequential transcription dispatch.
type Orchestrator struct {
	Registry    *Registry
	Transcriber core.Transcriber

	bus     *Bus
	metrics *metrics.Metrics

	mu        sync.Mutex
	pipelines map[domain.SessionID]*pipeline
}

func NewOrchestrator(reg *Registry, tr core.Transcriber, bus *Bus, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		Registry:    reg,
		Transcriber: tr,
		bus:         bus,
		metrics:     m,
		pipelines:   make(map[domain.SessionID]*pipeline),
	}
}

// Bind creates the session's pipeline. Called by the transport adapter right
// after admission.
func (o *Orchestrator) Bind(sid domain.SessionID, uid domain.UserID, format domain.AudioFormat, meta map[string]string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pipelines[sid] = &pipeline{
		meta: core.SessionMeta{
			SessionID: sid,
			UserID:    uid,
			Format:    format,
			Metadata:  meta,
		},
		state: domain.StateIdle,
	}
	log.Info().Str("module", "app.orchestrator").Str("sid", string(sid)).Msg("pipeline bound")
}

func (o *Orchestrator) get(sid domain.SessionID) (*pipeline, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.pipelines[sid]
	return p, ok
}

// State reports the session's current recording state.
func (o *Orchestrator) State(sid domain.SessionID) (domain.RecordingState, bool) {
	p, ok := o.get(sid)
	if !ok {
		return "", false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, true
}

func (o *Orchestrator) StartRecording(sid domain.SessionID) {
	o.transition(sid, domain.StateIdle, domain.StateRecording, "start-recording")
}

func (o *Orchestrator) PauseRecording(sid domain.SessionID) {
	o.transition(sid, domain.StateRecording, domain.StatePaused, "pause-recording")
}

func (o *Orchestrator) ResumeRecording(sid domain.SessionID) {
	o.transition(sid, domain.StatePaused, domain.StateRecording, "resume-recording")
}

func (o *Orchestrator) transition(sid domain.SessionID, from, to domain.RecordingState, verb string) {
	p, ok := o.get(sid)
	if !ok {
		log.Warn().Str("module", "app.orchestrator").Str("sid", string(sid)).Str("verb", verb).Msg("control for unknown session")
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != from {
		log.Warn().Str("module", "app.orchestrator").Str("sid", string(sid)).Str("verb", verb).Str("state", string(p.state)).Msg("ignoring control in wrong state")
		return
	}
	p.state = to
	log.Info().Str("module", "app.orchestrator").Str("sid", string(sid)).Str("state", string(to)).Msg("recording state changed")
}

// StopRecording forces a synchronous drain: it waits for any outstanding
// call, dispatches whatever remains buffered, and only then returns with the
// session back in Idle.
func (o *Orchestrator) StopRecording(ctx context.Context, sid domain.SessionID) error {
	p, ok := o.get(sid)
	if !ok {
		log.Warn().Str("module", "app.orchestrator").Str("sid", string(sid)).Msg("stop-recording for unknown session")
		return nil
	}

	p.mu.Lock()
	if p.state != domain.StateRecording && p.state != domain.StatePaused {
		log.Warn().Str("module", "app.orchestrator").Str("sid", string(sid)).Str("state", string(p.state)).Msg("stop-recording in wrong state")
		p.mu.Unlock()
		return nil
	}
	p.state = domain.StateStopping
	p.mu.Unlock()

	for {
		p.mu.Lock()
		if p.inFlight {
			done := p.flightDone
			p.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if len(p.buffer) == 0 {
			p.state = domain.StateIdle
			p.mu.Unlock()
			log.Info().Str("module", "app.orchestrator").Str("sid", string(sid)).Msg("drain complete")
			return nil
		}
		payload := p.takeBufferLocked()
		p.inFlight = true
		p.flightDone = make(chan struct{})
		p.mu.Unlock()
		o.process(p, payload)
	}
}

// OnAudio ingests one inbound binary frame. The chunk is emitted as a raw
// observability event before any transcription happens; frames arriving
// outside the Recording state are dropped before buffering.
func (o *Orchestrator) OnAudio(sid domain.SessionID, data []byte) {
	p, ok := o.get(sid)
	if !ok {
		return
	}
	if o.metrics != nil {
		o.metrics.AudioFramesReceived.Inc()
		o.metrics.AudioBytesReceived.Add(float64(len(data)))
	}

	p.mu.Lock()
	if p.state != domain.StateRecording {
		p.mu.Unlock()
		if o.metrics != nil {
			o.metrics.AudioFramesDropped.Inc()
		}
		log.Debug().Str("module", "app.orchestrator").Str("sid", string(sid)).Str("state", string(p.state)).Msg("dropping audio outside recording")
		return
	}
	chunk := domain.AudioChunk{
		SessionID: sid,
		Data:      data,
		Format:    p.meta.Format,
		Timestamp: time.Now(),
	}
	p.buffer = append(p.buffer, data)
	p.mu.Unlock()

	o.bus.Publish(core.Event{Type: core.EventAudio, SessionID: sid, UserID: p.meta.UserID, Chunk: &chunk})
	o.maybeDispatch(p)
}

// maybeDispatch starts a transcription call when none is outstanding and
// audio is buffered. The whole buffer is concatenated into one payload.
func (o *Orchestrator) maybeDispatch(p *pipeline) {
	p.mu.Lock()
	if p.inFlight || p.closed || len(p.buffer) == 0 || p.state == domain.StateStopping {
		p.mu.Unlock()
		return
	}
	payload := p.takeBufferLocked()
	p.inFlight = true
	p.flightDone = make(chan struct{})
	p.mu.Unlock()

	go func() {
		o.process(p, payload)
		o.maybeDispatch(p)
	}()
}

// takeBufferLocked concatenates and clears the buffer. Caller holds p.mu.
func (p *pipeline) takeBufferLocked() []byte {
	size := 0
	for _, b := range p.buffer {
		size += len(b)
	}
	payload := make([]byte, 0, size)
	for _, b := range p.buffer {
		payload = append(payload, b...)
	}
	p.buffer = nil
	return payload
}

// process issues exactly one transcription call and releases the
// single-flight lock when it completes, success or failure.
func (o *Orchestrator) process(p *pipeline, payload []byte) {
	sid := p.meta.SessionID

	if o.metrics != nil {
		o.metrics.TranscriptionRequests.Inc()
	}
	start := time.Now()
	res, err := o.Transcriber.ProcessAudio(context.Background(), payload, p.meta)
	elapsed := time.Since(start)
	if o.metrics != nil {
		o.metrics.TranscriptionDuration.Observe(elapsed.Seconds())
	}

	p.mu.Lock()
	p.inFlight = false
	close(p.flightDone)
	closed := p.closed
	p.mu.Unlock()

	if err != nil {
		if o.metrics != nil {
			o.metrics.TranscriptionFailures.Inc()
		}
		log.Error().Err(err).Str("module", "app.orchestrator").Str("sid", string(sid)).Dur("elapsed", elapsed).Msg("transcription failed")
		o.bus.Publish(core.Event{
			Type:      core.EventError,
			SessionID: sid,
			UserID:    p.meta.UserID,
			Err:       &core.TranscriptionError{SessionID: sid, Err: err},
		})
		if !closed {
			o.Registry.Send(sid, map[string]any{"type": "error", "message": "transcription failed"})
		}
		return
	}

	if res.Text == "" {
		// No speech detected; not surfaced as noise.
		if o.metrics != nil {
			o.metrics.TranscriptionEmpty.Inc()
		}
		return
	}

	if !closed {
		o.Registry.Send(sid, map[string]any{"type": "transcription", "data": res})
	}
	o.bus.Publish(core.Event{Type: core.EventTranscription, SessionID: sid, UserID: p.meta.UserID, Result: &res})
}

// OnDisconnect tears down the session's pipeline. Buffered-but-undispatched
// audio is discarded; an already-outstanding call completes in the
// background. Idempotent with any concurrent cleanup path.
func (o *Orchestrator) OnDisconnect(sid domain.SessionID) {
	o.mu.Lock()
	p, ok := o.pipelines[sid]
	delete(o.pipelines, sid)
	o.mu.Unlock()
	if !ok {
		return
	}

	p.mu.Lock()
	p.buffer = nil
	p.state = domain.StateIdle
	p.closed = true
	p.mu.Unlock()
	log.Info().Str("module", "app.orchestrator").Str("sid", string(sid)).Msg("pipeline torn down")
}
