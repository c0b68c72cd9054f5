package app

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Scribe/internal/core"
	"github.com/dkeye/Scribe/internal/domain"
	"github.com/dkeye/Scribe/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// batch accumulates one session's artifacts between flushes. Destroyed and
// replaced on every flush; its lifetime is bounded by its first item's age.
type batch struct {
	audio     [][]byte
	results   []domain.TranscriptionResult
	timer     *time.Timer
	createdAt time.Time
}

func (b *batch) items() int { return len(b.audio) + len(b.results) }

type BatcherConfig struct {
	Timeout           time.Duration
	MaxSize           int
	IncludeAudio      bool
	IncludeTranscript bool
}

// Batcher accumulates per-session audio and transcription artifacts and
// hands them to a handler capability on a time/size schedule.
type Batcher struct {
	cfg     BatcherConfig
	handler core.BatchHandler
	bus     *Bus
	metrics *metrics.Metrics

	mu      sync.Mutex
	batches map[domain.SessionID]*batch

	// flushing serializes handler invocations per session.
	flushMu  sync.Mutex
	flushing map[domain.SessionID]*sync.Mutex
}

func NewBatcher(cfg BatcherConfig, handler core.BatchHandler, bus *Bus, m *metrics.Metrics) *Batcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10
	}
	return &Batcher{
		cfg:      cfg,
		handler:  handler,
		bus:      bus,
		metrics:  m,
		batches:  make(map[domain.SessionID]*batch),
		flushing: make(map[domain.SessionID]*sync.Mutex),
	}
}

// ensureLocked lazily creates the session's batch and arms its flush timer.
// The timer is armed at creation time only, never reset by appends.
// Caller holds b.mu.
func (b *Batcher) ensureLocked(sid domain.SessionID) *batch {
	if existing, ok := b.batches[sid]; ok {
		return existing
	}
	nb := &batch{createdAt: time.Now()}
	nb.timer = time.AfterFunc(b.cfg.Timeout, func() {
		b.FlushSession(sid)
	})
	b.batches[sid] = nb
	if b.metrics != nil {
		b.metrics.ActiveBatches.Inc()
	}
	return nb
}

// AddAudio appends a chunk's bytes to the session's batch. A no-op when
// audio inclusion is off, so a batch is never created purely from audio.
func (b *Batcher) AddAudio(sid domain.SessionID, chunk *domain.AudioChunk) {
	if !b.cfg.IncludeAudio || chunk == nil {
		return
	}
	b.mu.Lock()
	bt := b.ensureLocked(sid)
	bt.audio = append(bt.audio, chunk.Data)
	full := bt.items() >= b.cfg.MaxSize
	b.mu.Unlock()

	if full {
		go b.FlushSession(sid)
	}
}

// AddResult appends a transcription result to the session's batch.
func (b *Batcher) AddResult(sid domain.SessionID, result *domain.TranscriptionResult) {
	if !b.cfg.IncludeTranscript || result == nil {
		return
	}
	b.mu.Lock()
	bt := b.ensureLocked(sid)
	bt.results = append(bt.results, *result)
	full := bt.items() >= b.cfg.MaxSize
	b.mu.Unlock()

	if full {
		go b.FlushSession(sid)
	}
}

// FlushSession forces an immediate flush of the session's batch. No-op when
// none exists. Handler invocations for one session never overlap.
func (b *Batcher) FlushSession(sid domain.SessionID) {
	b.flushMu.Lock()
	gate, ok := b.flushing[sid]
	if !ok {
		gate = &sync.Mutex{}
		b.flushing[sid] = gate
	}
	b.flushMu.Unlock()

	gate.Lock()
	defer gate.Unlock()

	b.mu.Lock()
	bt, ok := b.batches[sid]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.batches, sid)
	bt.timer.Stop()
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.ActiveBatches.Dec()
	}
	if bt.items() == 0 {
		return
	}
	b.dispatch(sid, bt)
}

// FlushAll flushes every active batch concurrently and waits for all of
// them, including their handler invocations, to complete.
func (b *Batcher) FlushAll() {
	b.mu.Lock()
	sids := make([]domain.SessionID, 0, len(b.batches))
	for sid := range b.batches {
		sids = append(sids, sid)
	}
	b.mu.Unlock()

	var wg sync.WaitGroup
	for _, sid := range sids {
		wg.Add(1)
		go func(sid domain.SessionID) {
			defer wg.Done()
			b.FlushSession(sid)
		}(sid)
	}
	wg.Wait()
}

func (b *Batcher) dispatch(sid domain.SessionID, bt *batch) {
	req := &core.BatchRequest{
		BatchID:   uuid.NewString(),
		SessionID: sid,
		Metadata: map[string]string{
			"audioItems":      strconv.Itoa(len(bt.audio)),
			"transcriptItems": strconv.Itoa(len(bt.results)),
			"createdAt":       bt.createdAt.Format(time.RFC3339Nano),
		},
	}
	if len(bt.audio) > 0 {
		size := 0
		for _, a := range bt.audio {
			size += len(a)
		}
		req.Audio = make([]byte, 0, size)
		for _, a := range bt.audio {
			req.Audio = append(req.Audio, a...)
		}
	}
	if len(bt.results) > 0 {
		texts := make([]string, 0, len(bt.results))
		for _, r := range bt.results {
			texts = append(texts, r.Text)
		}
		req.Transcript = strings.Join(texts, "\n")
		req.Results = bt.results
	}

	if b.metrics != nil {
		b.metrics.BatchesFlushed.Inc()
		b.metrics.BatchItems.Observe(float64(bt.items()))
	}
	log.Info().Str("module", "app.batcher").Str("sid", string(sid)).Str("batch_id", req.BatchID).Int("items", bt.items()).Msg("batch ready")
	b.bus.Publish(core.Event{Type: core.EventBatchReady, SessionID: sid, Batch: req})

	if b.handler == nil {
		return
	}

	start := time.Now()
	resp, err := b.handler.Handle(context.Background(), req)
	elapsed := time.Since(start)
	if b.metrics != nil {
		b.metrics.HandlerDuration.Observe(elapsed.Seconds())
	}

	if err != nil {
		if b.metrics != nil {
			b.metrics.HandlerFailures.Inc()
		}
		log.Error().Err(err).Str("module", "app.batcher").Str("sid", string(sid)).Str("batch_id", req.BatchID).Msg("batch handler failed")
		b.bus.Publish(core.Event{
			Type:      core.EventBatchError,
			SessionID: sid,
			Batch:     req,
			Elapsed:   elapsed,
			Err:       &core.HandlerError{SessionID: sid, Err: err},
		})
		return
	}

	log.Info().Str("module", "app.batcher").Str("sid", string(sid)).Str("batch_id", req.BatchID).Dur("elapsed", elapsed).Msg("batch handled")
	b.bus.Publish(core.Event{
		Type:      core.EventBatchResponse,
		SessionID: sid,
		Batch:     req,
		Response:  resp,
		Elapsed:   elapsed,
	})
}
