// Package stub provides a deterministic transcription capability so the
// relay runs without any provider credentials.
package stub

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dkeye/Scribe/internal/core"
	"github.com/dkeye/Scribe/internal/domain"
	"github.com/rs/zerolog/log"
)

type Provider struct {
	totalBytes atomic.Uint64
	calls      atomic.Uint64
}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) Name() string { return "stub" }

func (p *Provider) Initialize(ctx context.Context) error {
	log.Info().Str("module", "providers.stub").Msg("stub provider initialized")
	return nil
}

// ProcessAudio generates a placeholder transcript. Empty payloads produce an
// empty transcript, which the orchestrator suppresses.
func (p *Provider) ProcessAudio(ctx context.Context, audio []byte, meta core.SessionMeta) (domain.TranscriptionResult, error) {
	if len(audio) == 0 {
		return domain.TranscriptionResult{Timestamp: time.Now()}, nil
	}
	p.totalBytes.Add(uint64(len(audio)))
	n := p.calls.Add(1)
	return domain.TranscriptionResult{
		Text:       fmt.Sprintf("[stub] call %d, %d bytes", n, len(audio)),
		Confidence: 0.42,
		Timestamp:  time.Now(),
		Metadata:   map[string]string{"sessionId": string(meta.SessionID)},
	}, nil
}

func (p *Provider) Cleanup(ctx context.Context) error {
	log.Info().Str("module", "providers.stub").Uint64("total_bytes", p.totalBytes.Load()).Msg("stub provider cleaned up")
	return nil
}
