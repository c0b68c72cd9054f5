// Package whisper implements the transcription capability on top of the
// OpenAI audio transcription API.
package whisper

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/dkeye/Scribe/internal/core"
	"github.com/dkeye/Scribe/internal/domain"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

type Provider struct {
	client *openai.Client
	apiKey string
	model  string
}

func New(apiKey, model string) *Provider {
	if model == "" {
		model = openai.Whisper1
	}
	return &Provider{apiKey: apiKey, model: model}
}

func (p *Provider) Name() string { return "whisper" }

// Initialize builds the client and verifies credentials are present.
// A failure here is fatal to startup.
func (p *Provider) Initialize(ctx context.Context) error {
	if p.apiKey == "" {
		return &core.ProviderError{Provider: p.Name(), Err: errors.New("missing OPENAI_API_KEY")}
	}
	p.client = openai.NewClient(p.apiKey)
	if _, err := p.client.ListModels(ctx); err != nil {
		return &core.ProviderError{Provider: p.Name(), Err: err}
	}
	log.Info().Str("module", "providers.whisper").Str("model", p.model).Msg("whisper provider initialized")
	return nil
}

func (p *Provider) ProcessAudio(ctx context.Context, audio []byte, meta core.SessionMeta) (domain.TranscriptionResult, error) {
	if len(audio) == 0 {
		return domain.TranscriptionResult{Timestamp: time.Now()}, nil
	}
	req := openai.AudioRequest{
		Model:    p.model,
		FilePath: fileName(meta.Format.MIMEType),
		Reader:   bytes.NewReader(audio),
	}
	resp, err := p.client.CreateTranscription(ctx, req)
	if err != nil {
		return domain.TranscriptionResult{}, err
	}
	return domain.TranscriptionResult{
		Text:      resp.Text,
		Timestamp: time.Now(),
		Metadata:  map[string]string{"sessionId": string(meta.SessionID)},
	}, nil
}

func (p *Provider) Cleanup(ctx context.Context) error {
	log.Info().Str("module", "providers.whisper").Msg("whisper provider cleaned up")
	return nil
}

// fileName gives the API a name whose extension matches the declared format.
func fileName(mimeType string) string {
	switch mimeType {
	case "audio/wav", "audio/x-wav":
		return "chunk.wav"
	case "audio/mpeg", "audio/mp3":
		return "chunk.mp3"
	case "audio/ogg":
		return "chunk.ogg"
	default:
		return "chunk.webm"
	}
}
