package core

import (
	"context"

	"github.com/dkeye/Scribe/internal/domain"
)

// Frame is a raw binary payload (e.g., audio frame or serialized message).
type Frame []byte

// Conn abstracts a transport endpoint (WebSocket).
// Owned by the adapter; the adapter must Close() it.
type Conn interface {
	TrySend(Frame) error
	// Ping sends a protocol-level liveness probe.
	Ping() error
	Close()
}

// SessionMeta travels with every transcription call for a session.
type SessionMeta struct {
	SessionID domain.SessionID
	UserID    domain.UserID
	Format    domain.AudioFormat
	Metadata  map[string]string
}

// Transcriber is the transcription capability consumed by the orchestrator.
// Initialize is called once before connections are accepted, Cleanup once
// during shutdown.
type Transcriber interface {
	Initialize(ctx context.Context) error
	ProcessAudio(ctx context.Context, audio []byte, meta SessionMeta) (domain.TranscriptionResult, error)
	Cleanup(ctx context.Context) error
	Name() string
}

// BatchRequest is handed to a BatchHandler on flush.
type BatchRequest struct {
	BatchID    string                       `json:"batchId"`
	SessionID  domain.SessionID             `json:"sessionId"`
	Audio      []byte                       `json:"-"`
	Transcript string                       `json:"transcript,omitempty"`
	Results    []domain.TranscriptionResult `json:"results,omitempty"`
	Metadata   map[string]string            `json:"metadata,omitempty"`
}

// BatchResponse is what a BatchHandler produced for one batch.
type BatchResponse struct {
	Text     string            `json:"text,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// BatchHandler is the downstream capability consuming flushed batches.
// It is invoked at most once per batch and never concurrently for the
// same session.
type BatchHandler interface {
	Handle(ctx context.Context, req *BatchRequest) (*BatchResponse, error)
}
