package core

import (
	"time"

	"github.com/dkeye/Scribe/internal/domain"
)

// EventType discriminates Event payloads.
type EventType string

const (
	EventConnected     EventType = "connected"
	EventDisconnected  EventType = "disconnected"
	EventAudio         EventType = "audio"
	EventTranscription EventType = "transcription"
	EventError         EventType = "error"
	EventBatchReady    EventType = "batch-ready"
	EventBatchResponse EventType = "batch-response"
	EventBatchError    EventType = "batch-error"
)

// Event is a fan-out notification, not a queue item: at least one delivery
// per occurrence, no ordering guarantee across sessions.
type Event struct {
	Type      EventType
	SessionID domain.SessionID
	UserID    domain.UserID
	Timestamp time.Time

	// Set depending on Type.
	Chunk    *domain.AudioChunk
	Result   *domain.TranscriptionResult
	Batch    *BatchRequest
	Response *BatchResponse
	Elapsed  time.Duration
	Err      error
}
