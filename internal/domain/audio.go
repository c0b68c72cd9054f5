package domain

import "time"

// AudioFormat describes the declared encoding of an inbound audio frame.
type AudioFormat struct {
	MIMEType   string `json:"mimeType"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	BitDepth   int    `json:"bitDepth,omitempty"`
}

// AudioChunk is one inbound binary frame. Immutable after creation.
type AudioChunk struct {
	SessionID SessionID   `json:"sessionId"`
	Data      []byte      `json:"-"`
	Format    AudioFormat `json:"format"`
	Timestamp time.Time   `json:"timestamp"`
}
