package domain

import "time"

// TranscriptionResult is produced by a transcription capability.
// Never mutated after creation. An empty Text means "no speech detected".
type TranscriptionResult struct {
	Text       string            `json:"text"`
	Speaker    string            `json:"speaker,omitempty"`
	Confidence float32           `json:"confidence,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
