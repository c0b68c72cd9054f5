// Package domain contains entity without logic, just meta-data
package domain

type (
	SessionID string
	UserID    string
)

// RecordingState models the per-session recording lifecycle.
type RecordingState string

const (
	StateIdle      RecordingState = "idle"
	StateRecording RecordingState = "recording"
	StatePaused    RecordingState = "paused"
	StateStopping  RecordingState = "stopping"
)
