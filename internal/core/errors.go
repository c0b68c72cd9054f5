package core

import (
	"errors"
	"fmt"

	"github.com/dkeye/Scribe/internal/domain"
)

// ErrConnectionLimit rejects admission when a user holds too many sessions.
var ErrConnectionLimit = errors.New("per-user connection limit reached")

// ProviderError means the transcription capability failed to set up.
// Fatal to startup: no session can ever be serviced.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// TranscriptionError scopes a single failed transcription call to its
// session. The session survives and keeps accepting audio.
type TranscriptionError struct {
	SessionID domain.SessionID
	Err       error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription sid=%s: %v", e.SessionID, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// HandlerError scopes a failed batch handler invocation to its session.
// The batch is discarded, not retried.
type HandlerError struct {
	SessionID domain.SessionID
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("batch handler sid=%s: %v", e.SessionID, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
