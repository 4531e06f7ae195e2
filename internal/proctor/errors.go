package proctor

import "errors"

// Domain errors
var (
	ErrPaperUnavailable      = errors.New("test paper unavailable")
	ErrInvalidTransition     = errors.New("invalid session transition")
	ErrInvalidDuration       = errors.New("duration must be positive")
	ErrFullscreenUnsupported = errors.New("fullscreen API unsupported")
	ErrSessionClosed         = errors.New("session closed")
	ErrSurfaceUnbound        = errors.New("no client bound to ambient surface")
	ErrUnknownQuestion       = errors.New("question not in test paper")
	ErrChoiceOutOfRange      = errors.New("choice index out of range")
	ErrIndexOutOfRange       = errors.New("question index out of range")
)
