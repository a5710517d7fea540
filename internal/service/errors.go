package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotFound        = errors.New("not found")
	ErrTranscodeFailed = errors.New("transcoding failed")
	ErrQueueFull       = errors.New("job queue full")
	ErrQueueClosed     = errors.New("job queue closed")
	ErrNoThumbnail     = errors.New("no thumbnail could be produced")
)

func invalidInput(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}

// TranscodeError is returned when the engine could not produce a stream.
// It matches ErrTranscodeFailed with errors.Is.
type TranscodeError struct {
	Profile string
	Stderr  string // Tail of the engine's error output
	Err     error
}

func (e *TranscodeError) Error() string {
	msg := fmt.Sprintf("transcoding failed (profile %s): %v", e.Profile, e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}

	return msg
}

func (e *TranscodeError) Unwrap() []error {
	return []error{ErrTranscodeFailed, e.Err}
}
