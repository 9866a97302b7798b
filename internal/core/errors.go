package core

import "errors"

var (
	// ErrCapture indicates that no image could be obtained from the camera.
	ErrCapture = errors.New("capture failed")
	// ErrExtractionTransient indicates a retryable failure of the extraction service.
	ErrExtractionTransient = errors.New("text extraction failed")
	// ErrExtractionExhausted indicates that every extraction attempt failed.
	ErrExtractionExhausted = errors.New("text extraction attempts exhausted")
	// ErrRender indicates that a sentence could not be synthesized.
	ErrRender = errors.New("render failed")
	// ErrPlayback indicates that a rendered sentence could not be played.
	ErrPlayback = errors.New("playback failed")
	// ErrPersistence indicates a checkpoint read or write failure.
	ErrPersistence = errors.New("checkpoint persistence failed")
	// ErrCancelled indicates that the user cancelled the current operation.
	ErrCancelled = errors.New("cancelled")
	// ErrInvalidCheckpoint indicates a stored checkpoint with impossible values.
	ErrInvalidCheckpoint = errors.New("invalid checkpoint")
	// ErrInvalidTransition indicates a state change the session machine forbids.
	ErrInvalidTransition = errors.New("invalid session state transition")
)
