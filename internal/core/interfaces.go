// Package core defines the shared types and collaborator interfaces of the reading assistant.
package core

import "context"

// Camera captures a still image for text extraction.
type Camera interface {
	Capture(ctx context.Context) (Image, error)
}

// Extractor turns a captured image into plain text.
type Extractor interface {
	Extract(ctx context.Context, image Image) (string, error)
}

// Renderer synthesizes one sentence into a playable audio clip.
type Renderer interface {
	Render(ctx context.Context, sentence string) (AudioClip, error)
}

// Player starts playback of a rendered clip.
type Player interface {
	Play(ctx context.Context, clip AudioClip) (PlaybackHandle, error)
}

// PlaybackHandle controls one running playback. Stop blocks until the
// underlying playback has actually terminated.
type PlaybackHandle interface {
	Pause() error
	Resume() error
	Stop() error
	Finished() bool
	// Err reports why playback ended. It is nil while running, after a
	// clean finish and after Stop.
	Err() error
}

// ProgressStore persists the narration checkpoint of the active session.
// Load returns a nil checkpoint when none is stored.
type ProgressStore interface {
	Save(ctx context.Context, checkpoint Checkpoint) error
	Load(ctx context.Context) (*Checkpoint, error)
	Clear(ctx context.Context) error
}

// PinReader reports the physical level of a button.
type PinReader interface {
	Pressed(button Button) (bool, error)
}

// Announcer speaks short user-facing notices.
type Announcer interface {
	Announce(ctx context.Context, message string)
}

// EventSink receives session lifecycle notifications.
type EventSink interface {
	SessionStateChanged(sessionID string, state SessionState, reason Reason)
	UnitStarted(sessionID string, unit NarrationUnit, total int)
	UnitSkipped(sessionID string, unit NarrationUnit, err error)
}
