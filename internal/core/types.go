package core

import (
	"fmt"
	"time"
)

// NarrationUnit is one sentence scheduled for independent rendering and playback.
type NarrationUnit struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Checkpoint records how far narration of one extracted text has progressed.
type Checkpoint struct {
	SequenceID    string `json:"sequence_id"`
	NextUnitIndex int    `json:"next_unit_index"`
}

// Validate rejects records that could not have been written by a session.
func (c Checkpoint) Validate() error {
	if c.SequenceID == "" {
		return fmt.Errorf("%w: empty sequence id", ErrInvalidCheckpoint)
	}

	if c.NextUnitIndex < 1 {
		return fmt.Errorf("%w: next unit index %d", ErrInvalidCheckpoint, c.NextUnitIndex)
	}

	return nil
}

// Image is a captured frame on disk.
type Image struct {
	Path     string
	MIMEType string
}

// AudioClip is a rendered sentence on disk.
type AudioClip struct {
	Path     string
	MIMEType string
	Size     int
}

// Button identifies one of the three physical inputs.
type Button uint8

const (
	ButtonCapture Button = iota + 1
	ButtonPauseToggle
	ButtonCancel
)

// ButtonsByPriority lists buttons from highest to lowest dispatch priority.
var ButtonsByPriority = []Button{ButtonCancel, ButtonPauseToggle, ButtonCapture}

func (b Button) String() string {
	switch b {
	case ButtonCapture:
		return "capture"
	case ButtonPauseToggle:
		return "pause_toggle"
	case ButtonCancel:
		return "cancel"
	default:
		return fmt.Sprintf("button(%d)", uint8(b))
	}
}

// ButtonEvent is a debounced logical press.
type ButtonEvent struct {
	Button Button
	At     time.Time
}

// Outcome summarizes a finished narration session.
type Outcome struct {
	SessionID string
	State     SessionState
	Reason    Reason
	Total     int
	Played    []int
	Skipped   []int
	// NextIndex is the first unit that was not narrated, or Total+1.
	NextIndex int
}
