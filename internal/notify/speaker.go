package notify

import (
	"context"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/reading-assistant/internal/core"
)

const speakerPollInterval = 50 * time.Millisecond

type clipReleaser interface {
	Release(clip core.AudioClip) error
}

// Speaker implements core.Announcer by rendering and playing the notice to
// completion. Every notice is also logged, so a failing speech path still
// leaves a trace.
type Speaker struct {
	renderer core.Renderer
	player   core.Player
	log      *logger.Logger
}

// NewSpeaker creates a Speaker.
func NewSpeaker(renderer core.Renderer, player core.Player, log *logger.Logger) *Speaker {
	return &Speaker{renderer: renderer, player: player, log: log}
}

// Announce speaks message and blocks until it was played or ctx ended.
func (s *Speaker) Announce(ctx context.Context, message string) {
	s.log.System("Notice: %s", message)

	clip, err := s.renderer.Render(ctx, message)
	if err != nil {
		s.log.Warn("Failed to render notice %q: %v", message, err)

		return
	}

	defer s.release(clip)

	handle, err := s.player.Play(ctx, clip)
	if err != nil {
		s.log.Warn("Failed to play notice %q: %v", message, err)

		return
	}

	ticker := time.NewTicker(speakerPollInterval)
	defer ticker.Stop()

	for !handle.Finished() {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			stopErr := handle.Stop()
			if stopErr != nil {
				s.log.Warn("Failed to stop notice playback: %v", stopErr)
			}

			return
		}
	}

	playErr := handle.Err()
	if playErr != nil {
		s.log.Warn("Notice playback failed: %v", playErr)
	}
}

func (s *Speaker) release(clip core.AudioClip) {
	releaser, ok := s.renderer.(clipReleaser)
	if !ok {
		return
	}

	err := releaser.Release(clip)
	if err != nil {
		s.log.Warn("Failed to release notice clip: %v", err)
	}
}
