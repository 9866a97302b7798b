// Package input turns raw button levels into debounced logical button events.
package input

import (
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/reading-assistant/internal/core"
)

// Default timings of the button source.
const (
	DefaultDebounce     = 300 * time.Millisecond
	DefaultPollInterval = 30 * time.Millisecond
)

// SourceConfig configures a Source.
type SourceConfig struct {
	// Debounce is the minimum time between two accepted events of one button.
	Debounce time.Duration
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// Source polls a PinReader and emits at most one debounced event per poll.
// It is not safe for concurrent use; the device loop is its only caller.
type Source struct {
	pins     core.PinReader
	debounce time.Duration
	now      func() time.Time
	log      *logger.Logger

	pressed      map[core.Button]bool
	lastAccepted map[core.Button]time.Time
}

// NewSource creates a Source reading the three logical buttons from pins.
func NewSource(pins core.PinReader, cfg SourceConfig, log *logger.Logger) *Source {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Source{
		pins:         pins,
		debounce:     cfg.Debounce,
		now:          cfg.Now,
		log:          log,
		pressed:      make(map[core.Button]bool, len(core.ButtonsByPriority)),
		lastAccepted: make(map[core.Button]time.Time, len(core.ButtonsByPriority)),
	}
}

// Poll samples every button once. A released-to-pressed edge becomes an
// event only when the debounce window of that button has elapsed. When
// several buttons qualify in the same poll the highest priority one wins
// and the others are dropped.
func (s *Source) Poll() (core.ButtonEvent, bool) {
	now := s.now()

	var (
		event core.ButtonEvent
		found bool
	)

	for _, button := range core.ButtonsByPriority {
		level, err := s.pins.Pressed(button)
		if err != nil {
			if s.log != nil {
				s.log.Warn("Failed to read %s button: %v", button, err)
			}

			level = false
		}

		wasPressed := s.pressed[button]
		s.pressed[button] = level

		if !level || wasPressed || found {
			continue
		}

		last, seen := s.lastAccepted[button]
		if seen && now.Sub(last) < s.debounce {
			continue
		}

		s.lastAccepted[button] = now
		event = core.ButtonEvent{Button: button, At: now}
		found = true
	}

	return event, found
}
