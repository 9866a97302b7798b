package notify

import (
	"github.com/book-expert/logger"
	"github.com/book-expert/reading-assistant/internal/core"
)

// LogSink writes session notifications to the application log.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log}
}

// SessionStateChanged logs a transition.
func (s *LogSink) SessionStateChanged(sessionID string, state core.SessionState, reason core.Reason) {
	s.log.System("Session %s is now %s (%s)", sessionID, state, reason)
}

// UnitStarted logs the start of a unit.
func (s *LogSink) UnitStarted(sessionID string, unit core.NarrationUnit, total int) {
	s.log.Info("Session %s reading unit %d of %d: %q", sessionID, unit.Index, total, unit.Text)
}

// UnitSkipped logs a skipped unit.
func (s *LogSink) UnitSkipped(sessionID string, unit core.NarrationUnit, err error) {
	s.log.Warn("Session %s skipped unit %d: %v", sessionID, unit.Index, err)
}

// Multi fans notifications out to several sinks in order.
type Multi []core.EventSink

// SessionStateChanged forwards to every sink.
func (m Multi) SessionStateChanged(sessionID string, state core.SessionState, reason core.Reason) {
	for _, sink := range m {
		sink.SessionStateChanged(sessionID, state, reason)
	}
}

// UnitStarted forwards to every sink.
func (m Multi) UnitStarted(sessionID string, unit core.NarrationUnit, total int) {
	for _, sink := range m {
		sink.UnitStarted(sessionID, unit, total)
	}
}

// UnitSkipped forwards to every sink.
func (m Multi) UnitSkipped(sessionID string, unit core.NarrationUnit, err error) {
	for _, sink := range m {
		sink.UnitSkipped(sessionID, unit, err)
	}
}
