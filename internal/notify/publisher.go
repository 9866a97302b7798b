// Package notify delivers session lifecycle notifications to the log, to NATS
// subscribers and to the user's ears.
package notify

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/reading-assistant/internal/core"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Event types published on the session subject.
const (
	EventStateChanged = "session.state_changed"
	EventUnitStarted  = "session.unit_started"
	EventUnitSkipped  = "session.unit_skipped"
)

var (
	// ErrConnectionRequired indicates a publisher without a NATS connection.
	ErrConnectionRequired = errors.New("nats connection is required")
	// ErrSubjectEmpty indicates a publisher without a subject.
	ErrSubjectEmpty = errors.New("events subject cannot be empty")
)

// SessionEvent is the JSON document published for every notification. The
// header's WorkflowID carries the session id.
type SessionEvent struct {
	Header    events.EventHeader `json:"header"`
	Type      string             `json:"type"`
	State     core.SessionState  `json:"state,omitempty"`
	Reason    core.Reason        `json:"reason,omitempty"`
	UnitIndex int                `json:"unit_index,omitempty"`
	UnitText  string             `json:"unit_text,omitempty"`
	Total     int                `json:"total,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// Publisher implements core.EventSink on a NATS subject.
type Publisher struct {
	natsConnection *nats.Conn
	subject        string
	deviceID       string
	log            *logger.Logger
}

// NewPublisher creates a publisher. deviceID is sent as the event's user id.
func NewPublisher(natsConnection *nats.Conn, subject, deviceID string, log *logger.Logger) (*Publisher, error) {
	if natsConnection == nil {
		return nil, ErrConnectionRequired
	}

	if subject == "" {
		return nil, ErrSubjectEmpty
	}

	return &Publisher{
		natsConnection: natsConnection,
		subject:        subject,
		deviceID:       deviceID,
		log:            log,
	}, nil
}

// SessionStateChanged publishes a state transition.
func (p *Publisher) SessionStateChanged(sessionID string, state core.SessionState, reason core.Reason) {
	p.publish(&SessionEvent{
		Header: p.header(sessionID),
		Type:   EventStateChanged,
		State:  state,
		Reason: reason,
	})
}

// UnitStarted publishes the start of a unit.
func (p *Publisher) UnitStarted(sessionID string, unit core.NarrationUnit, total int) {
	p.publish(&SessionEvent{
		Header:    p.header(sessionID),
		Type:      EventUnitStarted,
		UnitIndex: unit.Index,
		UnitText:  unit.Text,
		Total:     total,
	})
}

// UnitSkipped publishes a unit that could not be narrated.
func (p *Publisher) UnitSkipped(sessionID string, unit core.NarrationUnit, err error) {
	event := &SessionEvent{
		Header:    p.header(sessionID),
		Type:      EventUnitSkipped,
		UnitIndex: unit.Index,
		UnitText:  unit.Text,
	}

	if err != nil {
		event.Error = err.Error()
	}

	p.publish(event)
}

func (p *Publisher) header(sessionID string) events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: sessionID,
		EventID:    uuid.NewString(),
		UserID:     p.deviceID,
		TenantID:   "",
	}
}

// publish marshals and sends the event. Failures are logged; notifications
// never interrupt a session.
func (p *Publisher) publish(event *SessionEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logError("Failed to marshal %s event: %v", event.Type, err)

		return
	}

	err = p.natsConnection.Publish(p.subject, data)
	if err != nil {
		p.logError("Failed to publish %s event for session %s: %v", event.Type, event.Header.WorkflowID, err)
	}
}

func (p *Publisher) logError(format string, args ...any) {
	if p.log != nil {
		p.log.Error(format, args...)
	}
}
