// Package remote lets other services press the reader's buttons over NATS.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/reading-assistant/internal/core"
	"github.com/book-expert/reading-assistant/internal/input"
	"github.com/nats-io/nats.go"
)

var (
	// ErrConnectionRequired indicates remote buttons without a NATS connection.
	ErrConnectionRequired = errors.New("nats connection is required")
	// ErrSubjectEmpty indicates remote buttons without a subject.
	ErrSubjectEmpty = errors.New("control subject cannot be empty")
	// ErrUnknownButton indicates a command naming no known button.
	ErrUnknownButton = errors.New("unknown button")
)

// ButtonCommand asks the reader to act as if a button was pressed.
type ButtonCommand struct {
	Header events.EventHeader `json:"header"`
	Button string             `json:"button"`
}

// ButtonAck is the reply to a ButtonCommand sent as a request.
type ButtonAck struct {
	Header   events.EventHeader `json:"header"`
	Accepted bool               `json:"accepted"`
	Error    string             `json:"error,omitempty"`
}

// Buttons listens for ButtonCommand messages and exposes them as a
// core.PinReader whose buttons stay pressed for exactly one read.
type Buttons struct {
	natsConnection *nats.Conn
	subject        string
	log            *logger.Logger

	mu      sync.Mutex
	pending map[core.Button]bool
}

// NewButtons creates a remote button reader.
func NewButtons(natsConnection *nats.Conn, subject string, log *logger.Logger) (*Buttons, error) {
	if natsConnection == nil {
		return nil, ErrConnectionRequired
	}

	if subject == "" {
		return nil, ErrSubjectEmpty
	}

	return &Buttons{
		natsConnection: natsConnection,
		subject:        subject,
		log:            log,
		pending:        make(map[core.Button]bool, len(core.ButtonsByPriority)),
	}, nil
}

// Run subscribes to the control subject until ctx is done.
func (b *Buttons) Run(ctx context.Context) error {
	sub, err := b.natsConnection.Subscribe(b.subject, b.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", b.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

// Pressed reports and consumes a pending remote press.
func (b *Buttons) Pressed(button core.Button) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.pending[button] {
		return false, nil
	}

	b.pending[button] = false

	return true, nil
}

func (b *Buttons) handleMessage(msg *nats.Msg) {
	command, err := parseCommand(msg)

	if err == nil {
		b.mu.Lock()
		b.pending[command.button] = true
		b.mu.Unlock()

		b.log.Info("Remote %s press from workflow %s", command.button, command.Header.WorkflowID)
	} else {
		b.log.Error("Failed to parse remote button command: %v", err)
	}

	if msg.Reply == "" {
		return
	}

	ack := &ButtonAck{Header: command.Header, Accepted: err == nil}
	if err != nil {
		ack.Error = err.Error()
	}

	respondErr := respond(msg, ack)
	if respondErr != nil {
		b.log.Error("Failed to acknowledge remote button command: %v", respondErr)
	}
}

type parsedCommand struct {
	ButtonCommand

	button core.Button
}

func parseCommand(msg *nats.Msg) (parsedCommand, error) {
	var command parsedCommand

	err := json.Unmarshal(msg.Data, &command.ButtonCommand)
	if err != nil {
		return command, fmt.Errorf("failed to unmarshal command: %w", err)
	}

	button, ok := input.ParseButton(command.Button)
	if !ok {
		return command, fmt.Errorf("%w: %q", ErrUnknownButton, command.Button)
	}

	command.button = button

	return command, nil
}

// respond marshals and sends the acknowledgement.
func respond(msg *nats.Msg, ack *ButtonAck) error {
	data, err := json.Marshal(ack)
	if err != nil {
		return fmt.Errorf("failed to marshal acknowledgement: %w", err)
	}

	err = msg.Respond(data)
	if err != nil {
		return fmt.Errorf("failed to publish acknowledgement: %w", err)
	}

	return nil
}
