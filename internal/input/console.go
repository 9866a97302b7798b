package input

import (
	"errors"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/book-expert/logger"
	"github.com/book-expert/reading-assistant/internal/core"
	"github.com/chzyer/readline"
)

const consolePrompt = "[c]apture [p]ause [x] cancel > "

// LineReader yields one line of console input per call.
type LineReader interface {
	Readline() (string, error)
}

// ConsolePins emulates the three buttons on a terminal. Every recognized
// line presses its button for exactly one read.
type ConsolePins struct {
	mu      sync.Mutex
	pending map[core.Button]bool
	closed  bool
	log     *logger.Logger
	done    chan struct{}
	closer  io.Closer
}

// NewConsolePins reads commands from stdin through readline.
func NewConsolePins(log *logger.Logger) (*ConsolePins, error) {
	instance, err := readline.NewEx(&readline.Config{
		Prompt: consolePrompt,
		Stdin:  os.Stdin,
		Stdout: os.Stderr,
	})
	if err != nil {
		return nil, err
	}

	pins := newConsolePins(instance, log)
	pins.closer = instance

	return pins, nil
}

// NewConsolePinsFromReader reads commands from an arbitrary line source.
func NewConsolePinsFromReader(reader LineReader, log *logger.Logger) *ConsolePins {
	return newConsolePins(reader, log)
}

func newConsolePins(reader LineReader, log *logger.Logger) *ConsolePins {
	pins := &ConsolePins{
		pending: make(map[core.Button]bool, len(core.ButtonsByPriority)),
		log:     log,
		done:    make(chan struct{}),
	}

	go pins.readLoop(reader)

	return pins
}

// Pressed reports and consumes a pending press of button.
func (p *ConsolePins) Pressed(button core.Button) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.pending[button] {
		return false, nil
	}

	p.pending[button] = false

	return true, nil
}

// Done is closed when the console input ended.
func (p *ConsolePins) Done() <-chan struct{} {
	return p.done
}

// Close releases the terminal.
func (p *ConsolePins) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	if p.closer != nil {
		return p.closer.Close()
	}

	return nil
}

func (p *ConsolePins) readLoop(reader LineReader) {
	defer close(p.done)

	for {
		line, err := reader.Readline()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, readline.ErrInterrupt) && p.log != nil && !p.isClosed() {
				p.log.Warn("Console input stopped: %v", err)
			}

			return
		}

		button, ok := ParseButton(line)
		if !ok {
			if p.log != nil && strings.TrimSpace(line) != "" {
				p.log.Warn("Unknown console command: %q", line)
			}

			continue
		}

		p.mu.Lock()
		p.pending[button] = true
		p.mu.Unlock()
	}
}

func (p *ConsolePins) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.closed
}

// ParseButton maps a console command to a button.
func ParseButton(command string) (core.Button, bool) {
	switch strings.ToLower(strings.TrimSpace(command)) {
	case "c", "capture":
		return core.ButtonCapture, true
	case "p", "pause", "resume":
		return core.ButtonPauseToggle, true
	case "x", "cancel", "stop":
		return core.ButtonCancel, true
	default:
		return 0, false
	}
}

// AnyPins reports a button as pressed when any of its readers does. Every
// reader is consulted on each call so one-shot readers are always drained.
type AnyPins []core.PinReader

// Pressed implements core.PinReader.
func (a AnyPins) Pressed(button core.Button) (bool, error) {
	var (
		pressed bool
		errs    []error
	)

	for _, reader := range a {
		level, err := reader.Pressed(button)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		pressed = pressed || level
	}

	if pressed {
		return true, nil
	}

	return false, errors.Join(errs...)
}
