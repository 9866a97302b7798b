package input

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/book-expert/reading-assistant/internal/core"
)

// DefaultSysfsRoot is the Linux sysfs GPIO class directory.
const DefaultSysfsRoot = "/sys/class/gpio"

const sysfsFilePermissions = 0o200

var (
	// ErrUnknownButton indicates a button without a configured pin.
	ErrUnknownButton = errors.New("no pin configured for button")
	// ErrInvalidLevel indicates a value file that holds neither 0 nor 1.
	ErrInvalidLevel = errors.New("invalid gpio level")
)

// SysfsPins reads button levels from sysfs GPIO value files. Buttons are
// wired to ground with pull-ups, so a low level means pressed unless
// ActiveHigh is set.
type SysfsPins struct {
	root       string
	pins       map[core.Button]int
	activeHigh bool
}

// NewSysfsPins creates a reader for the given BCM pin numbers below root.
func NewSysfsPins(root string, pins map[core.Button]int, activeHigh bool) *SysfsPins {
	if root == "" {
		root = DefaultSysfsRoot
	}

	return &SysfsPins{root: root, pins: pins, activeHigh: activeHigh}
}

// Export makes every configured pin available as an input. Pins that are
// already exported are left alone.
func (p *SysfsPins) Export() error {
	for button, pin := range p.pins {
		pinDir := p.pinDir(pin)

		_, statErr := os.Stat(pinDir)
		if errors.Is(statErr, os.ErrNotExist) {
			exportErr := os.WriteFile(
				filepath.Join(p.root, "export"), []byte(strconv.Itoa(pin)), sysfsFilePermissions,
			)
			if exportErr != nil {
				return fmt.Errorf("failed to export gpio %d for %s button: %w", pin, button, exportErr)
			}
		}

		directionErr := os.WriteFile(filepath.Join(pinDir, "direction"), []byte("in"), sysfsFilePermissions)
		if directionErr != nil {
			return fmt.Errorf("failed to set gpio %d as input: %w", pin, directionErr)
		}
	}

	return nil
}

// Pressed reports whether the button is currently held down.
func (p *SysfsPins) Pressed(button core.Button) (bool, error) {
	pin, ok := p.pins[button]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownButton, button)
	}

	raw, err := os.ReadFile(filepath.Join(p.pinDir(pin), "value"))
	if err != nil {
		return false, fmt.Errorf("failed to read gpio %d: %w", pin, err)
	}

	var high bool

	switch strings.TrimSpace(string(raw)) {
	case "0":
		high = false
	case "1":
		high = true
	default:
		return false, fmt.Errorf("%w: gpio %d reads %q", ErrInvalidLevel, pin, raw)
	}

	return high == p.activeHigh, nil
}

func (p *SysfsPins) pinDir(pin int) string {
	return filepath.Join(p.root, "gpio"+strconv.Itoa(pin))
}
