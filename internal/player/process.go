// Package player plays rendered clips through an external audio player process.
package player

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/reading-assistant/internal/core"
	"golang.org/x/sys/unix"
)

// PlaceholderFile is replaced by the clip path in player arguments.
const PlaceholderFile = "{file}"

const defaultStopGrace = 1200 * time.Millisecond

// ErrBinaryEmpty indicates a player without a binary.
var ErrBinaryEmpty = errors.New("player binary cannot be empty")

// Config configures a ProcessPlayer.
type Config struct {
	Binary string
	// Args may contain {file}; otherwise the clip path is appended.
	Args []string
	// StopGrace is how long Stop waits after SIGTERM before SIGKILL.
	StopGrace time.Duration
}

// ProcessPlayer starts one player process (mpg321, aplay, ffplay, ...) per clip.
// The process runs in its own process group so wrapper scripts are
// suspended and terminated together with the actual player.
type ProcessPlayer struct {
	config Config
	log    *logger.Logger
}

// New creates a ProcessPlayer.
func New(cfg Config, log *logger.Logger) (*ProcessPlayer, error) {
	if cfg.Binary == "" {
		return nil, ErrBinaryEmpty
	}

	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}

	return &ProcessPlayer{config: cfg, log: log}, nil
}

// Play starts playback of clip. The returned handle is stopped when ctx is done.
func (p *ProcessPlayer) Play(ctx context.Context, clip core.AudioClip) (core.PlaybackHandle, error) {
	ctxErr := ctx.Err()
	if ctxErr != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrPlayback, ctxErr)
	}

	args := make([]string, 0, len(p.config.Args)+1)
	hasFile := false

	for _, arg := range p.config.Args {
		if strings.Contains(arg, PlaceholderFile) {
			hasFile = true
		}

		args = append(args, strings.ReplaceAll(arg, PlaceholderFile, clip.Path))
	}

	if !hasFile {
		args = append(args, clip.Path)
	}

	// #nosec G204 -- binary and arguments come from the device configuration
	cmd := exec.Command(p.config.Binary, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	handle := &processHandle{
		binary:    p.config.Binary,
		stopGrace: p.config.StopGrace,
		done:      make(chan struct{}),
		log:       p.log,
	}
	cmd.Stderr = &handle.stderr

	startErr := cmd.Start()
	if startErr != nil {
		return nil, fmt.Errorf("%w: failed to start %s: %w", core.ErrPlayback, p.config.Binary, startErr)
	}

	handle.pgid = cmd.Process.Pid

	go func() {
		handle.finish(cmd.Wait())
	}()

	stopWithContext := context.AfterFunc(ctx, func() {
		_ = handle.Stop()
	})

	go func() {
		<-handle.done
		stopWithContext()
	}()

	return handle, nil
}

type processHandle struct {
	binary    string
	pgid      int
	stopGrace time.Duration
	log       *logger.Logger

	stderr bytes.Buffer

	mu      sync.Mutex
	paused  bool
	stopped bool
	waitErr error
	done    chan struct{}

	stopOnce sync.Once
}

func (h *processHandle) finish(err error) {
	h.mu.Lock()
	h.waitErr = err
	h.mu.Unlock()

	close(h.done)
}

// Pause suspends the player process group.
func (h *processHandle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.paused || h.stopped || h.Finished() {
		return nil
	}

	err := h.signal(unix.SIGSTOP)
	if err != nil {
		return fmt.Errorf("%w: failed to suspend %s: %w", core.ErrPlayback, h.binary, err)
	}

	h.paused = true

	return nil
}

// Resume continues a suspended player process group.
func (h *processHandle) Resume() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.paused || h.stopped {
		return nil
	}

	err := h.signal(unix.SIGCONT)
	if err != nil {
		return fmt.Errorf("%w: failed to resume %s: %w", core.ErrPlayback, h.binary, err)
	}

	h.paused = false

	return nil
}

// Stop terminates the player and returns once the process has exited.
func (h *processHandle) Stop() error {
	var stopErr error

	h.stopOnce.Do(func() {
		h.mu.Lock()
		h.stopped = true
		wasPaused := h.paused
		h.paused = false
		h.mu.Unlock()

		if h.Finished() {
			return
		}

		termErr := h.signal(unix.SIGTERM)
		if wasPaused {
			_ = h.signal(unix.SIGCONT)
		}

		if termErr != nil && !errors.Is(termErr, unix.ESRCH) {
			stopErr = fmt.Errorf("%w: failed to terminate %s: %w", core.ErrPlayback, h.binary, termErr)
		}

		timer := time.NewTimer(h.stopGrace)
		defer timer.Stop()

		select {
		case <-h.done:
		case <-timer.C:
			if h.log != nil {
				h.log.Warn("Player %s ignored SIGTERM, killing process group %d", h.binary, h.pgid)
			}

			_ = h.signal(unix.SIGKILL)
			<-h.done
		}
	})

	return stopErr
}

// Finished reports whether the player process has exited.
func (h *processHandle) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Err reports a failed playback. Exits caused by Stop are not failures.
func (h *processHandle) Err() error {
	if !h.Finished() {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped || h.waitErr == nil {
		return nil
	}

	return fmt.Errorf(
		"%w: %s exited: %w: %s",
		core.ErrPlayback, h.binary, h.waitErr, strings.TrimSpace(h.stderr.String()),
	)
}

func (h *processHandle) signal(sig unix.Signal) error {
	return unix.Kill(-h.pgid, sig)
}
