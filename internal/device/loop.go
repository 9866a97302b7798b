// Package device runs the appliance: it polls the buttons, forwards pause and
// cancel requests to the session controller and runs capture, extraction and
// narration on a single worker goroutine.
package device

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/reading-assistant/internal/core"
)

// DefaultPollInterval is how often the buttons are sampled.
const DefaultPollInterval = 30 * time.Millisecond

// ErrMissingDependency indicates a loop built without a collaborator.
var ErrMissingDependency = errors.New("device loop dependency is missing")

// ButtonSource yields debounced button events.
type ButtonSource interface {
	Poll() (core.ButtonEvent, bool)
}

// Controller is the session controller as seen by the loop.
type Controller interface {
	State() core.SessionState
	Arm(ctx context.Context) error
	BeginExtraction(ctx context.Context) (context.Context, error)
	AbortExtraction(ctx context.Context, cause error) error
	Narrate(ctx context.Context, text string) (core.Outcome, error)
	TogglePause() bool
	Cancel() bool
}

// Extraction produces the text of one captured page.
type Extraction interface {
	Run(ctx context.Context) (string, error)
}

// Loop is the producer side of the appliance.
type Loop struct {
	source       ButtonSource
	controller   Controller
	extraction   Extraction
	pollInterval time.Duration
	log          *logger.Logger

	busy atomic.Bool
	// captureQueued holds a capture pressed while the worker was speaking.
	captureQueued atomic.Bool
	wg            sync.WaitGroup
}

// New creates a loop. extraction may be nil for text-only use.
func New(
	source ButtonSource,
	controller Controller,
	extraction Extraction,
	pollInterval time.Duration,
	log *logger.Logger,
) (*Loop, error) {
	if source == nil || controller == nil || log == nil {
		return nil, ErrMissingDependency
	}

	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	return &Loop{
		source:       source,
		controller:   controller,
		extraction:   extraction,
		pollInterval: pollInterval,
		log:          log,
	}, nil
}

// Run arms the appliance and serves button presses until ctx is done. It
// returns after the worker finished.
func (l *Loop) Run(ctx context.Context) error {
	if l.extraction == nil {
		return ErrMissingDependency
	}

	l.startJob(ctx, l.arm)

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.log.Info("Device loop stopping: %v", ctx.Err())
			l.wg.Wait()

			return nil
		case <-ticker.C:
			event, ok := l.source.Poll()
			if ok {
				l.dispatch(ctx, event)
			}
		}
	}
}

// RunText narrates body while serving pause and cancel presses, and returns
// once the narration reached a terminal state.
func (l *Loop) RunText(ctx context.Context, body string) (core.Outcome, error) {
	var (
		outcome core.Outcome
		err     error
	)

	done := make(chan struct{})

	l.startJob(ctx, func(jobCtx context.Context) {
		defer close(done)

		outcome, err = l.controller.Narrate(jobCtx, body)
	})

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			l.wg.Wait()

			return outcome, err
		case <-ticker.C:
			event, ok := l.source.Poll()
			if ok {
				l.dispatch(ctx, event)
			}
		}
	}
}

func (l *Loop) dispatch(ctx context.Context, event core.ButtonEvent) {
	l.log.Info("Button %s pressed in state %s", event.Button, l.controller.State())

	switch event.Button {
	case core.ButtonCapture:
		if l.extraction == nil {
			l.log.Info("Capture ignored: no camera in this mode")

			return
		}

		if l.startJob(ctx, l.captureAndRead) {
			return
		}

		state := l.controller.State()
		if state == core.StateExtracting || state.Narrating() {
			l.log.Info("Capture ignored while %s", state)

			return
		}

		// The worker is only speaking a prompt or a closing notice.
		l.captureQueued.Store(true)
		l.log.Info("Capture queued while %s", state)
	case core.ButtonPauseToggle:
		if !l.controller.TogglePause() {
			l.log.Info("Pause ignored while %s", l.controller.State())
		}
	case core.ButtonCancel:
		if !l.controller.Cancel() {
			l.log.Info("Cancel ignored while %s", l.controller.State())
		}
	}
}

// startJob runs job on the worker unless it is busy. A capture queued while
// the job ran is started before the worker is released.
func (l *Loop) startJob(ctx context.Context, job func(context.Context)) bool {
	if !l.busy.CompareAndSwap(false, true) {
		return false
	}

	l.wg.Add(1)

	go func() {
		defer l.wg.Done()

		job(ctx)

		for {
			if l.captureQueued.CompareAndSwap(true, false) {
				if ctx.Err() == nil {
					l.captureAndRead(ctx)
				}

				continue
			}

			l.busy.Store(false)

			// A press may have been queued between the check and the release.
			if !l.captureQueued.Load() || !l.busy.CompareAndSwap(false, true) {
				return
			}
		}
	}()

	return true
}

func (l *Loop) arm(ctx context.Context) {
	err := l.controller.Arm(ctx)
	if err != nil {
		l.log.Warn("Failed to arm: %v", err)
	}
}

func (l *Loop) captureAndRead(ctx context.Context) {
	extractionCtx, err := l.controller.BeginExtraction(ctx)
	if err != nil {
		l.log.Warn("Cannot start a capture: %v", err)

		return
	}

	text, err := l.extraction.Run(extractionCtx)
	if err != nil {
		abortErr := l.controller.AbortExtraction(ctx, err)
		if abortErr != nil {
			l.log.Error("Failed to abort extraction: %v", abortErr)
		}

		return
	}

	outcome, err := l.controller.Narrate(ctx, text)
	if errors.Is(err, core.ErrCancelled) {
		l.log.Info("Capture cancelled before reading: %v", err)

		return
	}

	if err != nil {
		l.log.Warn("Narration ended early: %v", err)

		return
	}

	l.log.Info(
		"Session %s ended %s (%s): %d played, %d skipped of %d",
		outcome.SessionID, outcome.State, outcome.Reason, len(outcome.Played), len(outcome.Skipped), outcome.Total,
	)

	// A capture pressed during the closing notice starts right away.
	if l.captureQueued.Load() {
		return
	}

	l.arm(ctx)
}
