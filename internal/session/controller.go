// Package session implements the narration session controller: the state
// machine that turns extracted text into a sequence of rendered and played
// sentences while honouring pause, resume and cancel requests from the
// buttons, a session time budget and a persisted checkpoint.
//
// All state transitions are made by the goroutine that calls Arm,
// BeginExtraction, AbortExtraction and Narrate. TogglePause and Cancel may be
// called from any goroutine; they record an intent that the narrating
// goroutine picks up at the next unit boundary, before rendering, before
// playback or at the next poll tick.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/reading-assistant/internal/core"
	"github.com/google/uuid"
)

// Resume modes.
const (
	// ResumeReplay stops playback on pause and replays the unit on resume.
	ResumeReplay = "replay"
	// ResumeContinue suspends playback on pause and continues it on resume.
	ResumeContinue = "continue"
)

// Defaults applied by New.
const (
	DefaultSessionBudget = 600 * time.Second
	DefaultPollInterval  = 100 * time.Millisecond
)

// Spoken notices.
const (
	PromptCapture      = "Press the capture button to take a picture."
	NoticeCaptureAbort = "Capture cancelled."
	NoticeCancelled    = "Reading stopped."
	NoticeBudget       = "Reading session ended."
	NoticeUnitSkipped  = "Skipping a sentence that could not be read."
	noticeErrorPattern = "An error occurred: %s"
)

var (
	// ErrMissingDependency indicates a controller built without a required collaborator.
	ErrMissingDependency = errors.New("session controller dependency is missing")
	// ErrUnknownResumeMode indicates an unsupported resume mode.
	ErrUnknownResumeMode = errors.New("unknown resume mode")
)

// Config tunes the controller.
type Config struct {
	SessionBudget time.Duration
	PollInterval  time.Duration
	ResumeMode    string
}

// Dependencies are the collaborators of a Controller. Events, Announcer and
// Now are optional.
type Dependencies struct {
	Renderer  core.Renderer
	Player    core.Player
	Store     core.ProgressStore
	Events    core.EventSink
	Announcer core.Announcer
	Log       *logger.Logger
	Now       func() time.Time
}

// Controller owns the session state of the appliance.
type Controller struct {
	renderer  core.Renderer
	player    core.Player
	store     core.ProgressStore
	events    core.EventSink
	announcer core.Announcer
	log       *logger.Logger
	now       func() time.Time
	config    Config

	mu               sync.Mutex
	state            core.SessionState
	sessionID        string
	pendingPause     bool
	pendingCancel    bool
	extractionCancel context.CancelFunc
	// extractionCancelled records a Cancel accepted while extracting.
	extractionCancelled bool
	announceCancel      context.CancelFunc

	wake chan struct{}
}

// New validates the dependencies and creates an idle controller.
func New(deps Dependencies, cfg Config) (*Controller, error) {
	switch {
	case deps.Renderer == nil:
		return nil, fmt.Errorf("%w: renderer", ErrMissingDependency)
	case deps.Player == nil:
		return nil, fmt.Errorf("%w: player", ErrMissingDependency)
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: progress store", ErrMissingDependency)
	case deps.Log == nil:
		return nil, fmt.Errorf("%w: logger", ErrMissingDependency)
	}

	if cfg.SessionBudget <= 0 {
		cfg.SessionBudget = DefaultSessionBudget
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	switch cfg.ResumeMode {
	case "":
		cfg.ResumeMode = ResumeReplay
	case ResumeReplay, ResumeContinue:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownResumeMode, cfg.ResumeMode)
	}

	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Controller{
		renderer:  deps.Renderer,
		player:    deps.Player,
		store:     deps.Store,
		events:    deps.Events,
		announcer: deps.Announcer,
		log:       deps.Log,
		now:       deps.Now,
		config:    cfg,
		state:     core.StateIdle,
		wake:      make(chan struct{}, 1),
	}, nil
}

// State returns the current session state.
func (c *Controller) State() core.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *Controller) currentSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sessionID
}

// Arm prepares the appliance for a capture and prompts the user.
func (c *Controller) Arm(ctx context.Context) error {
	c.mu.Lock()
	if c.state != core.StateAwaitingCapture {
		c.sessionID = uuid.NewString()
	}
	c.mu.Unlock()

	err := c.transition(core.StateAwaitingCapture, core.ReasonArmed)
	if err != nil {
		return err
	}

	c.announce(ctx, PromptCapture)

	return nil
}

// BeginExtraction enters Extracting and returns a context that Cancel aborts.
// The caller must end the extraction with AbortExtraction or Narrate.
func (c *Controller) BeginExtraction(ctx context.Context) (context.Context, error) {
	c.mu.Lock()

	if !core.CanTransition(c.state, core.StateExtracting) {
		from := c.state
		c.mu.Unlock()

		return nil, fmt.Errorf("%w: %s -> %s", core.ErrInvalidTransition, from, core.StateExtracting)
	}

	if c.state != core.StateAwaitingCapture {
		c.sessionID = uuid.NewString()
	}

	extractionCtx, cancel := context.WithCancel(ctx)
	c.extractionCancel = cancel
	c.extractionCancelled = false
	c.pendingPause = false
	c.pendingCancel = false
	c.state = core.StateExtracting
	sessionID := c.sessionID
	c.mu.Unlock()

	c.log.Info("Session state: %s (%s)", core.StateExtracting, core.ReasonCaptureRequested)
	c.emitState(sessionID, core.StateExtracting, core.ReasonCaptureRequested)

	return extractionCtx, nil
}

// AbortExtraction returns a failed or cancelled extraction to AwaitingCapture
// and tells the user what happened.
func (c *Controller) AbortExtraction(ctx context.Context, cause error) error {
	c.releaseExtraction()

	reason := core.ReasonExtractionFailed

	switch {
	case errors.Is(cause, core.ErrCancelled), errors.Is(cause, context.Canceled):
		reason = core.ReasonExtractionCanceled
	case errors.Is(cause, core.ErrCapture):
		reason = core.ReasonCaptureFailed
	}

	err := c.transition(core.StateAwaitingCapture, reason)
	if err != nil {
		return err
	}

	if reason == core.ReasonExtractionCanceled {
		c.announce(ctx, NoticeCaptureAbort)

		return nil
	}

	c.log.Error("Extraction failed: %v", cause)
	c.announce(ctx, fmt.Sprintf(noticeErrorPattern, describe(cause)))

	return nil
}

// TogglePause requests a pause while reading or a resume while paused. Two
// toggles that arrive before the controller acts on the first cancel out.
// It reports whether the request applies to the current state.
func (c *Controller) TogglePause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Narrating() {
		return false
	}

	c.pendingPause = !c.pendingPause
	c.signal()

	return true
}

// Cancel aborts a running extraction or requests the end of the narration.
// It reports whether the request applies to the current state.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.state == core.StateExtracting && c.extractionCancel != nil:
		c.extractionCancel()
		c.extractionCancelled = true

		return true
	case c.state.Narrating():
		c.pendingCancel = true
		c.signal()

		return true
	default:
		return false
	}
}

// signal wakes the worker and cuts short a notice spoken during narration.
// The caller holds c.mu.
func (c *Controller) signal() {
	if c.announceCancel != nil {
		c.announceCancel()
		c.announceCancel = nil
	}

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

type intent int

const (
	intentNone intent = iota
	intentPause
	intentCancel
)

// takeIntent consumes the pending request. Cancel wins over pause.
func (c *Controller) takeIntent() intent {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.pendingCancel:
		c.pendingCancel = false
		c.pendingPause = false

		return intentCancel
	case c.pendingPause:
		c.pendingPause = false

		return intentPause
	default:
		return intentNone
	}
}

func (c *Controller) releaseExtraction() {
	c.mu.Lock()
	cancel := c.extractionCancel
	c.extractionCancel = nil
	c.extractionCancelled = false
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (c *Controller) transition(to core.SessionState, reason core.Reason) error {
	c.mu.Lock()

	from := c.state
	if !core.CanTransition(from, to) {
		c.mu.Unlock()

		return fmt.Errorf("%w: %s -> %s", core.ErrInvalidTransition, from, to)
	}

	c.state = to
	sessionID := c.sessionID
	c.mu.Unlock()

	c.log.Info("Session state: %s -> %s (%s)", from, to, reason)
	c.emitState(sessionID, to, reason)

	return nil
}

func (c *Controller) emitState(sessionID string, state core.SessionState, reason core.Reason) {
	if c.events != nil {
		c.events.SessionStateChanged(sessionID, state, reason)
	}
}

func (c *Controller) announce(ctx context.Context, message string) {
	if c.announcer == nil || ctx.Err() != nil {
		return
	}

	c.announcer.Announce(ctx, message)
}

// announceInterruptible speaks a notice during narration. TogglePause and
// Cancel end it early so the worker reacts within one poll interval.
func (c *Controller) announceInterruptible(ctx context.Context, message string) {
	if c.announcer == nil || ctx.Err() != nil {
		return
	}

	announceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	pending := c.pendingPause || c.pendingCancel
	if !pending {
		c.announceCancel = cancel
	}
	c.mu.Unlock()

	if pending {
		return
	}

	c.announcer.Announce(announceCtx, message)

	c.mu.Lock()
	c.announceCancel = nil
	c.mu.Unlock()
}

// describe shortens an error chain to the part worth speaking.
func describe(err error) string {
	switch {
	case errors.Is(err, core.ErrCapture):
		return "the picture could not be taken."
	case errors.Is(err, core.ErrExtractionExhausted):
		return "the text could not be read."
	default:
		return "something went wrong."
	}
}
