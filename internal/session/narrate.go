package session

import (
	"context"
	"fmt"
	"time"

	"github.com/book-expert/reading-assistant/internal/core"
	"github.com/book-expert/reading-assistant/internal/text"
	"github.com/google/uuid"
)

// step is the result of one phase of narrating a unit.
type step int

const (
	stepNone step = iota
	// stepDone means the unit played to the end.
	stepDone
	// stepSkipped means the unit failed to render or play.
	stepSkipped
	// stepReplay means the unit must be rendered and played again.
	stepReplay
	// stepResumed means a suspended playback continues.
	stepResumed
	stepCancelled
	stepBudget
	stepShutdown
)

// clipReleaser is implemented by renderers that own their clip files.
type clipReleaser interface {
	Release(clip core.AudioClip) error
}

type renderResult struct {
	clip core.AudioClip
	err  error
}

// narration is the bookkeeping of one Narrate call.
type narration struct {
	sessionID  string
	sequenceID string
	units      []core.NarrationUnit
	startedAt  time.Time
	outcome    core.Outcome
}

// Narrate reads text aloud and returns once the session reached a terminal
// state. The returned error is non-nil only for misuse, for text whose
// extraction the user already cancelled (core.ErrCancelled), or when ctx ends.
func (c *Controller) Narrate(ctx context.Context, body string) (core.Outcome, error) {
	c.mu.Lock()

	if c.state == core.StateExtracting && c.extractionCancelled {
		c.mu.Unlock()

		return c.abortCancelledExtraction(ctx)
	}

	cancelExtraction := c.extractionCancel
	c.extractionCancel = nil

	from := c.state
	if !core.CanTransition(from, core.StateReading) {
		c.mu.Unlock()

		if cancelExtraction != nil {
			cancelExtraction()
		}

		return core.Outcome{}, fmt.Errorf("%w: %s -> %s", core.ErrInvalidTransition, from, core.StateReading)
	}

	if from != core.StateExtracting || c.sessionID == "" {
		c.sessionID = uuid.NewString()
	}

	c.pendingPause = false
	c.pendingCancel = false
	sessionID := c.sessionID
	c.mu.Unlock()

	if cancelExtraction != nil {
		cancelExtraction()
	}

	units := text.Segment(body)
	run := &narration{
		sessionID:  sessionID,
		sequenceID: text.Fingerprint(body),
		units:      units,
		outcome: core.Outcome{
			SessionID: sessionID,
			Total:     len(units),
			NextIndex: 1,
		},
	}

	if len(units) == 0 {
		return c.finish(ctx, run, core.StateCompleted, core.ReasonNothingToRead)
	}

	start := c.resumeIndex(ctx, run)

	reason := core.ReasonTextReady
	if start > 1 {
		reason = core.ReasonResumedCheckpoint
	}

	err := c.transition(core.StateReading, reason)
	if err != nil {
		return run.outcome, err
	}

	run.startedAt = c.now()
	run.outcome.NextIndex = start

	for index := start; index <= len(units); index++ {
		unit := units[index-1]

		result := c.narrateUnit(ctx, run, unit)

		switch result {
		case stepDone:
			run.outcome.Played = append(run.outcome.Played, unit.Index)
		case stepSkipped:
			run.outcome.Skipped = append(run.outcome.Skipped, unit.Index)
		case stepCancelled:
			return c.finish(ctx, run, core.StateCancelled, core.ReasonCancelledByUser)
		case stepBudget:
			return c.finish(ctx, run, core.StateCompleted, core.ReasonSessionBudget)
		default:
			return c.finish(ctx, run, core.StateCompleted, core.ReasonShutdown)
		}

		run.outcome.NextIndex = index + 1

		if index < len(units) {
			c.saveCheckpoint(ctx, run, index+1)
		}
	}

	return c.finish(ctx, run, core.StateCompleted, core.ReasonAllUnitsNarrated)
}

// abortCancelledExtraction drops text that arrived after the user cancelled
// its extraction.
func (c *Controller) abortCancelledExtraction(ctx context.Context) (core.Outcome, error) {
	abortErr := c.AbortExtraction(ctx, core.ErrCancelled)
	if abortErr != nil {
		return core.Outcome{}, abortErr
	}

	outcome := core.Outcome{
		SessionID: c.currentSessionID(),
		State:     core.StateAwaitingCapture,
		Reason:    core.ReasonExtractionCanceled,
	}

	return outcome, fmt.Errorf("%w: extraction was cancelled before reading", core.ErrCancelled)
}

// resumeIndex returns the first unit to narrate. A checkpoint of a different
// text, or one outside the unit range, is discarded.
func (c *Controller) resumeIndex(ctx context.Context, run *narration) int {
	checkpoint, err := c.store.Load(ctx)
	if err != nil {
		c.log.Warn("Failed to load checkpoint, starting from the beginning: %v", err)

		return 1
	}

	if checkpoint == nil {
		return 1
	}

	if checkpoint.SequenceID == run.sequenceID &&
		checkpoint.NextUnitIndex >= 1 && checkpoint.NextUnitIndex <= len(run.units) {
		c.log.Info("Resuming session %s at unit %d of %d", run.sessionID, checkpoint.NextUnitIndex, len(run.units))

		return checkpoint.NextUnitIndex
	}

	c.log.Info("Discarding stale checkpoint for sequence %s", checkpoint.SequenceID)
	c.clearCheckpoint(ctx)

	return 1
}

// narrateUnit renders and plays one unit, handling pause, resume, cancel and
// the session budget until the unit is finished with.
func (c *Controller) narrateUnit(ctx context.Context, run *narration, unit core.NarrationUnit) step {
	for {
		result := c.checkBoundary(ctx, run, nil)
		if result == stepReplay {
			continue
		}

		if result != stepNone {
			return result
		}

		if c.events != nil {
			c.events.UnitStarted(run.sessionID, unit, len(run.units))
		}

		rendered, result := c.render(ctx, run, unit)
		if result == stepReplay {
			continue
		}

		if result != stepNone {
			return result
		}

		if rendered.err != nil {
			return c.skip(ctx, run, unit, rendered.err)
		}

		clip := rendered.clip

		result = c.checkBoundary(ctx, run, nil)
		if result != stepNone {
			c.release(clip)

			if result == stepReplay {
				continue
			}

			return result
		}

		handle, playErr := c.player.Play(ctx, clip)
		if playErr != nil {
			c.release(clip)

			if ctx.Err() != nil {
				return stepShutdown
			}

			return c.skip(ctx, run, unit, fmt.Errorf("%w: %w", core.ErrPlayback, playErr))
		}

		result = c.await(ctx, run, handle)
		c.release(clip)

		switch result {
		case stepReplay:
			continue
		case stepDone:
			handleErr := handle.Err()
			if handleErr != nil {
				return c.skip(ctx, run, unit, handleErr)
			}

			return stepDone
		default:
			return result
		}
	}
}

// checkBoundary acts on pending intents and the budget between phases.
func (c *Controller) checkBoundary(ctx context.Context, run *narration, handle core.PlaybackHandle) step {
	if ctx.Err() != nil {
		if handle != nil {
			c.stop(handle)
		}

		return stepShutdown
	}

	result := c.handleIntent(ctx, handle)
	if result != stepNone && result != stepResumed {
		return result
	}

	if c.budgetExceeded(run) {
		if handle != nil {
			c.stop(handle)
		}

		return stepBudget
	}

	return result
}

// render runs the renderer in its own goroutine so that intents and the
// budget are observed while it works. An abandoned render is cancelled and
// its clip released when it eventually returns.
func (c *Controller) render(ctx context.Context, run *narration, unit core.NarrationUnit) (renderResult, step) {
	renderCtx, cancel := context.WithCancel(ctx)
	results := make(chan renderResult, 1)

	go func() {
		clip, err := c.renderer.Render(renderCtx, unit.Text)
		results <- renderResult{clip: clip, err: err}
	}()

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case result := <-results:
			cancel()

			if result.err != nil {
				result.err = fmt.Errorf("failed to render unit %d: %w", unit.Index, result.err)
			}

			return result, stepNone
		case <-ticker.C:
		case <-c.wake:
		case <-ctx.Done():
		}

		interrupt := c.checkBoundary(ctx, run, nil)
		if interrupt == stepNone {
			continue
		}

		cancel()

		go func() {
			abandoned := <-results
			if abandoned.err == nil {
				c.release(abandoned.clip)
			}
		}()

		return renderResult{}, interrupt
	}
}

// await polls a running playback until it ends or an interrupt stops it.
func (c *Controller) await(ctx context.Context, run *narration, handle core.PlaybackHandle) step {
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		if handle.Finished() {
			return stepDone
		}

		select {
		case <-ticker.C:
		case <-c.wake:
		case <-ctx.Done():
		}

		// A player stopped by the ended context has not played the unit.
		if ctx.Err() != nil {
			c.stop(handle)

			return stepShutdown
		}

		if handle.Finished() {
			return stepDone
		}

		result := c.checkBoundary(ctx, run, handle)
		if result != stepNone && result != stepResumed {
			return result
		}
	}
}

// handleIntent consumes one pending request. A pause blocks until the user
// resumes, cancels or ctx ends.
func (c *Controller) handleIntent(ctx context.Context, handle core.PlaybackHandle) step {
	switch c.takeIntent() {
	case intentCancel:
		if handle != nil {
			c.stop(handle)
		}

		return stepCancelled
	case intentPause:
		return c.pause(ctx, handle)
	default:
		return stepNone
	}
}

func (c *Controller) pause(ctx context.Context, handle core.PlaybackHandle) step {
	suspended := false

	if handle != nil {
		if c.config.ResumeMode == ResumeContinue {
			pauseErr := handle.Pause()
			if pauseErr == nil {
				suspended = true
			} else {
				c.log.Warn("Failed to suspend playback, stopping it instead: %v", pauseErr)
			}
		}

		if !suspended {
			c.stop(handle)
		}
	}

	err := c.transition(core.StatePaused, core.ReasonPausedByUser)
	if err != nil {
		c.log.Error("Failed to enter paused state: %v", err)
	}

	for {
		select {
		case <-c.wake:
		case <-ctx.Done():
			if suspended {
				c.stop(handle)
			}

			return stepShutdown
		}

		switch c.takeIntent() {
		case intentCancel:
			if suspended {
				c.stop(handle)
			}

			return stepCancelled
		case intentPause:
			if suspended {
				resumeErr := handle.Resume()
				if resumeErr != nil {
					c.log.Warn("Failed to resume playback, replaying the unit: %v", resumeErr)
					c.stop(handle)

					suspended = false
				}
			}

			err = c.transition(core.StateReading, core.ReasonResumedByUser)
			if err != nil {
				c.log.Error("Failed to leave paused state: %v", err)
			}

			if suspended {
				return stepResumed
			}

			return stepReplay
		case intentNone:
		}
	}
}

// budgetExceeded reports whether the reading clock ran out. The clock keeps
// running while paused but is only enforced while reading.
func (c *Controller) budgetExceeded(run *narration) bool {
	if c.State() != core.StateReading {
		return false
	}

	return c.now().Sub(run.startedAt) >= c.config.SessionBudget
}

func (c *Controller) skip(ctx context.Context, run *narration, unit core.NarrationUnit, cause error) step {
	c.log.Error("Skipping unit %d of %d: %v", unit.Index, len(run.units), cause)

	if c.events != nil {
		c.events.UnitSkipped(run.sessionID, unit, cause)
	}

	c.announceInterruptible(ctx, NoticeUnitSkipped)

	return stepSkipped
}

func (c *Controller) stop(handle core.PlaybackHandle) {
	err := handle.Stop()
	if err != nil {
		c.log.Warn("Failed to stop playback: %v", err)
	}
}

func (c *Controller) release(clip core.AudioClip) {
	releaser, ok := c.renderer.(clipReleaser)
	if !ok {
		return
	}

	err := releaser.Release(clip)
	if err != nil {
		c.log.Warn("Failed to release audio clip: %v", err)
	}
}

func (c *Controller) saveCheckpoint(ctx context.Context, run *narration, next int) {
	err := c.store.Save(ctx, core.Checkpoint{SequenceID: run.sequenceID, NextUnitIndex: next})
	if err != nil {
		c.log.Error("Failed to save checkpoint at unit %d: %v", next, err)
	}
}

func (c *Controller) clearCheckpoint(ctx context.Context) {
	err := c.store.Clear(ctx)
	if err != nil {
		c.log.Error("Failed to clear checkpoint: %v", err)
	}
}

// finish moves the session into its terminal state. The checkpoint survives
// an exhausted budget and a shutdown so that the text can be resumed.
func (c *Controller) finish(
	ctx context.Context, run *narration, state core.SessionState, reason core.Reason,
) (core.Outcome, error) {
	// Persistence must not be skipped because the caller's context ended.
	storeCtx := context.WithoutCancel(ctx)

	if reason == core.ReasonAllUnitsNarrated || reason == core.ReasonCancelledByUser {
		c.clearCheckpoint(storeCtx)
	}

	err := c.transition(state, reason)
	if err != nil {
		c.log.Error("Failed to finish session %s: %v", run.sessionID, err)
	}

	run.outcome.State = state
	run.outcome.Reason = reason

	switch reason {
	case core.ReasonCancelledByUser:
		c.announce(ctx, NoticeCancelled)
	case core.ReasonSessionBudget:
		c.announce(ctx, NoticeBudget)
	case core.ReasonShutdown:
		return run.outcome, ctx.Err()
	}

	return run.outcome, nil
}
