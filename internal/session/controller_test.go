package session_test

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/book-expert/reading-assistant/internal/core"
	"github.com/book-expert/reading-assistant/internal/session"
	"github.com/book-expert/reading-assistant/internal/text"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fiveSentences = "One. Two. Three. Four. Five."

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	log := newTestLogger(t)
	store := newFileStore(t)

	_, err := session.New(session.Dependencies{Player: &fakePlayer{}, Store: store, Log: log}, session.Config{})
	require.ErrorIs(t, err, session.ErrMissingDependency)

	_, err = session.New(session.Dependencies{
		Renderer: &fakeRenderer{}, Player: &fakePlayer{}, Store: store, Log: log,
	}, session.Config{ResumeMode: "rewind"})
	require.ErrorIs(t, err, session.ErrUnknownResumeMode)

	controller, err := session.New(session.Dependencies{
		Renderer: &fakeRenderer{}, Player: &fakePlayer{}, Store: store, Log: log,
	}, session.Config{})
	require.NoError(t, err)
	assert.Equal(t, core.StateIdle, controller.State())
}

func TestNarrate_PlaysEveryUnitOnceInOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	outcome, err := h.controller.Narrate(context.Background(), "One. Two! Three? Four.")
	require.NoError(t, err)

	assert.Equal(t, core.StateCompleted, outcome.State)
	assert.Equal(t, core.ReasonAllUnitsNarrated, outcome.Reason)
	assert.Equal(t, []int{1, 2, 3, 4}, outcome.Played)
	assert.Empty(t, outcome.Skipped)
	assert.Equal(t, 5, outcome.NextIndex)
	assert.Equal(t, []string{"One.", "Two!", "Three?", "Four."}, h.player.playedTexts())
	assert.Equal(t, []int{1, 2, 3, 4}, h.events.started)
	assert.Equal(t, []core.SessionState{core.StateReading, core.StateCompleted}, h.events.states())
	assert.Nil(t, h.checkpoint(t), "a completed session leaves no checkpoint")
	assert.Len(t, h.renderer.released, 4, "every clip is released after playback")
	assert.Equal(t, core.StateCompleted, h.controller.State())
}

func TestNarrate_CancelDuringThirdUnit(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.player.onPlay = func(handle *fakeHandle, _ int) bool {
		if handle.text != "Three." {
			return false
		}

		require.True(t, h.controller.Cancel())

		return true
	}

	outcome, err := h.controller.Narrate(context.Background(), fiveSentences)
	require.NoError(t, err)

	assert.Equal(t, core.StateCancelled, outcome.State)
	assert.Equal(t, core.ReasonCancelledByUser, outcome.Reason)
	assert.Equal(t, []int{1, 2}, outcome.Played)
	assert.Equal(t, []string{"One.", "Two.", "Three."}, h.renderer.renderedTexts())
	assert.Equal(t, []string{"One.", "Two.", "Three."}, h.player.playedTexts())

	stopped, _, _ := h.player.handle(2).snapshot()
	assert.True(t, stopped, "the running playback is terminated")
	assert.Nil(t, h.checkpoint(t), "cancel deletes the checkpoint")
	assert.Contains(t, h.announcer.said(), session.NoticeCancelled)
	assert.Equal(t, core.StateCancelled, h.controller.State())
}

func TestNarrate_PauseReplaysTheInterruptedUnit(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.player.onPlay = func(handle *fakeHandle, call int) bool {
		if handle.text == "Two." && call == 1 {
			assert.True(t, h.controller.TogglePause())

			return true
		}

		return false
	}

	results := h.narrateAsync(context.Background(), "One. Two. Three.")

	require.Eventually(t, func() bool {
		return h.controller.State() == core.StatePaused
	}, 5*time.Second, 5*time.Millisecond)

	stopped, _, _ := h.player.handle(1).snapshot()
	assert.True(t, stopped, "replay mode stops playback before reporting paused")

	require.True(t, h.controller.TogglePause())

	result := waitResult(t, results)
	require.NoError(t, result.err)

	assert.Equal(t, core.ReasonAllUnitsNarrated, result.outcome.Reason)
	assert.Equal(t, []int{1, 2, 3}, result.outcome.Played)
	assert.Equal(t, []string{"One.", "Two.", "Two.", "Three."}, h.renderer.renderedTexts())
	assert.Equal(t, []string{"One.", "Two.", "Two.", "Three."}, h.player.playedTexts())
	assert.Equal(t, []core.SessionState{
		core.StateReading, core.StatePaused, core.StateReading, core.StateCompleted,
	}, h.events.states())
}

func TestNarrate_PauseContinuesSuspendedPlayback(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withResumeMode(session.ResumeContinue))
	h.player.onPlay = func(handle *fakeHandle, _ int) bool {
		if handle.text == "Two." {
			assert.True(t, h.controller.TogglePause())

			return true
		}

		return false
	}

	results := h.narrateAsync(context.Background(), "One. Two. Three.")

	require.Eventually(t, func() bool {
		return h.controller.State() == core.StatePaused
	}, 5*time.Second, 5*time.Millisecond)

	second := h.player.handle(1)
	stopped, pauses, _ := second.snapshot()
	assert.False(t, stopped)
	assert.Equal(t, 1, pauses)

	require.True(t, h.controller.TogglePause())

	require.Eventually(t, func() bool {
		_, _, resumes := second.snapshot()

		return resumes == 1
	}, 5*time.Second, 5*time.Millisecond)

	second.complete()

	result := waitResult(t, results)
	require.NoError(t, result.err)

	assert.Equal(t, []int{1, 2, 3}, result.outcome.Played)
	assert.Equal(t, []string{"One.", "Two.", "Three."}, h.renderer.renderedTexts(), "no re-render")
}

func TestNarrate_PauseWhileRenderingAbandonsTheRender(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.renderer.onRender = func(ctx context.Context, sentence string, call int) error {
		if sentence != "Two." || call != 1 {
			return nil
		}

		h.controller.TogglePause()
		<-ctx.Done()

		return ctx.Err()
	}

	results := h.narrateAsync(context.Background(), "One. Two. Three.")

	require.Eventually(t, func() bool {
		return h.controller.State() == core.StatePaused
	}, 5*time.Second, 5*time.Millisecond)

	require.True(t, h.controller.TogglePause())

	result := waitResult(t, results)
	require.NoError(t, result.err)

	assert.Equal(t, []int{1, 2, 3}, result.outcome.Played)
	assert.Empty(t, result.outcome.Skipped)
	assert.Equal(t, []string{"One.", "Two.", "Three."}, h.player.playedTexts())
}

func TestNarrate_CancelWhilePaused(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.player.onPlay = func(handle *fakeHandle, _ int) bool {
		if handle.text == "Two." {
			h.controller.TogglePause()

			return true
		}

		return false
	}

	results := h.narrateAsync(context.Background(), "One. Two. Three.")

	require.Eventually(t, func() bool {
		return h.controller.State() == core.StatePaused
	}, 5*time.Second, 5*time.Millisecond)

	require.True(t, h.controller.Cancel())

	result := waitResult(t, results)
	require.NoError(t, result.err)

	assert.Equal(t, core.StateCancelled, result.outcome.State)
	assert.Equal(t, []int{1}, result.outcome.Played)
	assert.Nil(t, h.checkpoint(t))
}

func TestNarrate_RenderFailureSkipsUnit(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.renderer.failures["Two."] = fmt.Errorf("%w: service unavailable", core.ErrRender)

	outcome, err := h.controller.Narrate(context.Background(), "One. Two. Three.")
	require.NoError(t, err)

	assert.Equal(t, core.ReasonAllUnitsNarrated, outcome.Reason)
	assert.Equal(t, []int{1, 3}, outcome.Played)
	assert.Equal(t, []int{2}, outcome.Skipped)
	assert.Equal(t, []string{"One.", "Three."}, h.player.playedTexts())

	require.Len(t, h.events.skipped, 1)
	assert.Equal(t, 2, h.events.skipped[0].unit.Index)
	require.ErrorIs(t, h.events.skipped[0].err, core.ErrRender)
	assert.Contains(t, h.announcer.said(), session.NoticeUnitSkipped)
	assert.Nil(t, h.checkpoint(t))
}

func TestNarrate_PlaybackFailureSkipsUnit(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.player.onPlay = func(handle *fakeHandle, _ int) bool {
		if handle.text == "One." {
			handle.fail(fmt.Errorf("%w: device busy", core.ErrPlayback))

			return true
		}

		return false
	}

	outcome, err := h.controller.Narrate(context.Background(), "One. Two.")
	require.NoError(t, err)

	assert.Equal(t, []int{2}, outcome.Played)
	assert.Equal(t, []int{1}, outcome.Skipped)
	require.Len(t, h.events.skipped, 1)
	require.ErrorIs(t, h.events.skipped[0].err, core.ErrPlayback)
}

func TestNarrate_ResumesFromMatchingCheckpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	require.NoError(t, h.store.Save(context.Background(), core.Checkpoint{
		SequenceID:    text.Fingerprint(fiveSentences),
		NextUnitIndex: 3,
	}))

	outcome, err := h.controller.Narrate(context.Background(), fiveSentences)
	require.NoError(t, err)

	assert.Equal(t, []int{3, 4, 5}, outcome.Played)
	assert.Equal(t, []string{"Three.", "Four.", "Five."}, h.player.playedTexts())
	require.NotEmpty(t, h.events.changes)
	assert.Equal(t, core.ReasonResumedCheckpoint, h.events.changes[0].reason)
	assert.Nil(t, h.checkpoint(t))
}

func TestNarrate_StaleCheckpointIsDiscarded(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		checkpoint core.Checkpoint
	}{
		{
			name:       "Different text",
			checkpoint: core.Checkpoint{SequenceID: text.Fingerprint("Another page."), NextUnitIndex: 2},
		},
		{
			name:       "Index past the end",
			checkpoint: core.Checkpoint{SequenceID: text.Fingerprint("One. Two."), NextUnitIndex: 7},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			require.NoError(t, h.store.Save(context.Background(), tc.checkpoint))

			outcome, err := h.controller.Narrate(context.Background(), "One. Two.")
			require.NoError(t, err)

			assert.Equal(t, []int{1, 2}, outcome.Played)
			assert.Equal(t, core.ReasonTextReady, h.events.changes[0].reason)
		})
	}
}

func TestNarrate_RestartResumesAtInterruptedUnit(t *testing.T) {
	t.Parallel()

	store := newFileStore(t)
	first := newHarness(t, withStore(store))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first.player.onPlay = func(handle *fakeHandle, _ int) bool {
		if handle.text == "Three." {
			cancel()

			return true
		}

		return false
	}

	outcome, err := first.controller.Narrate(ctx, fiveSentences)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, core.ReasonShutdown, outcome.Reason)
	assert.Equal(t, []int{1, 2}, outcome.Played)

	checkpoint := first.checkpoint(t)
	require.NotNil(t, checkpoint)
	assert.Equal(t, core.Checkpoint{SequenceID: text.Fingerprint(fiveSentences), NextUnitIndex: 3}, *checkpoint)

	second := newHarness(t, withStore(store))

	outcome, err = second.controller.Narrate(context.Background(), fiveSentences)
	require.NoError(t, err)

	assert.Equal(t, []int{3, 4, 5}, outcome.Played)
	assert.Equal(t, []string{"Three.", "Four.", "Five."}, second.player.playedTexts())
}

func TestNarrate_BudgetEndsSessionWithinOnePollInterval(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withBudget(time.Minute))

	var exceededAt time.Time

	h.player.onPlay = func(handle *fakeHandle, _ int) bool {
		if handle.text != "Two." {
			return false
		}

		h.clock.advance(2 * time.Minute)
		exceededAt = time.Now()

		return true
	}

	outcome, err := h.controller.Narrate(context.Background(), "One. Two. Three.")
	require.NoError(t, err)

	assert.Less(t, time.Since(exceededAt), time.Second)
	assert.Equal(t, core.StateCompleted, outcome.State)
	assert.Equal(t, core.ReasonSessionBudget, outcome.Reason)
	assert.Equal(t, []int{1}, outcome.Played)

	stopped, _, _ := h.player.handle(1).snapshot()
	assert.True(t, stopped)

	checkpoint := h.checkpoint(t)
	require.NotNil(t, checkpoint, "the budget leaves the checkpoint in place")
	assert.Equal(t, 2, checkpoint.NextUnitIndex)
	assert.Contains(t, h.announcer.said(), session.NoticeBudget)
}

func TestNarrate_EmptyTextCompletesImmediately(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	outcome, err := h.controller.Narrate(context.Background(), "  \n\t ")
	require.NoError(t, err)

	assert.Equal(t, core.StateCompleted, outcome.State)
	assert.Equal(t, core.ReasonNothingToRead, outcome.Reason)
	assert.Zero(t, outcome.Total)
	assert.Empty(t, h.renderer.renderedTexts())
	assert.Empty(t, h.player.playedTexts())
	assert.Nil(t, h.checkpoint(t))
}

func TestNarrate_PersistenceFailuresDoNotStopNarration(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withStore(failingStore{}))

	outcome, err := h.controller.Narrate(context.Background(), "One. Two. Three.")
	require.NoError(t, err)

	assert.Equal(t, core.ReasonAllUnitsNarrated, outcome.Reason)
	assert.Equal(t, []int{1, 2, 3}, outcome.Played)
}

func TestController_ControlsOutsideNarration(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	assert.False(t, h.controller.TogglePause(), "nothing to pause while idle")
	assert.False(t, h.controller.Cancel(), "nothing to cancel while idle")

	require.NoError(t, h.controller.Arm(ctx))
	assert.Equal(t, core.StateAwaitingCapture, h.controller.State())
	assert.Equal(t, []string{session.PromptCapture}, h.announcer.said())

	_, err := h.controller.Narrate(ctx, "One.")
	require.ErrorIs(t, err, core.ErrInvalidTransition, "text needs an extraction first")

	extractionCtx, err := h.controller.BeginExtraction(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.StateExtracting, h.controller.State())

	assert.False(t, h.controller.TogglePause())
	require.True(t, h.controller.Cancel())
	require.ErrorIs(t, extractionCtx.Err(), context.Canceled)

	require.NoError(t, h.controller.AbortExtraction(ctx, core.ErrCancelled))
	assert.Equal(t, core.StateAwaitingCapture, h.controller.State())
	assert.Equal(t, []string{session.PromptCapture, session.NoticeCaptureAbort}, h.announcer.said())

	_, err = h.controller.BeginExtraction(ctx)
	require.NoError(t, err)
	require.NoError(t, h.controller.AbortExtraction(ctx, fmt.Errorf("%w: camera busy", core.ErrCapture)))
	assert.Equal(t, core.StateAwaitingCapture, h.controller.State())
	assert.Contains(t, h.announcer.said(), "An error occurred: the picture could not be taken.")
}

func TestController_ExtractionToReading(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.controller.Arm(ctx))

	_, err := h.controller.BeginExtraction(ctx)
	require.NoError(t, err)

	outcome, err := h.controller.Narrate(ctx, "Only one sentence here.")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, outcome.Played)
	assert.Equal(t, []core.SessionState{
		core.StateAwaitingCapture, core.StateExtracting, core.StateReading, core.StateCompleted,
	}, h.events.states())

	require.NoError(t, h.controller.Arm(ctx), "a finished session can be armed again")
}

func TestNarrate_CancelDuringExtractionIsNotLost(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.controller.Arm(ctx))

	extractionCtx, err := h.controller.BeginExtraction(ctx)
	require.NoError(t, err)

	require.True(t, h.controller.Cancel())
	require.ErrorIs(t, extractionCtx.Err(), context.Canceled)

	// The extraction finished anyway and handed over its text.
	outcome, err := h.controller.Narrate(ctx, "One. Two. Three.")
	require.ErrorIs(t, err, core.ErrCancelled)

	assert.Equal(t, core.StateAwaitingCapture, outcome.State)
	assert.Equal(t, core.ReasonExtractionCanceled, outcome.Reason)
	assert.Empty(t, outcome.Played)
	assert.Empty(t, h.renderer.renderedTexts())
	assert.Empty(t, h.player.playedTexts())
	assert.Equal(t, core.StateAwaitingCapture, h.controller.State())
	assert.Equal(t, []string{session.PromptCapture, session.NoticeCaptureAbort}, h.announcer.said())
	assert.Nil(t, h.checkpoint(t))

	_, err = h.controller.BeginExtraction(ctx)
	require.NoError(t, err)

	outcome, err = h.controller.Narrate(ctx, "Four.")
	require.NoError(t, err, "the next capture reads normally")
	assert.Equal(t, []int{1}, outcome.Played)
}

func TestNarrate_CancelCutsSkipNoticeShort(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.renderer.failures["One."] = fmt.Errorf("%w: service unavailable", core.ErrRender)
	h.announcer.holds = map[string]time.Duration{session.NoticeUnitSkipped: 10 * time.Second}

	results := h.narrateAsync(context.Background(), "One. Two. Three.")

	require.Eventually(t, func() bool {
		return slices.Contains(h.announcer.said(), session.NoticeUnitSkipped)
	}, 5*time.Second, time.Millisecond)

	started := time.Now()
	require.True(t, h.controller.Cancel())

	result := waitResult(t, results)
	require.NoError(t, result.err)

	assert.Less(t, time.Since(started), 2*time.Second)
	assert.Equal(t, core.StateCancelled, result.outcome.State)
	assert.Equal(t, []int{1}, result.outcome.Skipped)
	assert.Empty(t, result.outcome.Played)
	assert.Empty(t, h.player.playedTexts())
	assert.Equal(t, []string{session.NoticeUnitSkipped}, h.announcer.cutShort())
}
