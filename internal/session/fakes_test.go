package session_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/reading-assistant/internal/core"
	"github.com/book-expert/reading-assistant/internal/progress"
	"github.com/book-expert/reading-assistant/internal/session"
	"github.com/stretchr/testify/require"
)

var errMockStore = errors.New("mock store failure")

// fakeRenderer returns clips whose path is the sentence itself.
type fakeRenderer struct {
	mu       sync.Mutex
	rendered []string
	released []string
	failures map[string]error
	onRender func(ctx context.Context, sentence string, call int) error
}

func (r *fakeRenderer) Render(ctx context.Context, sentence string) (core.AudioClip, error) {
	r.mu.Lock()
	r.rendered = append(r.rendered, sentence)
	call := 0

	for _, rendered := range r.rendered {
		if rendered == sentence {
			call++
		}
	}

	hook := r.onRender
	failure := r.failures[sentence]
	r.mu.Unlock()

	if hook != nil {
		hookErr := hook(ctx, sentence, call)
		if hookErr != nil {
			return core.AudioClip{}, hookErr
		}
	}

	if failure != nil {
		return core.AudioClip{}, failure
	}

	return core.AudioClip{Path: sentence, MIMEType: "audio/wav"}, nil
}

func (r *fakeRenderer) Release(clip core.AudioClip) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.released = append(r.released, clip.Path)

	return nil
}

func (r *fakeRenderer) renderedTexts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.rendered...)
}

type fakeHandle struct {
	text string
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	stopped bool
	pauses  int
	resumes int
	err     error
}

func newFakeHandle(text string) *fakeHandle {
	return &fakeHandle{text: text, done: make(chan struct{})}
}

func (h *fakeHandle) complete() {
	h.once.Do(func() { close(h.done) })
}

func (h *fakeHandle) fail(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	h.complete()
}

func (h *fakeHandle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.pauses++

	return nil
}

func (h *fakeHandle) Resume() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.resumes++

	return nil
}

func (h *fakeHandle) Stop() error {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
	h.complete()

	return nil
}

func (h *fakeHandle) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *fakeHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return nil
	}

	return h.err
}

func (h *fakeHandle) snapshot() (stopped bool, pauses, resumes int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.stopped, h.pauses, h.resumes
}

// fakePlayer completes every playback immediately unless onPlay decides otherwise.
type fakePlayer struct {
	mu      sync.Mutex
	handles []*fakeHandle
	onPlay  func(handle *fakeHandle, call int) bool
}

func (p *fakePlayer) Play(_ context.Context, clip core.AudioClip) (core.PlaybackHandle, error) {
	handle := newFakeHandle(clip.Path)

	p.mu.Lock()
	p.handles = append(p.handles, handle)
	call := 0

	for _, existing := range p.handles {
		if existing.text == clip.Path {
			call++
		}
	}

	hook := p.onPlay
	p.mu.Unlock()

	if hook == nil || !hook(handle, call) {
		handle.complete()
	}

	return handle, nil
}

func (p *fakePlayer) playedTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	texts := make([]string, 0, len(p.handles))
	for _, handle := range p.handles {
		texts = append(texts, handle.text)
	}

	return texts
}

func (p *fakePlayer) handle(index int) *fakeHandle {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.handles[index]
}

type stateChange struct {
	state  core.SessionState
	reason core.Reason
}

type skippedUnit struct {
	unit core.NarrationUnit
	err  error
}

type fakeEvents struct {
	mu      sync.Mutex
	changes []stateChange
	started []int
	skipped []skippedUnit
}

func (e *fakeEvents) SessionStateChanged(_ string, state core.SessionState, reason core.Reason) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.changes = append(e.changes, stateChange{state: state, reason: reason})
}

func (e *fakeEvents) UnitStarted(_ string, unit core.NarrationUnit, _ int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.started = append(e.started, unit.Index)
}

func (e *fakeEvents) UnitSkipped(_ string, unit core.NarrationUnit, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.skipped = append(e.skipped, skippedUnit{unit: unit, err: err})
}

func (e *fakeEvents) states() []core.SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()

	states := make([]core.SessionState, 0, len(e.changes))
	for _, change := range e.changes {
		states = append(states, change.state)
	}

	return states
}

type fakeAnnouncer struct {
	mu       sync.Mutex
	messages []string
	// holds makes a notice take that long unless its context ends first.
	holds       map[string]time.Duration
	interrupted []string
}

func (a *fakeAnnouncer) Announce(ctx context.Context, message string) {
	a.mu.Lock()
	a.messages = append(a.messages, message)
	hold := a.holds[message]
	a.mu.Unlock()

	if hold <= 0 {
		return
	}

	timer := time.NewTimer(hold)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		a.mu.Lock()
		a.interrupted = append(a.interrupted, message)
		a.mu.Unlock()
	}
}

func (a *fakeAnnouncer) cutShort() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]string(nil), a.interrupted...)
}

func (a *fakeAnnouncer) said() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]string(nil), a.messages...)
}

type failingStore struct{}

func (failingStore) Save(context.Context, core.Checkpoint) error {
	return fmt.Errorf("%w: %w", core.ErrPersistence, errMockStore)
}

func (failingStore) Load(context.Context) (*core.Checkpoint, error) {
	return nil, fmt.Errorf("%w: %w", core.ErrPersistence, errMockStore)
}

func (failingStore) Clear(context.Context) error {
	return fmt.Errorf("%w: %w", core.ErrPersistence, errMockStore)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type harness struct {
	controller *session.Controller
	renderer   *fakeRenderer
	player     *fakePlayer
	events     *fakeEvents
	announcer  *fakeAnnouncer
	store      core.ProgressStore
	clock      *fakeClock
}

type harnessOption func(*session.Dependencies, *session.Config)

func withStore(store core.ProgressStore) harnessOption {
	return func(deps *session.Dependencies, _ *session.Config) { deps.Store = store }
}

func withResumeMode(mode string) harnessOption {
	return func(_ *session.Dependencies, cfg *session.Config) { cfg.ResumeMode = mode }
}

func withBudget(budget time.Duration) harnessOption {
	return func(_ *session.Dependencies, cfg *session.Config) { cfg.SessionBudget = budget }
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "session-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func newFileStore(t *testing.T) core.ProgressStore {
	t.Helper()

	store, err := progress.NewFileStore(filepath.Join(t.TempDir(), "checkpoint.json"))
	require.NoError(t, err)

	return store
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		renderer:  &fakeRenderer{failures: map[string]error{}},
		player:    &fakePlayer{},
		events:    &fakeEvents{},
		announcer: &fakeAnnouncer{},
		clock:     &fakeClock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)},
	}

	deps := session.Dependencies{
		Renderer:  h.renderer,
		Player:    h.player,
		Store:     newFileStore(t),
		Events:    h.events,
		Announcer: h.announcer,
		Log:       newTestLogger(t),
		Now:       h.clock.Now,
	}
	cfg := session.Config{
		SessionBudget: time.Minute,
		PollInterval:  5 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(&deps, &cfg)
	}

	controller, err := session.New(deps, cfg)
	require.NoError(t, err)

	h.controller = controller
	h.store = deps.Store

	return h
}

type narrateResult struct {
	outcome core.Outcome
	err     error
}

// narrateAsync runs Narrate on its own goroutine, like the device worker does.
func (h *harness) narrateAsync(ctx context.Context, body string) <-chan narrateResult {
	results := make(chan narrateResult, 1)

	go func() {
		outcome, err := h.controller.Narrate(ctx, body)
		results <- narrateResult{outcome: outcome, err: err}
	}()

	return results
}

func waitResult(t *testing.T, results <-chan narrateResult) narrateResult {
	t.Helper()

	select {
	case result := <-results:
		return result
	case <-time.After(10 * time.Second):
		t.Fatal("narration did not finish")

		return narrateResult{}
	}
}

func (h *harness) checkpoint(t *testing.T) *core.Checkpoint {
	t.Helper()

	checkpoint, err := h.store.Load(context.Background())
	require.NoError(t, err)

	return checkpoint
}
