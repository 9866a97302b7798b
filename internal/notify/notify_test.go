package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/reading-assistant/internal/core"
	"github.com/book-expert/reading-assistant/internal/notify"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMockRender = errors.New("mock render failure")

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "notify-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func createTestNatsClient(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	natsServer := test.RunServer(&opts)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	t.Cleanup(func() {
		natsConnection.Close()
		natsServer.Shutdown()
	})

	return natsConnection
}

func TestNewPublisher_Validation(t *testing.T) {
	t.Parallel()

	_, err := notify.NewPublisher(nil, "reader.events", "", nil)
	require.ErrorIs(t, err, notify.ErrConnectionRequired)

	_, err = notify.NewPublisher(createTestNatsClient(t), "", "", nil)
	require.ErrorIs(t, err, notify.ErrSubjectEmpty)
}

func TestPublisher_PublishesSessionEvents(t *testing.T) {
	t.Parallel()

	natsConnection := createTestNatsClient(t)

	sub, err := natsConnection.SubscribeSync("reader.events")
	require.NoError(t, err)
	require.NoError(t, natsConnection.Flush())

	publisher, err := notify.NewPublisher(natsConnection, "reader.events", "kitchen-reader", newTestLogger(t))
	require.NoError(t, err)

	unit := core.NarrationUnit{Index: 2, Text: "Second sentence."}

	publisher.SessionStateChanged("session-1", core.StateReading, core.ReasonTextReady)
	publisher.UnitStarted("session-1", unit, 4)
	publisher.UnitSkipped("session-1", unit, errMockRender)

	received := make([]notify.SessionEvent, 0, 3)

	for range 3 {
		msg, nextErr := sub.NextMsg(5 * time.Second)
		require.NoError(t, nextErr)

		var event notify.SessionEvent
		require.NoError(t, json.Unmarshal(msg.Data, &event))

		received = append(received, event)
	}

	assert.Equal(t, notify.EventStateChanged, received[0].Type)
	assert.Equal(t, core.StateReading, received[0].State)
	assert.Equal(t, core.ReasonTextReady, received[0].Reason)

	assert.Equal(t, notify.EventUnitStarted, received[1].Type)
	assert.Equal(t, 2, received[1].UnitIndex)
	assert.Equal(t, 4, received[1].Total)

	assert.Equal(t, notify.EventUnitSkipped, received[2].Type)
	assert.Equal(t, errMockRender.Error(), received[2].Error)

	for _, event := range received {
		assert.Equal(t, "session-1", event.Header.WorkflowID)
		assert.Equal(t, "kitchen-reader", event.Header.UserID)
		assert.NotEmpty(t, event.Header.EventID)
	}

	assert.NotEqual(t, received[0].Header.EventID, received[1].Header.EventID)
}

type recordingSink struct {
	states []core.SessionState
}

func (r *recordingSink) SessionStateChanged(_ string, state core.SessionState, _ core.Reason) {
	r.states = append(r.states, state)
}

func (r *recordingSink) UnitStarted(string, core.NarrationUnit, int) {}

func (r *recordingSink) UnitSkipped(string, core.NarrationUnit, error) {}

func TestMulti_FansOut(t *testing.T) {
	t.Parallel()

	first, second := &recordingSink{}, &recordingSink{}
	sink := notify.Multi{notify.NewLogSink(newTestLogger(t)), first, second}

	sink.SessionStateChanged("s", core.StatePaused, core.ReasonPausedByUser)
	sink.UnitStarted("s", core.NarrationUnit{Index: 1, Text: "One."}, 1)
	sink.UnitSkipped("s", core.NarrationUnit{Index: 1, Text: "One."}, errMockRender)

	assert.Equal(t, []core.SessionState{core.StatePaused}, first.states)
	assert.Equal(t, []core.SessionState{core.StatePaused}, second.states)
}

type stubRenderer struct {
	mu       sync.Mutex
	err      error
	rendered []string
	released []string
}

func (s *stubRenderer) Render(_ context.Context, sentence string) (core.AudioClip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rendered = append(s.rendered, sentence)
	if s.err != nil {
		return core.AudioClip{}, s.err
	}

	return core.AudioClip{Path: "notice.wav"}, nil
}

func (s *stubRenderer) Release(clip core.AudioClip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.released = append(s.released, clip.Path)

	return nil
}

type stubHandle struct {
	mu       sync.Mutex
	polls    int
	finishAt int
	stopped  bool
}

func (h *stubHandle) Pause() error  { return nil }
func (h *stubHandle) Resume() error { return nil }

func (h *stubHandle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopped = true

	return nil
}

func (h *stubHandle) Finished() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.polls++

	return h.stopped || (h.finishAt > 0 && h.polls >= h.finishAt)
}

func (h *stubHandle) Err() error { return nil }

type stubPlayer struct {
	handle *stubHandle
}

func (p *stubPlayer) Play(context.Context, core.AudioClip) (core.PlaybackHandle, error) {
	return p.handle, nil
}

func TestSpeaker_PlaysNoticeToCompletion(t *testing.T) {
	t.Parallel()

	renderer := &stubRenderer{}
	handle := &stubHandle{finishAt: 3}
	speaker := notify.NewSpeaker(renderer, &stubPlayer{handle: handle}, newTestLogger(t))

	speaker.Announce(context.Background(), "Reading stopped.")

	assert.Equal(t, []string{"Reading stopped."}, renderer.rendered)
	assert.Equal(t, []string{"notice.wav"}, renderer.released)
	assert.GreaterOrEqual(t, handle.polls, 3)
	assert.False(t, handle.stopped)
}

func TestSpeaker_StopsOnContextEnd(t *testing.T) {
	t.Parallel()

	handle := &stubHandle{}
	speaker := notify.NewSpeaker(&stubRenderer{}, &stubPlayer{handle: handle}, newTestLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	speaker.Announce(ctx, "Press the capture button to take a picture.")

	assert.True(t, handle.stopped)
}

func TestSpeaker_RenderFailureIsLoggedOnly(t *testing.T) {
	t.Parallel()

	renderer := &stubRenderer{err: errMockRender}
	speaker := notify.NewSpeaker(renderer, &stubPlayer{handle: &stubHandle{}}, newTestLogger(t))

	speaker.Announce(context.Background(), "Image captured. Processing now.")

	assert.Empty(t, renderer.released)
}
