package controller_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/storyteller-client/internal/controller"
	"github.com/book-expert/storyteller-client/internal/core"
	"github.com/book-expert/storyteller-client/internal/request"
	"github.com/book-expert/storyteller-client/internal/synth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testInterval = 5 * time.Millisecond
	waitTimeout  = 5 * time.Second
)

var errNetworkHiccup = errors.New("connection reset by peer")

type statusStep struct {
	report core.StatusReport
	err    error
}

// fakeBackend replays scripted status responses per job id.
type fakeBackend struct {
	mu        sync.Mutex
	handles   []core.JobHandle
	submitErr error
	submits   []core.SubmissionRequest
	scripts   map[string][]statusStep
	calls     map[string]int
	gates     map[string]chan struct{}
}

func newFakeBackend(handles ...core.JobHandle) *fakeBackend {
	return &fakeBackend{
		handles: handles,
		scripts: make(map[string][]statusStep),
		calls:   make(map[string]int),
		gates:   make(map[string]chan struct{}),
	}
}

func (f *fakeBackend) script(jobID string, steps ...statusStep) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.scripts[jobID] = steps
}

func (f *fakeBackend) Submit(_ context.Context, req core.SubmissionRequest) (core.JobHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.submits = append(f.submits, req)

	if f.submitErr != nil {
		return core.JobHandle{}, f.submitErr
	}

	handle := f.handles[0]
	f.handles = f.handles[1:]

	return handle, nil
}

func (f *fakeBackend) Status(_ context.Context, jobID string) (core.StatusReport, error) {
	f.mu.Lock()
	index := f.calls[jobID]
	f.calls[jobID]++
	steps := f.scripts[jobID]
	gate := f.gates[jobID]
	f.mu.Unlock()

	if gate != nil && index == 0 {
		<-gate
	}

	if index >= len(steps) {
		index = len(steps) - 1
	}

	return steps[index].report, steps[index].err
}

func (f *fakeBackend) Retrieval(jobID string) core.RetrievalRef {
	return core.RetrievalRef{
		JobID:       jobID,
		StreamURL:   "http://backend/api/stream/" + jobID,
		DownloadURL: "http://backend/api/download/" + jobID,
	}
}

func (f *fakeBackend) statusCalls(jobID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[jobID]
}

func (f *fakeBackend) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.submits)
}

type recordingSink struct {
	mu     sync.Mutex
	events []core.Notification
}

func (s *recordingSink) Notify(n core.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, n)
}

func (s *recordingSink) all() []core.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]core.Notification(nil), s.events...)
}

func (s *recordingSink) phase(phase core.Phase) []core.Notification {
	var out []core.Notification

	for _, n := range s.all() {
		if n.Phase == phase {
			out = append(out, n)
		}
	}

	return out
}

type countingAffordance struct {
	busy  atomic.Int32
	ready atomic.Int32
}

func (a *countingAffordance) Busy()  { a.busy.Add(1) }
func (a *countingAffordance) Ready() { a.ready.Add(1) }

type countingRefresher struct {
	calls atomic.Int32
}

func (r *countingRefresher) Refresh(context.Context) error {
	r.calls.Add(1)

	return nil
}

type harness struct {
	backend    *fakeBackend
	sink       *recordingSink
	affordance *countingAffordance
	ctrl       *controller.Controller
}

func newHarness(t *testing.T, backend *fakeBackend, opts controller.Options) *harness {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "controller-test.log")
	require.NoError(t, err)

	if opts.PollInterval == 0 {
		opts.PollInterval = testInterval
	}

	h := &harness{
		backend:    backend,
		sink:       &recordingSink{},
		affordance: &countingAffordance{},
	}
	h.ctrl = controller.New(backend, h.sink, h.affordance, testLogger, opts)

	t.Cleanup(func() {
		_ = h.ctrl.Close()
		_ = testLogger.Close()
	})

	return h
}

func (h *harness) wait(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	require.NoError(t, h.ctrl.Wait(ctx))
}

func textInput() request.RawInput {
	return request.RawInput{Text: "Once upon a time.", Voice: "en-US-Neural2-D", SpeakingRate: 1}
}

func running(completed, total int) statusStep {
	return statusStep{report: core.StatusReport{
		Status: core.StatusRunning, CompletedChunks: completed, TotalChunks: total,
	}}
}

func complete(total int) statusStep {
	return statusStep{report: core.StatusReport{
		Status: core.StatusComplete, CompletedChunks: total, TotalChunks: total,
	}}
}

func percents(events []core.Notification) []float64 {
	out := make([]float64, 0, len(events))
	for _, n := range events {
		out = append(out, n.Percent)
	}

	return out
}

func TestSubmit_RoundTripToComplete(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(core.JobHandle{ID: "job-1", TotalChunks: 5})
	backend.script("job-1", running(0, 5), running(2, 5), running(4, 5), complete(5))

	h := newHarness(t, backend, controller.Options{})

	handle, err := h.ctrl.Submit(context.Background(), textInput())
	require.NoError(t, err)
	assert.Equal(t, "job-1", handle.ID)

	h.wait(t)

	assert.Equal(t, []float64{0, 40, 80, 100}, percents(h.sink.phase(core.PhaseProgress)))

	completes := h.sink.phase(core.PhaseComplete)
	require.Len(t, completes, 1)
	require.NotNil(t, completes[0].RetrievalRef)
	assert.Equal(t, "http://backend/api/stream/job-1", completes[0].RetrievalRef.StreamURL)
	assert.Equal(t, "http://backend/api/download/job-1", completes[0].RetrievalRef.DownloadURL)

	events := h.sink.all()
	assert.Equal(t, core.PhaseComplete, events[len(events)-1].Phase)
	assert.Empty(t, h.sink.phase(core.PhaseError))

	assert.Equal(t, int32(1), h.affordance.busy.Load())
	assert.Equal(t, int32(1), h.affordance.ready.Load())

	job, live := h.ctrl.Job()
	assert.False(t, live)
	assert.Equal(t, core.StatusComplete, job.Status)
	assert.Equal(t, 5, job.CompletedChunks)

	time.Sleep(10 * testInterval)
	assert.Equal(t, 4, backend.statusCalls("job-1"), "no ticks after a terminal state")
}

func TestSubmit_TerminalErrorStopsPolling(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(core.JobHandle{ID: "job-1", TotalChunks: 5})
	backend.script("job-1",
		running(1, 5),
		statusStep{report: core.StatusReport{
			Status: core.StatusError, CompletedChunks: 1, TotalChunks: 5, Error: "quota exceeded",
		}},
		running(2, 5),
	)

	h := newHarness(t, backend, controller.Options{})

	_, err := h.ctrl.Submit(context.Background(), textInput())
	require.NoError(t, err)

	h.wait(t)

	failures := h.sink.phase(core.PhaseError)
	require.Len(t, failures, 1)
	assert.Equal(t, "quota exceeded", failures[0].Message)
	assert.Empty(t, h.sink.phase(core.PhaseComplete))
	assert.Equal(t, int32(1), h.affordance.ready.Load())

	job, _ := h.ctrl.Job()
	assert.Equal(t, core.StatusError, job.Status)
	assert.Equal(t, "quota exceeded", job.ErrorMessage)

	time.Sleep(10 * testInterval)
	assert.Equal(t, 2, backend.statusCalls("job-1"))
}

func TestSubmit_TransientPollErrorsAreSwallowed(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(core.JobHandle{ID: "job-1", TotalChunks: 2})
	backend.script("job-1",
		statusStep{err: errNetworkHiccup},
		statusStep{err: errNetworkHiccup},
		running(1, 2),
		statusStep{err: errNetworkHiccup},
		complete(2),
	)

	h := newHarness(t, backend, controller.Options{})

	_, err := h.ctrl.Submit(context.Background(), textInput())
	require.NoError(t, err)

	h.wait(t)

	assert.Empty(t, h.sink.phase(core.PhaseError))
	assert.Equal(t, []float64{50, 100}, percents(h.sink.phase(core.PhaseProgress)))
	assert.Len(t, h.sink.phase(core.PhaseComplete), 1)
	assert.Equal(t, 5, backend.statusCalls("job-1"))
}

func TestSubmit_NewSubmissionDiscardsStaleResponses(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(
		core.JobHandle{ID: "old", TotalChunks: 5},
		core.JobHandle{ID: "new", TotalChunks: 1},
	)
	gate := make(chan struct{})
	backend.gates["old"] = gate
	backend.script("old", running(3, 5), complete(5))
	backend.script("new", complete(1))

	h := newHarness(t, backend, controller.Options{})

	_, err := h.ctrl.Submit(context.Background(), textInput())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return backend.statusCalls("old") == 1 }, waitTimeout, time.Millisecond)

	_, err = h.ctrl.Submit(context.Background(), textInput())
	require.NoError(t, err)

	h.wait(t)
	close(gate)

	require.NoError(t, h.ctrl.Close())

	for _, n := range h.sink.all() {
		assert.NotEqual(t, "old", n.JobID, "stale notification applied: %+v", n)
	}

	assert.Equal(t, 1, backend.statusCalls("old"))
	assert.Len(t, h.sink.phase(core.PhaseComplete), 1)

	job, live := h.ctrl.Job()
	assert.False(t, live)
	assert.Equal(t, "new", job.ID)
}

func TestSubmit_AbandonStopsPolling(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(core.JobHandle{ID: "job-1", TotalChunks: 5})
	backend.script("job-1", running(1, 5))

	h := newHarness(t, backend, controller.Options{})

	_, err := h.ctrl.Submit(context.Background(), textInput())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return backend.statusCalls("job-1") >= 2 }, waitTimeout, time.Millisecond)

	h.ctrl.Abandon()
	h.wait(t)
	require.NoError(t, h.ctrl.Close())

	calls := backend.statusCalls("job-1")
	time.Sleep(10 * testInterval)
	assert.Equal(t, calls, backend.statusCalls("job-1"))
	assert.Empty(t, h.sink.phase(core.PhaseComplete))
	assert.Equal(t, int32(1), h.affordance.busy.Load())
	assert.Equal(t, int32(1), h.affordance.ready.Load(), "abandoning re-enables submission")
}

func TestSubmit_ValidationErrorNeverReachesNetwork(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	h := newHarness(t, backend, controller.Options{})

	raw := textInput()
	raw.Text = "   "

	_, err := h.ctrl.Submit(context.Background(), raw)
	require.ErrorIs(t, err, request.ErrMissingPayload)

	raw.Text = ""
	raw.FileName = "notes.pdf"
	raw.FileContent = []byte("%PDF")

	_, err = h.ctrl.Submit(context.Background(), raw)
	require.ErrorIs(t, err, request.ErrUnsupportedFileType)

	assert.Equal(t, 0, backend.submitCount())
	assert.Equal(t, int32(0), h.affordance.busy.Load())
	assert.Empty(t, h.sink.all(), "validation failures stay local")
	assert.Equal(t, int32(0), h.affordance.ready.Load())
}

func TestSubmit_SubmissionFailuresResetAffordance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		submitErr   error
		wantMessage string
		wantErr     error
	}{
		{
			name:        "rejected",
			submitErr:   synth.Rejected("Text too long. Maximum is 500K characters."),
			wantMessage: "Text too long. Maximum is 500K characters.",
			wantErr:     synth.ErrRejected,
		},
		{
			name:        "unreachable",
			submitErr:   synth.Unreachable("dial tcp: connection refused"),
			wantMessage: "Failed to connect to server: dial tcp: connection refused",
			wantErr:     synth.ErrUnreachable,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			backend := newFakeBackend()
			backend.submitErr = testCase.submitErr

			h := newHarness(t, backend, controller.Options{})

			_, err := h.ctrl.Submit(context.Background(), textInput())
			require.ErrorIs(t, err, testCase.wantErr)
			assert.True(t, controller.IsSubmissionError(err))

			failures := h.sink.phase(core.PhaseError)
			require.Len(t, failures, 1)
			assert.Equal(t, testCase.wantMessage, failures[0].Message)
			assert.Equal(t, int32(1), h.affordance.busy.Load())
			assert.Equal(t, int32(1), h.affordance.ready.Load())
			assert.Equal(t, 1, backend.submitCount())

			_, live := h.ctrl.Job()
			assert.False(t, live)
		})
	}
}

func TestSubmit_SaveTextRefreshesSourceTextsOnce(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(
		core.JobHandle{ID: "saved", TotalChunks: 1},
		core.JobHandle{ID: "plain", TotalChunks: 1},
	)
	backend.script("saved", complete(1))
	backend.script("plain", complete(1))

	refresher := &countingRefresher{}
	h := newHarness(t, backend, controller.Options{Refresher: refresher})

	raw := textInput()
	raw.SaveText = true

	_, err := h.ctrl.Submit(context.Background(), raw)
	require.NoError(t, err)
	h.wait(t)

	require.Eventually(t, func() bool { return refresher.calls.Load() == 1 }, waitTimeout, time.Millisecond)

	_, err = h.ctrl.Submit(context.Background(), textInput())
	require.NoError(t, err)
	h.wait(t)
	require.NoError(t, h.ctrl.Close())

	assert.Equal(t, int32(1), refresher.calls.Load())
	assert.Equal(t, int32(2), h.affordance.ready.Load())
}

func TestSubmit_ClampsOverReportedChunks(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(core.JobHandle{ID: "job-1", TotalChunks: 5})
	backend.script("job-1", running(7, 5), complete(5))

	h := newHarness(t, backend, controller.Options{})

	_, err := h.ctrl.Submit(context.Background(), textInput())
	require.NoError(t, err)
	h.wait(t)

	progressEvents := h.sink.phase(core.PhaseProgress)
	require.NotEmpty(t, progressEvents)
	assert.InDelta(t, 100.0, progressEvents[0].Percent, 1e-9)
	assert.Equal(t, 5, progressEvents[0].Completed)
	assert.Empty(t, h.sink.phase(core.PhaseError))
}

func TestSubmit_RemainingLabelUsesElapsedTime(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	var clockCalls atomic.Int32

	now := func() time.Time {
		if clockCalls.Add(1) == 1 {
			return start
		}

		return start.Add(10 * time.Second)
	}

	backend := newFakeBackend(core.JobHandle{ID: "job-1", TotalChunks: 5})
	backend.script("job-1", running(0, 5), running(2, 5), complete(5))

	h := newHarness(t, backend, controller.Options{Now: now})

	_, err := h.ctrl.Submit(context.Background(), textInput())
	require.NoError(t, err)
	h.wait(t)

	progressEvents := h.sink.phase(core.PhaseProgress)
	require.Len(t, progressEvents, 3)
	assert.Equal(t, "Estimating...", progressEvents[0].RemainingLabel)
	assert.Equal(t, "15s remaining", progressEvents[1].RemainingLabel)
	assert.Equal(t, "0s remaining", progressEvents[2].RemainingLabel)

	job, _ := h.ctrl.Job()
	assert.Equal(t, start, job.StartedAt)
}

func TestSubmit_CustomMoodCapability(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(
		core.JobHandle{ID: "a", TotalChunks: 1},
		core.JobHandle{ID: "b", TotalChunks: 1},
	)
	backend.script("a", complete(1))
	backend.script("b", complete(1))

	h := newHarness(t, backend, controller.Options{})

	raw := textInput()
	raw.CustomMood = "like a pirate"

	_, err := h.ctrl.Submit(context.Background(), raw)
	require.NoError(t, err)

	h.ctrl.SetCustomMoodAllowed(true)

	_, err = h.ctrl.Submit(context.Background(), raw)
	require.NoError(t, err)

	backend.mu.Lock()
	defer backend.mu.Unlock()

	require.Len(t, backend.submits, 2)
	assert.Empty(t, backend.submits[0].CustomMood)
	assert.Equal(t, "like a pirate", backend.submits[1].CustomMood)
}
