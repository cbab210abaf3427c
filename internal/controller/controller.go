// Package controller drives the lifecycle of one remote synthesis job at a time:
// submission, interval-driven status polling, progress estimation and resolution of
// the terminal state.
//
// At most one job is live. Submitting again abandons the previous job client-side:
// its poll loop is cancelled and any response still in flight is discarded, because
// the live session and its poll loop are swapped together under a single lock.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/storyteller-client/internal/core"
	"github.com/book-expert/storyteller-client/internal/request"
	"github.com/book-expert/storyteller-client/internal/synth"
)

// Defaults used when Options leaves a field unset.
const (
	DefaultPollInterval  = time.Second
	DefaultStatusTimeout = 10 * time.Second
	DefaultSubmitTimeout = 60 * time.Second
)

// Log messages.
const (
	logFmtSubmitted       = "Job %s submitted (%d chunks)"
	logFmtAbandoned       = "Abandoning job %s for a new submission"
	logFmtValidation      = "Submission blocked by validation: %v"
	logFmtSubmitFailed    = "Submission failed: %v"
	logFmtTransientPoll   = "Status poll for job %s failed, retrying next tick: %v"
	logFmtStaleResponse   = "Discarding stale status response for job %s"
	logFmtJobComplete     = "Job %s complete after %s"
	logFmtJobFailed       = "Job %s failed: %s"
	logFmtRefreshFailed   = "Failed to refresh source texts after job %s: %v"
	logFmtSupersededStart = "Submission for job %s was superseded before polling started"
)

const defaultJobErrorMessage = "generation failed"

// ErrSuperseded is returned by Submit when a newer submission started while this one
// was waiting for the backend. The older job is never polled.
var ErrSuperseded = errors.New("submission superseded by a newer submission")

// Options configures a Controller.
type Options struct {
	PollInterval  time.Duration
	StatusTimeout time.Duration
	SubmitTimeout time.Duration
	// CustomMoodAllowed seeds the request builder's capability flag.
	CustomMoodAllowed bool
	// Refresher is reloaded once after a job that asked to save its text completes.
	// It may be nil.
	Refresher core.SourceTextRefresher
	// Now overrides the wall clock; used for elapsed-time estimation.
	Now func() time.Time
}

// session is the state of the live job together with the poll loop that owns it.
type session struct {
	job             core.Job
	saveTextPending bool
	ctx             context.Context
	cancel          context.CancelFunc
	done            chan struct{}
}

// Controller is the job-lifecycle controller. It is safe for concurrent use.
type Controller struct {
	backend    core.SynthesisBackend
	results    *resultHandler
	log        *logger.Logger
	interval   time.Duration
	statusTTL  time.Duration
	submitTTL  time.Duration
	now        func() time.Time
	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu         sync.Mutex
	builder    request.Builder
	generation uint64
	live       *session
	last       core.Job
	wg         sync.WaitGroup
}

// New creates a Controller. sink and affordance receive every state change.
func New(
	backend core.SynthesisBackend,
	sink core.Sink,
	affordance core.Affordance,
	log *logger.Logger,
	opts Options,
) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	if opts.StatusTimeout <= 0 {
		opts.StatusTimeout = DefaultStatusTimeout
	}

	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = DefaultSubmitTimeout
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())

	return &Controller{
		backend: backend,
		results: &resultHandler{
			sink:       sink,
			affordance: affordance,
			refresher:  opts.Refresher,
			retrieval:  backend.Retrieval,
			log:        log,
		},
		log:        log,
		interval:   opts.PollInterval,
		statusTTL:  opts.StatusTimeout,
		submitTTL:  opts.SubmitTimeout,
		now:        opts.Now,
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
		builder:    request.Builder{CustomMoodAllowed: opts.CustomMoodAllowed},
	}
}

// SetCustomMoodAllowed updates the capability flag reported by the voice catalog.
func (c *Controller) SetCustomMoodAllowed(allowed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.builder.CustomMoodAllowed = allowed
}

// Submit validates raw, abandons any live job, sends one synthesis request and, on
// success, starts polling the new job. Validation failures only return a
// *request.ValidationError: the sink, the affordance, the live job and the network
// are left alone. Backend failures return a *synth.SubmissionError after surfacing
// it to the sink.
func (c *Controller) Submit(ctx context.Context, raw request.RawInput) (core.JobHandle, error) {
	c.mu.Lock()
	builder := c.builder
	c.mu.Unlock()

	req, err := builder.Build(raw)
	if err != nil {
		c.log.Warn(logFmtValidation, err)

		return core.JobHandle{}, err
	}

	gen := c.abandonLive()
	c.results.affordance.Busy()

	submitCtx, cancel := context.WithTimeout(ctx, c.submitTTL)
	handle, submitErr := c.backend.Submit(submitCtx, req)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		if submitErr == nil {
			c.log.Info(logFmtSupersededStart, handle.ID)
		}

		return handle, ErrSuperseded
	}

	if submitErr != nil {
		c.log.Error(logFmtSubmitFailed, submitErr)
		c.results.submissionFailed(submitErr)

		return core.JobHandle{}, submitErr
	}

	c.start(handle, req.SaveText)
	c.log.Info(logFmtSubmitted, handle.ID, handle.TotalChunks)

	return handle, nil
}

// Job returns a snapshot of the live job, or of the most recent one if none is live,
// and whether it is still being polled.
func (c *Controller) Job() (core.Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.live != nil {
		return c.live.job, true
	}

	return c.last, false
}

// Wait blocks until the live job reaches a terminal state or is abandoned, or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	live := c.live
	c.mu.Unlock()

	if live == nil {
		return nil
	}

	select {
	case <-live.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for job %s: %w", live.job.ID, ctx.Err())
	}
}

// Abandon stops polling the live job and restores the submit affordance. Nothing is
// sent to the backend. A submission still waiting for the backend returns ErrSuperseded.
func (c *Controller) Abandon() {
	c.abandonLive()
	c.results.affordance.Ready()
}

// Close abandons the live job and waits for its poll loop to exit.
func (c *Controller) Close() error {
	c.abandonLive()
	c.rootCancel()
	c.wg.Wait()

	return nil
}

// abandonLive cancels and discards the live session and opens a new generation.
func (c *Controller) abandonLive() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.live != nil {
		c.log.Info(logFmtAbandoned, c.live.job.ID)
		c.last = c.live.job
		c.live.cancel()
		c.live = nil
	}

	c.generation++

	return c.generation
}

// start installs a fresh session and its poll loop. Callers hold c.mu.
func (c *Controller) start(handle core.JobHandle, saveText bool) {
	ctx, cancel := context.WithCancel(c.rootCtx)

	sess := &session{
		job: core.Job{
			ID:          handle.ID,
			TotalChunks: handle.TotalChunks,
			Status:      core.StatusPending,
			StartedAt:   c.now(),
		},
		saveTextPending: saveText,
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
	}

	c.live = sess

	c.wg.Add(1)

	go c.poll(sess)
}

// IsSubmissionError reports whether err came from the backend rather than validation.
func IsSubmissionError(err error) bool {
	var submissionErr *synth.SubmissionError

	return errors.As(err, &submissionErr)
}
