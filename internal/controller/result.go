package controller

import (
	"errors"

	"github.com/book-expert/logger"
	"github.com/book-expert/storyteller-client/internal/core"
	"github.com/book-expert/storyteller-client/internal/progress"
	"github.com/book-expert/storyteller-client/internal/synth"
)

// resultHandler turns lifecycle events into notifications and restores the submit
// affordance once per job.
type resultHandler struct {
	sink       core.Sink
	affordance core.Affordance
	refresher  core.SourceTextRefresher
	retrieval  func(jobID string) core.RetrievalRef
	log        *logger.Logger
}

func (h *resultHandler) progressed(job core.Job, est progress.Estimate) {
	h.sink.Notify(core.Notification{
		Phase:          core.PhaseProgress,
		JobID:          job.ID,
		Percent:        est.Percent,
		RemainingLabel: est.Label(),
		Completed:      job.CompletedChunks,
		Total:          job.TotalChunks,
	})
}

func (h *resultHandler) completed(job core.Job) {
	ref := h.retrieval(job.ID)

	h.sink.Notify(core.Notification{
		Phase:        core.PhaseComplete,
		JobID:        job.ID,
		RetrievalRef: &ref,
	})
	h.affordance.Ready()
}

func (h *resultHandler) failed(job core.Job) {
	h.sink.Notify(core.Notification{
		Phase:   core.PhaseError,
		JobID:   job.ID,
		Message: job.ErrorMessage,
	})
	h.affordance.Ready()
}

func (h *resultHandler) submissionFailed(err error) {
	message := err.Error()

	var submissionErr *synth.SubmissionError
	if errors.As(err, &submissionErr) {
		message = submissionErr.UserMessage()
	}

	h.sink.Notify(core.Notification{Phase: core.PhaseError, Message: message})
	h.affordance.Ready()
}
