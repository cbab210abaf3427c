package controller

import (
	"context"
	"time"

	"github.com/book-expert/storyteller-client/internal/core"
	"github.com/book-expert/storyteller-client/internal/progress"
)

// poll runs one tick per interval until the session is cancelled or terminal.
func (c *Controller) poll(sess *session) {
	defer c.wg.Done()
	defer close(sess.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.ctx.Done():
			return
		case <-ticker.C:
		}

		if !c.tick(sess) {
			return
		}
	}
}

// tick issues one status query and applies it. It reports whether polling continues.
func (c *Controller) tick(sess *session) bool {
	if sess.ctx.Err() != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(sess.ctx, c.statusTTL)
	report, err := c.backend.Status(ctx, sess.job.ID)
	cancel()

	if err != nil {
		if sess.ctx.Err() != nil {
			return false
		}

		c.log.Warn(logFmtTransientPoll, sess.job.ID, err)

		return true
	}

	refresh, keepPolling := c.apply(sess, report)
	if refresh {
		c.refreshSourceTexts(sess.job.ID)
	}

	return keepPolling
}

// apply folds a status report into the live job and routes terminal states to the
// result handler. Responses for a session that is no longer live are dropped.
func (c *Controller) apply(sess *session, report core.StatusReport) (refresh, keepPolling bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.live != sess {
		c.log.Info(logFmtStaleResponse, sess.job.ID)

		return false, false
	}

	job := &sess.job

	if report.Status == core.StatusError {
		job.Status = core.StatusError
		job.ErrorMessage = report.Error

		if job.ErrorMessage == "" {
			job.ErrorMessage = defaultJobErrorMessage
		}

		c.finish(sess)
		c.log.Error(logFmtJobFailed, job.ID, job.ErrorMessage)
		c.results.failed(*job)

		return false, false
	}

	if report.TotalChunks > 0 {
		job.TotalChunks = report.TotalChunks
	}

	job.CompletedChunks = max(job.CompletedChunks, report.CompletedChunks)
	if job.TotalChunks > 0 {
		job.CompletedChunks = min(job.CompletedChunks, job.TotalChunks)
	}

	if job.Status == core.StatusPending {
		job.Status = core.StatusRunning
	}

	c.results.progressed(*job, c.estimate(*job))

	if report.Status != core.StatusComplete {
		return false, true
	}

	job.Status = core.StatusComplete
	refresh = sess.saveTextPending && c.results.refresher != nil
	sess.saveTextPending = false

	c.finish(sess)
	c.log.Info(logFmtJobComplete, job.ID, c.now().Sub(job.StartedAt).Round(time.Second))
	c.results.completed(*job)

	return refresh, false
}

func (c *Controller) estimate(job core.Job) progress.Estimate {
	elapsed := c.now().Sub(job.StartedAt).Seconds()

	return progress.Compute(job.CompletedChunks, job.TotalChunks, elapsed)
}

// finish retires a terminal session. Callers hold c.mu.
func (c *Controller) finish(sess *session) {
	c.last = sess.job
	c.live = nil
	sess.cancel()
}

func (c *Controller) refreshSourceTexts(jobID string) {
	ctx, cancel := context.WithTimeout(c.rootCtx, c.statusTTL)
	defer cancel()

	err := c.results.refresher.Refresh(ctx)
	if err != nil {
		c.log.Warn(logFmtRefreshFailed, jobID, err)
	}
}
