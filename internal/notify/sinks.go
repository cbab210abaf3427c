// Package notify provides sinks that deliver job notifications to the presentation
// layer: a logger, a terminal writer, a NATS publisher and a fan-out of several.
package notify

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/book-expert/logger"
	"github.com/book-expert/storyteller-client/internal/core"
)

// Output formats.
const (
	fmtProgressLine = "[%3.0f%%] %d / %d  %s\n"
	fmtCompleteLine = "Complete: %s\n"
	fmtDownloadLine = "Download: %s\n"
	fmtErrorLine    = "Error: %s\n"
	logFmtProgress  = "Job %s progress %.0f%% (%d/%d), %s"
	logFmtComplete  = "Job %s complete, stream at %s"
	logFmtError     = "Job %s error: %s"
)

// Fanout delivers every notification to each sink in order.
type Fanout []core.Sink

// Notify implements core.Sink.
func (f Fanout) Notify(n core.Notification) {
	for _, sink := range f {
		sink.Notify(n)
	}
}

// LogSink records notifications in the service log.
type LogSink struct {
	Log *logger.Logger
}

// Notify implements core.Sink.
func (s LogSink) Notify(n core.Notification) {
	switch n.Phase {
	case core.PhaseProgress:
		s.Log.Info(logFmtProgress, n.JobID, n.Percent, n.Completed, n.Total, n.RemainingLabel)
	case core.PhaseComplete:
		s.Log.Info(logFmtComplete, n.JobID, streamURL(n))
	case core.PhaseError:
		s.Log.Error(logFmtError, n.JobID, n.Message)
	}
}

// WriterSink renders notifications as terminal lines.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a sink writing to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Notify implements core.Sink.
func (s *WriterSink) Notify(n core.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch n.Phase {
	case core.PhaseProgress:
		fmt.Fprintf(s.w, fmtProgressLine, n.Percent, n.Completed, n.Total, n.RemainingLabel)
	case core.PhaseComplete:
		fmt.Fprintf(s.w, fmtCompleteLine, streamURL(n))

		if n.RetrievalRef != nil {
			fmt.Fprintf(s.w, fmtDownloadLine, n.RetrievalRef.DownloadURL)
		}
	case core.PhaseError:
		fmt.Fprintf(s.w, fmtErrorLine, n.Message)
	}
}

// Toggle is a core.Affordance that remembers whether a new submission may be started.
type Toggle struct {
	busy   atomic.Bool
	resets atomic.Int64
}

// Busy implements core.Affordance.
func (t *Toggle) Busy() {
	t.busy.Store(true)
}

// Ready implements core.Affordance.
func (t *Toggle) Ready() {
	t.busy.Store(false)
	t.resets.Add(1)
}

// IsReady reports whether the submit control is enabled.
func (t *Toggle) IsReady() bool {
	return !t.busy.Load()
}

// Resets counts how many times the control was restored.
func (t *Toggle) Resets() int64 {
	return t.resets.Load()
}

func streamURL(n core.Notification) string {
	if n.RetrievalRef == nil {
		return ""
	}

	return n.RetrievalRef.StreamURL
}
