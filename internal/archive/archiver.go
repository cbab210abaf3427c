// Package archive hands finished synthesis artifacts off to durable storage.
//
// An Archiver is a core.Sink: complete notifications are queued without blocking the
// poll loop and a background worker fetches each artifact through its download
// locator and uploads it to a core.ObjectStore.
package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/logger"
	"github.com/book-expert/storyteller-client/internal/core"
)

const (
	defaultQueueSize = 16
	audioExtension   = ".wav"
)

// Log messages.
const (
	logFmtQueueFull   = "Archive queue full, dropping artifact for job %s"
	logFmtFetchFailed = "Failed to fetch artifact for job %s: %v"
	logFmtStoreFailed = "Failed to store artifact for job %s: %v"
	logFmtArchived    = "Archived job %s as %s (%d bytes)"
)

// ErrEmptyArtifact is returned when the backend serves an empty file.
var ErrEmptyArtifact = errors.New("artifact is empty")

// Fetcher downloads a finished artifact.
type Fetcher interface {
	FetchArtifact(ctx context.Context, ref core.RetrievalRef) ([]byte, error)
}

// Archiver copies completed artifacts into a store.
type Archiver struct {
	fetcher Fetcher
	store   core.ObjectStore
	log     *logger.Logger
	queue   chan core.RetrievalRef
	stored  func(key string)
}

// New creates an Archiver. onStored, if not nil, is called after every upload.
func New(fetcher Fetcher, store core.ObjectStore, log *logger.Logger, onStored func(key string)) *Archiver {
	return &Archiver{
		fetcher: fetcher,
		store:   store,
		log:     log,
		queue:   make(chan core.RetrievalRef, defaultQueueSize),
		stored:  onStored,
	}
}

// Key is the object key an artifact is stored under.
func Key(jobID string) string {
	return jobID + audioExtension
}

// Notify implements core.Sink. Only complete notifications are acted on.
func (a *Archiver) Notify(n core.Notification) {
	if n.Phase != core.PhaseComplete || n.RetrievalRef == nil {
		return
	}

	select {
	case a.queue <- *n.RetrievalRef:
	default:
		a.log.Warn(logFmtQueueFull, n.RetrievalRef.JobID)
	}
}

// Run archives queued artifacts until ctx is done.
func (a *Archiver) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ref := <-a.queue:
			err := a.Archive(ctx, ref)
			if err != nil {
				a.log.Error(logFmtStoreFailed, ref.JobID, err)
			}
		}
	}
}

// Archive fetches one artifact and uploads it.
func (a *Archiver) Archive(ctx context.Context, ref core.RetrievalRef) error {
	data, err := a.fetcher.FetchArtifact(ctx, ref)
	if err != nil {
		a.log.Warn(logFmtFetchFailed, ref.JobID, err)

		return fmt.Errorf("failed to fetch artifact: %w", err)
	}

	if len(data) == 0 {
		return ErrEmptyArtifact
	}

	key := Key(ref.JobID)

	err = a.store.Upload(ctx, key, data)
	if err != nil {
		return fmt.Errorf("failed to upload artifact '%s': %w", key, err)
	}

	a.log.Info(logFmtArchived, ref.JobID, key, len(data))

	if a.stored != nil {
		a.stored(key)
	}

	return nil
}
