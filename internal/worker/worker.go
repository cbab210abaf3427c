// Package worker exposes the job-lifecycle controller over NATS request/reply.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/storyteller-client/internal/core"
	"github.com/book-expert/storyteller-client/internal/request"
	"github.com/book-expert/storyteller-client/internal/synth"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const handleMessageTimeout = 90 * time.Second

// ErrTextKeyConflict is returned when a request carries inline content and a text key.
var ErrTextKeyConflict = errors.New("text_key cannot be combined with inline text or file content")

// Submitter starts a synthesis job. *controller.Controller satisfies it.
type Submitter interface {
	Submit(ctx context.Context, raw request.RawInput) (core.JobHandle, error)
}

// SynthesisRequestedEvent asks the service to synthesize a text. When TextKey is set
// the text is read from the object store instead of Input.Text.
type SynthesisRequestedEvent struct {
	Header  events.EventHeader `json:"header"`
	TextKey string             `json:"text_key,omitempty"`
	Input   request.RawInput   `json:"input"`
}

// SynthesisAcceptedEvent is the reply to a SynthesisRequestedEvent. Error is set
// instead of JobID when the request was refused.
type SynthesisAcceptedEvent struct {
	Header      events.EventHeader `json:"header"`
	JobID       string             `json:"job_id,omitempty"`
	TotalChunks int                `json:"total_chunks,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// NatsWorker listens for synthesis requests on a NATS subject.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	store          core.ObjectStore
	submitter      Submitter
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker. store may be nil, in which
// case requests that reference a text key are refused.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	store core.ObjectStore,
	submitter Submitter,
	log *logger.Logger,
) *NatsWorker {
	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		store:          store,
		submitter:      submitter,
		log:            log,
	}
}

// Run subscribes and blocks until ctx is done, then drains the subscription.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	event, err := parseEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse synthesis request: %v", err)
		w.reply(msg, SynthesisAcceptedEvent{Header: newHeader(events.EventHeader{}), Error: err.Error()})

		return
	}

	reply := SynthesisAcceptedEvent{Header: newHeader(event.Header)}

	handle, err := w.submit(ctx, event)
	if err != nil {
		w.log.Error("Synthesis request %s refused: %v", event.Header.EventID, err)
		reply.Error = replyMessage(err)
	} else {
		reply.Header.WorkflowID = handle.ID
		reply.JobID = handle.ID
		reply.TotalChunks = handle.TotalChunks
	}

	w.reply(msg, reply)
}

func (w *NatsWorker) submit(ctx context.Context, event *SynthesisRequestedEvent) (core.JobHandle, error) {
	raw := event.Input

	if event.TextKey != "" {
		if raw.Text != "" || len(raw.FileContent) > 0 {
			return core.JobHandle{}, ErrTextKeyConflict
		}

		if w.store == nil {
			return core.JobHandle{}, fmt.Errorf("no object store configured for text key '%s'", event.TextKey)
		}

		textData, err := w.store.Download(ctx, event.TextKey)
		if err != nil {
			return core.JobHandle{}, fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
		}

		raw.Text = string(textData)
	}

	handle, err := w.submitter.Submit(ctx, raw)
	if err != nil {
		return core.JobHandle{}, fmt.Errorf("submit: %w", err)
	}

	return handle, nil
}

// reply responds when the request carried a reply inbox; fire-and-forget publishes
// get nothing back.
func (w *NatsWorker) reply(msg *nats.Msg, reply SynthesisAcceptedEvent) {
	if msg.Reply == "" {
		return
	}

	replyData, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("Failed to marshal reply event: %v", err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish reply event: %v", err)
	}
}

func parseEvent(msg *nats.Msg) (*SynthesisRequestedEvent, error) {
	var event SynthesisRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return &event, nil
}

// replyMessage prefers the user-facing wording of a backend failure.
func replyMessage(err error) string {
	var submissionErr *synth.SubmissionError
	if errors.As(err, &submissionErr) {
		return submissionErr.UserMessage()
	}

	var validationErr *request.ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Error()
	}

	return err.Error()
}

func newHeader(in events.EventHeader) events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: in.WorkflowID,
		EventID:    uuid.NewString(),
		UserID:     in.UserID,
		TenantID:   in.TenantID,
	}
}
