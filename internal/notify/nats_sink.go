package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/storyteller-client/internal/core"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Envelope is the message published for each notification.
type Envelope struct {
	Header       events.EventHeader `json:"header"`
	Notification core.Notification  `json:"notification"`
}

// NATSSink publishes notifications on a NATS subject.
type NATSSink struct {
	natsConnection *nats.Conn
	subject        string
	userID         string
	log            *logger.Logger
}

// NewNATSSink creates a sink publishing to subject. userID is copied into every
// envelope header and may be empty.
func NewNATSSink(natsConnection *nats.Conn, subject, userID string, log *logger.Logger) *NATSSink {
	return &NATSSink{
		natsConnection: natsConnection,
		subject:        subject,
		userID:         userID,
		log:            log,
	}
}

// Notify implements core.Sink. Publish failures are logged, not returned.
func (s *NATSSink) Notify(n core.Notification) {
	err := s.publish(n)
	if err != nil {
		s.log.Error("Failed to publish %s notification for job %s: %v", n.Phase, n.JobID, err)
	}
}

func (s *NATSSink) publish(n core.Notification) error {
	envelope := Envelope{
		Header: events.EventHeader{
			Timestamp:  time.Now().UTC(),
			WorkflowID: n.JobID,
			EventID:    uuid.NewString(),
			UserID:     s.userID,
			TenantID:   "",
		},
		Notification: n,
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	err = s.natsConnection.Publish(s.subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish to subject %s: %w", s.subject, err)
	}

	return nil
}
