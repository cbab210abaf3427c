package synth

import (
	"errors"
	"fmt"
)

// SubmissionErrorKind classifies a failed submission.
type SubmissionErrorKind string

// Submission failure kinds.
const (
	KindRejected    SubmissionErrorKind = "rejected"
	KindUnreachable SubmissionErrorKind = "unreachable"
)

const unreachablePrefix = "Failed to connect to server: "

// Sentinel errors. SubmissionError matches ErrRejected or ErrUnreachable through
// errors.Is; ErrTransport wraps status-poll failures that should be retried.
var (
	ErrRejected    = errors.New("submission rejected")
	ErrUnreachable = errors.New("server unreachable")
	ErrTransport   = errors.New("status request failed")
	ErrNotFound    = errors.New("resource not found")
)

// SubmissionError is the classified failure of a single submission attempt.
type SubmissionError struct {
	Kind    SubmissionErrorKind
	Message string
}

// Rejected builds the error for a structured refusal from the backend.
func Rejected(message string) *SubmissionError {
	return &SubmissionError{Kind: KindRejected, Message: message}
}

// Unreachable builds the error for a submission that received no response.
func Unreachable(detail string) *SubmissionError {
	return &SubmissionError{Kind: KindUnreachable, Message: detail}
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches ErrRejected or ErrUnreachable by kind.
func (e *SubmissionError) Is(target error) bool {
	switch e.Kind {
	case KindRejected:
		return target == ErrRejected
	case KindUnreachable:
		return target == ErrUnreachable
	default:
		return false
	}
}

// UserMessage is the text shown to the user. Rejections are verbatim; transport
// failures get a generic connectivity message.
func (e *SubmissionError) UserMessage() string {
	if e.Kind == KindUnreachable {
		return unreachablePrefix + e.Message
	}

	return e.Message
}
