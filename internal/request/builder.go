// Package request assembles validated synthesis submissions from raw user input.
package request

import (
	"errors"
	"math"
	"path/filepath"
	"strings"

	"github.com/book-expert/storyteller-client/internal/core"
)

// Validation reasons.
const (
	ReasonMissingPayload      = "missing-payload"
	ReasonUnsupportedFileType = "unsupported-file-type"
	ReasonInvalidSpeakingRate = "invalid-speaking-rate"
)

const (
	defaultAudioTitle = "Untitled"
	dot               = "."
)

// Sentinel errors matched by ValidationError.Is.
var (
	ErrMissingPayload      = errors.New(ReasonMissingPayload)
	ErrUnsupportedFileType = errors.New(ReasonUnsupportedFileType)
	ErrInvalidSpeakingRate = errors.New(ReasonInvalidSpeakingRate)
)

// allowedExtensions lists the accepted source file extensions, without the dot.
var allowedExtensions = map[string]struct{}{
	"md":       {},
	"txt":      {},
	"markdown": {},
}

// ValidationError blocks a submission before it reaches the network.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// Is matches the sentinel error for the same reason.
func (e *ValidationError) Is(target error) bool {
	switch e.Reason {
	case ReasonMissingPayload:
		return target == ErrMissingPayload
	case ReasonUnsupportedFileType:
		return target == ErrUnsupportedFileType
	case ReasonInvalidSpeakingRate:
		return target == ErrInvalidSpeakingRate
	default:
		return false
	}
}

// RawInput is the form state captured by the presentation layer.
type RawInput struct {
	FileName     string  `json:"file_name,omitempty"`
	FileContent  []byte  `json:"file_content,omitempty"`
	Text         string  `json:"text,omitempty"`
	Voice        string  `json:"voice_name"`
	SpeakingRate float64 `json:"speaking_rate"`
	Pitch        float64 `json:"pitch"`
	MoodID       string  `json:"mood_id,omitempty"`
	CustomMood   string  `json:"custom_mood,omitempty"`
	AudioTitle   string  `json:"audio_title,omitempty"`
	SaveText     bool    `json:"save_text,omitempty"`
	TextTitle    string  `json:"text_title,omitempty"`
	SourceTextID string  `json:"source_text_id,omitempty"`
}

// Builder turns RawInput into a core.SubmissionRequest.
type Builder struct {
	// CustomMoodAllowed comes from the voice catalog. When false a custom mood
	// is dropped silently.
	CustomMoodAllowed bool
}

// Build validates raw and returns the submission payload. It has no side effects.
func (b Builder) Build(raw RawInput) (core.SubmissionRequest, error) {
	text := strings.TrimSpace(raw.Text)
	hasFile := raw.FileName != ""
	hasText := text != ""

	if hasFile == hasText {
		return core.SubmissionRequest{}, &ValidationError{Reason: ReasonMissingPayload}
	}

	req := core.SubmissionRequest{
		Voice:        raw.Voice,
		SpeakingRate: raw.SpeakingRate,
		Pitch:        raw.Pitch,
		MoodID:       strings.TrimSpace(raw.MoodID),
		SourceTextID: strings.TrimSpace(raw.SourceTextID),
	}

	if hasFile {
		if !IsAllowedFile(raw.FileName) {
			return core.SubmissionRequest{}, &ValidationError{Reason: ReasonUnsupportedFileType}
		}

		if len(raw.FileContent) == 0 {
			return core.SubmissionRequest{}, &ValidationError{Reason: ReasonMissingPayload}
		}

		req.Kind = core.PayloadFile
		req.FileName = filepath.Base(raw.FileName)
		req.Content = raw.FileContent
	} else {
		req.Kind = core.PayloadText
		req.Content = []byte(text)
	}

	if raw.SpeakingRate <= 0 || math.IsNaN(raw.SpeakingRate) || math.IsInf(raw.SpeakingRate, 0) {
		return core.SubmissionRequest{}, &ValidationError{Reason: ReasonInvalidSpeakingRate}
	}

	customMood := strings.TrimSpace(raw.CustomMood)
	if customMood != "" && b.CustomMoodAllowed {
		req.CustomMood = customMood
	}

	req.AudioTitle = audioTitle(raw, hasFile)

	if raw.SaveText {
		req.SaveText = true
		req.TextTitle = strings.TrimSpace(raw.TextTitle)

		if req.TextTitle == "" {
			req.TextTitle = req.AudioTitle
		}
	}

	return req, nil
}

// IsAllowedFile reports whether the file name carries an accepted extension.
func IsAllowedFile(name string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), dot))
	_, ok := allowedExtensions[ext]

	return ok
}

func audioTitle(raw RawInput, hasFile bool) string {
	title := strings.TrimSpace(raw.AudioTitle)
	if title != "" {
		return title
	}

	if hasFile {
		base := filepath.Base(raw.FileName)
		stem := strings.TrimSuffix(base, filepath.Ext(base))

		if stem != "" {
			return stem
		}
	}

	return defaultAudioTitle
}
