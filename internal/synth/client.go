// Package synth is the HTTP client for the storyteller synthesis backend.
//
// It submits synthesis requests, reports job status and builds the locators used to
// stream or download a finished job's audio.
package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/storyteller-client/internal/core"
)

// API endpoints and paths.
const (
	apiSynthesize = "/api/synthesize"
	apiStatus     = "/api/status/"
	apiStream     = "/api/stream/"
	apiDownload   = "/api/download/"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
)

// Form field names.
const (
	formFieldFile         = "file"
	formFieldText         = "text"
	formFieldVoiceName    = "voice_name"
	formFieldSpeakingRate = "speaking_rate"
	formFieldPitch        = "pitch"
	formFieldMoodID       = "mood_id"
	formFieldCustomMood   = "custom_mood"
	formFieldAudioTitle   = "audio_title"
	formFieldSaveText     = "save_text"
	formFieldTextTitle    = "text_title"
	formFieldSourceTextID = "source_text_id"
	saveTextEnabled       = "1"
)

// Error messages.
const (
	errFmtWriteField         = "failed to write form field %s: %w"
	errFmtCreateFormFile     = "failed to create form file: %w"
	errFmtCloseWriter        = "failed to close multipart writer: %w"
	errFmtCreateRequest      = "failed to create request: %w"
	errFmtServiceNonOKStatus = "storyteller service returned non-OK status: %s, body: %s"
	errFmtDecodeResponse     = "failed to decode response: %w"
	errMissingJobID          = "server response did not include a job id"
	errFmtStatusTransport    = "%w: %w"
	errFmtStatusNonOK        = "%w: %s: %s"
	errFmtDecodeStatus       = "%w: failed to decode status: %w"
)

const (
	maxErrorBodyBytes = 4096
	floatBitSize      = 64
)

// DefaultDownloadTimeout bounds an artifact download unless WithDownloadTimeout
// overrides it.
const DefaultDownloadTimeout = 10 * time.Minute

// HTTPClient represents a client for the storyteller backend.
type HTTPClient struct {
	httpClient     *http.Client
	downloadClient *http.Client
	baseURL        string
}

// ErrorResponse is the structured error body the backend returns.
type ErrorResponse struct {
	Error string `json:"error"`
}

// submitResponse carries either a job handle or an error.
type submitResponse struct {
	JobID       string `json:"job_id"`
	TotalChunks int    `json:"total_chunks"`
	Error       string `json:"error"`
}

// NewHTTPClient creates a client for the backend at baseURL
// (e.g. "http://localhost:5000"). The timeout applies to every API request;
// artifact downloads use DefaultDownloadTimeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		downloadClient: &http.Client{
			Timeout: DefaultDownloadTimeout,
		},
	}
}

// WithDownloadTimeout sets the timeout for FetchArtifact. Call it before the client
// is shared.
func (c *HTTPClient) WithDownloadTimeout(timeout time.Duration) *HTTPClient {
	if timeout > 0 {
		c.downloadClient = &http.Client{Timeout: timeout}
	}

	return c
}

// Submit issues exactly one synthesis request. Failures are *SubmissionError.
func (c *HTTPClient) Submit(ctx context.Context, req core.SubmissionRequest) (core.JobHandle, error) {
	body, contentType, err := encodeSubmission(req)
	if err != nil {
		return core.JobHandle{}, Rejected(err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiSynthesize, body)
	if err != nil {
		return core.JobHandle{}, Unreachable(fmt.Errorf(errFmtCreateRequest, err).Error())
	}

	httpReq.Header.Set(headerContentType, contentType)
	httpReq.Header.Set(headerAccept, contentTypeJSON)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return core.JobHandle{}, Unreachable(err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.JobHandle{}, Unreachable(err.Error())
	}

	var decoded submitResponse

	decodeErr := json.Unmarshal(raw, &decoded)

	switch {
	case decodeErr == nil && decoded.Error != "":
		return core.JobHandle{}, Rejected(decoded.Error)
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return core.JobHandle{}, Rejected(fmt.Sprintf(errFmtServiceNonOKStatus, resp.Status, truncate(raw)))
	case decodeErr != nil:
		return core.JobHandle{}, Rejected(fmt.Errorf(errFmtDecodeResponse, decodeErr).Error())
	case decoded.JobID == "":
		return core.JobHandle{}, Rejected(errMissingJobID)
	}

	return core.JobHandle{ID: decoded.JobID, TotalChunks: decoded.TotalChunks}, nil
}

// Status queries the backend for a job's progress. A report with Status error is a
// terminal job failure and is returned without an error. Anything that prevents a
// usable report is wrapped in ErrTransport.
func (c *HTTPClient) Status(ctx context.Context, jobID string) (core.StatusReport, error) {
	endpoint := c.baseURL + apiStatus + url.PathEscape(jobID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return core.StatusReport{}, fmt.Errorf(errFmtStatusTransport, ErrTransport, err)
	}

	req.Header.Set(headerAccept, contentTypeJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return core.StatusReport{}, fmt.Errorf(errFmtStatusTransport, ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.StatusReport{}, fmt.Errorf(errFmtStatusTransport, ErrTransport, err)
	}

	var report core.StatusReport

	decodeErr := json.Unmarshal(raw, &report)
	if decodeErr == nil && report.Status == core.StatusError {
		return report, nil
	}

	if resp.StatusCode != http.StatusOK {
		return core.StatusReport{}, fmt.Errorf(errFmtStatusNonOK, ErrTransport, resp.Status, truncate(raw))
	}

	if decodeErr != nil {
		return core.StatusReport{}, fmt.Errorf(errFmtDecodeStatus, ErrTransport, decodeErr)
	}

	report.Status = normalizeStatus(report.Status)

	return report, nil
}

// Retrieval builds the stream and download locators for a job.
func (c *HTTPClient) Retrieval(jobID string) core.RetrievalRef {
	escaped := url.PathEscape(jobID)

	return core.RetrievalRef{
		JobID:       jobID,
		StreamURL:   c.baseURL + apiStream + escaped,
		DownloadURL: c.baseURL + apiDownload + escaped,
	}
}

// FetchArtifact downloads the finished audio of a complete job.
func (c *HTTPClient) FetchArtifact(ctx context.Context, ref core.RetrievalRef) ([]byte, error) {
	return getBytes(ctx, c.downloadClient, ref.DownloadURL)
}

func getBytes(ctx context.Context, client *http.Client, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf(errFmtCreateRequest, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, target any) error {
	data, err := getBytes(ctx, c.httpClient, c.baseURL+path)
	if err != nil {
		return err
	}

	err = json.Unmarshal(data, target)
	if err != nil {
		return fmt.Errorf(errFmtDecodeResponse, err)
	}

	return nil
}

// encodeSubmission writes the multipart body for a submission.
func encodeSubmission(req core.SubmissionRequest) (io.Reader, string, error) {
	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	if req.Kind == core.PayloadFile {
		part, err := writer.CreateFormFile(formFieldFile, req.FileName)
		if err != nil {
			return nil, "", fmt.Errorf(errFmtCreateFormFile, err)
		}

		_, err = part.Write(req.Content)
		if err != nil {
			return nil, "", fmt.Errorf(errFmtCreateFormFile, err)
		}
	}

	fields := [][2]string{
		{formFieldVoiceName, req.Voice},
		{formFieldSpeakingRate, strconv.FormatFloat(req.SpeakingRate, 'f', -1, floatBitSize)},
		{formFieldPitch, strconv.FormatFloat(req.Pitch, 'f', -1, floatBitSize)},
		{formFieldAudioTitle, req.AudioTitle},
	}

	if req.Kind == core.PayloadText {
		fields = append(fields, [2]string{formFieldText, string(req.Content)})
	}

	if req.MoodID != "" {
		fields = append(fields, [2]string{formFieldMoodID, req.MoodID})
	}

	if req.CustomMood != "" {
		fields = append(fields, [2]string{formFieldCustomMood, req.CustomMood})
	}

	if req.SaveText {
		fields = append(fields,
			[2]string{formFieldSaveText, saveTextEnabled},
			[2]string{formFieldTextTitle, req.TextTitle},
		)
	}

	if req.SourceTextID != "" {
		fields = append(fields, [2]string{formFieldSourceTextID, req.SourceTextID})
	}

	for _, field := range fields {
		err := writer.WriteField(field[0], field[1])
		if err != nil {
			return nil, "", fmt.Errorf(errFmtWriteField, field[0], err)
		}
	}

	closeErr := writer.Close()
	if closeErr != nil {
		return nil, "", fmt.Errorf(errFmtCloseWriter, closeErr)
	}

	return &buf, writer.FormDataContentType(), nil
}

// normalizeStatus maps backend states outside the known set (e.g. "processing")
// to running.
func normalizeStatus(status core.Status) core.Status {
	switch status {
	case core.StatusPending, core.StatusRunning, core.StatusComplete, core.StatusError:
		return status
	default:
		return core.StatusRunning
	}
}

// parseErrorResponse decodes a structured JSON error, falling back to the raw body.
func parseErrorResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)

	var errorResp ErrorResponse

	err := json.Unmarshal(raw, &errorResp)
	if err == nil && errorResp.Error != "" {
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, errorResp.Error)
		}

		return errors.New(errorResp.Error)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, resp.Status)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, truncate(raw))
}

func truncate(raw []byte) string {
	if len(raw) > maxErrorBodyBytes {
		raw = raw[:maxErrorBodyBytes]
	}

	return strings.TrimSpace(string(raw))
}
