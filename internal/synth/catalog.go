package synth

import (
	"context"
	"fmt"
	"net/url"
)

const (
	apiVoices = "/api/voices"
	apiTexts  = "/api/texts"
)

// Voice is one entry of the voice catalog.
type Voice struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Category string `json:"category"`
	Gender   string `json:"gender,omitempty"`
}

// Mood is a selectable delivery style.
type Mood struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// VoiceCatalog is the response of the voices endpoint.
type VoiceCatalog struct {
	Voices            []Voice `json:"voices"`
	Default           string  `json:"default"`
	Tier              string  `json:"tier"`
	Moods             []Mood  `json:"moods"`
	CustomMoodAllowed bool    `json:"custom_mood_allowed"`
}

// SourceText is a saved source text. Content is only filled by GetText.
type SourceText struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CharCount int    `json:"char_count"`
	FileType  string `json:"file_type,omitempty"`
	Content   string `json:"content,omitempty"`
}

type textListResponse struct {
	Texts []SourceText `json:"texts"`
}

type textResponse struct {
	Text *SourceText `json:"text"`
}

// Voices fetches the voice catalog, including the custom mood capability flag.
func (c *HTTPClient) Voices(ctx context.Context) (VoiceCatalog, error) {
	var catalog VoiceCatalog

	err := c.getJSON(ctx, apiVoices, &catalog)
	if err != nil {
		return VoiceCatalog{}, fmt.Errorf("failed to load voices: %w", err)
	}

	return catalog, nil
}

// ListTexts returns the saved source texts, most recently updated first.
func (c *HTTPClient) ListTexts(ctx context.Context) ([]SourceText, error) {
	var resp textListResponse

	err := c.getJSON(ctx, apiTexts, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to list source texts: %w", err)
	}

	return resp.Texts, nil
}

// GetText fetches one source text with its content.
func (c *HTTPClient) GetText(ctx context.Context, id string) (SourceText, error) {
	var resp textResponse

	err := c.getJSON(ctx, apiTexts+"/"+url.PathEscape(id), &resp)
	if err != nil {
		return SourceText{}, fmt.Errorf("failed to load source text %s: %w", id, err)
	}

	if resp.Text == nil {
		return SourceText{}, fmt.Errorf("%w: source text %s", ErrNotFound, id)
	}

	return *resp.Text, nil
}
