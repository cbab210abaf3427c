// Package sourcetext keeps the list of saved source texts in sync with the backend and
// applies a pending "load this text" request once the list has been rendered.
package sourcetext

import (
	"context"
	"fmt"
	"sync"

	"github.com/book-expert/logger"
	"github.com/book-expert/storyteller-client/internal/deferred"
	"github.com/book-expert/storyteller-client/internal/synth"
)

// Backend is the subset of the synthesis client the catalog needs.
type Backend interface {
	ListTexts(ctx context.Context) ([]synth.SourceText, error)
	GetText(ctx context.Context, id string) (synth.SourceText, error)
}

// Renderer is told about every refreshed list and every loaded text.
type Renderer interface {
	RenderTexts(texts []synth.SourceText)
	LoadText(text synth.SourceText)
}

// Catalog is the source-text collaborator refreshed after a job that saved its text.
type Catalog struct {
	backend  Backend
	renderer Renderer
	log      *logger.Logger
	pending  deferred.Queue[string]

	mu     sync.Mutex
	texts  []synth.SourceText
	loaded synth.SourceText
}

// New creates a Catalog. renderer may be nil.
func New(backend Backend, renderer Renderer, log *logger.Logger) *Catalog {
	return &Catalog{backend: backend, renderer: renderer, log: log}
}

// LoadAfterRefresh defers loading text id until the next successful Refresh.
func (c *Catalog) LoadAfterRefresh(id string) {
	c.pending.Set(id)
}

// PendingLoad returns the text id still waiting for a refresh, if any.
func (c *Catalog) PendingLoad() (string, bool) {
	return c.pending.Pending()
}

// Refresh reloads the list, renders it and then applies a pending load request.
func (c *Catalog) Refresh(ctx context.Context) error {
	texts, err := c.backend.ListTexts(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh source texts: %w", err)
	}

	c.mu.Lock()
	c.texts = texts
	c.mu.Unlock()

	if c.renderer != nil {
		c.renderer.RenderTexts(texts)
	}

	var loadErr error

	c.pending.Apply(func(id string) {
		loadErr = c.Load(ctx, id)
	})

	return loadErr
}

// Load fetches one text, marks it as the linked source text and hands it to the renderer.
func (c *Catalog) Load(ctx context.Context, id string) error {
	text, err := c.backend.GetText(ctx, id)
	if err != nil {
		c.log.Warn("Failed to load source text %s: %v", id, err)

		return fmt.Errorf("failed to load source text: %w", err)
	}

	c.mu.Lock()
	c.loaded = text
	c.mu.Unlock()

	if c.renderer != nil {
		c.renderer.LoadText(text)
	}

	return nil
}

// Texts returns the most recently refreshed list.
func (c *Catalog) Texts() []synth.SourceText {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]synth.SourceText(nil), c.texts...)
}

// LoadedID is the id of the text last loaded, to be linked to the next submission.
func (c *Catalog) LoadedID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.loaded.ID
}

// Loaded returns the text last loaded, if any.
func (c *Catalog) Loaded() (synth.SourceText, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.loaded, c.loaded.ID != ""
}
