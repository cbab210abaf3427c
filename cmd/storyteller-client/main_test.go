package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/storyteller-client/internal/archive"
	"github.com/book-expert/storyteller-client/internal/config"
	"github.com/book-expert/storyteller-client/internal/sourcetext"
	"github.com/book-expert/storyteller-client/internal/synth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAudio   = "RIFF-test-audio"
	testTimeout = 5 * time.Second
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "client-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

// backend serves one job that completes on its second status query.
func backend(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var statusCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/voices", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"voices": []any{}, "custom_mood_allowed": false})
	})
	mux.HandleFunc("/api/synthesize", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"job_id": "job-1", "total_chunks": 2})
	})
	mux.HandleFunc("/api/status/job-1", func(w http.ResponseWriter, _ *http.Request) {
		if statusCalls.Add(1) == 1 {
			writeJSON(t, w, http.StatusOK, map[string]any{"status": "running", "completed_chunks": 1, "total_chunks": 2})

			return
		}

		writeJSON(t, w, http.StatusOK, map[string]any{"status": "complete", "completed_chunks": 2, "total_chunks": 2})
	})
	mux.HandleFunc("/api/download/job-1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(testAudio))
	})
	mux.HandleFunc("/api/texts/t1", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"text": map[string]any{"id": "t1", "title": "Storm", "content": "It was a dark night."},
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server, &statusCalls
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("storyteller-client", flag.ContinueOnError)
	flags := parseFlags(fs, []string{
		"--text", "Hello, world!",
		"--voice", "narrator",
		"--rate", "1.25",
		"--save-text",
		"--load-text", "t9",
	})

	assert.Equal(t, "Hello, world!", flags.text)
	assert.Equal(t, "narrator", flags.voice)
	assert.InDelta(t, 1.25, flags.rate, 1e-9)
	assert.True(t, flags.saveText)
	assert.Equal(t, "t9", flags.loadText)
}

func TestParseFlags_DefaultRate(t *testing.T) {
	t.Parallel()

	flags := parseFlags(flag.NewFlagSet("storyteller-client", flag.ContinueOnError), []string{"--text", "x"})

	assert.InDelta(t, defaultRate, flags.rate, 1e-9)
}

func TestValidateArguments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		flags appFlags
		want  error
	}{
		{name: "text only", flags: appFlags{text: "hello"}},
		{name: "file only", flags: appFlags{file: "story.md"}},
		{name: "source text only", flags: appFlags{sourceText: "t1"}},
		{name: "nothing", flags: appFlags{}, want: errMissingSource},
		{name: "text and file", flags: appFlags{text: "hello", file: "story.md"}, want: errManySources},
		{name: "load without save", flags: appFlags{text: "hello", loadText: "t1"}, want: errLoadText},
		{name: "load with save", flags: appFlags{text: "hello", saveText: true, loadText: "t1"}},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := validateArguments(testCase.flags)
			if testCase.want == nil {
				assert.NoError(t, err)

				return
			}

			assert.ErrorIs(t, err, testCase.want)
		})
	}
}

func TestBuildRawInput_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "chapter.md")
	require.NoError(t, os.WriteFile(path, []byte("# One"), 0o600))

	raw, err := buildRawInput(context.Background(), nil, appFlags{file: path, rate: 1})
	require.NoError(t, err)

	assert.Equal(t, "chapter.md", raw.FileName)
	assert.Equal(t, []byte("# One"), raw.FileContent)
	assert.Empty(t, raw.Text)
}

func TestBuildRawInput_SourceText(t *testing.T) {
	t.Parallel()

	server, _ := backend(t)
	client := synth.NewHTTPClient(server.URL, testTimeout)
	texts := sourcetext.New(client, nil, testLogger(t))

	raw, err := buildRawInput(context.Background(), texts, appFlags{sourceText: "t1", rate: 1})
	require.NoError(t, err)

	assert.Equal(t, "It was a dark night.", raw.Text)
	assert.Equal(t, "t1", raw.SourceTextID)
	assert.Equal(t, "Storm", raw.AudioTitle)
}

func TestSynthesize_SavesAudio(t *testing.T) {
	t.Parallel()

	server, statusCalls := backend(t)
	outputDir := t.TempDir()

	cfg := &config.Config{}
	cfg.Storyteller.BaseURL = server.URL
	cfg.Storyteller.PollIntervalMS = 10
	cfg.Paths.OutputDir = outputDir
	cfg.ApplyDefaults()

	client := synth.NewHTTPClient(server.URL, cfg.SubmitTimeout())

	err := synthesize(context.Background(), client, cfg, testLogger(t), appFlags{text: "Once upon a time.", rate: 1})
	require.NoError(t, err)

	assert.Equal(t, int32(2), statusCalls.Load())

	data, err := os.ReadFile(filepath.Join(outputDir, archive.Key("job-1")))
	require.NoError(t, err)
	assert.Equal(t, testAudio, string(data))
}
