// Command storyteller-client submits one text for synthesis, reports progress on the
// terminal until the job finishes, and optionally saves the resulting audio.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/storyteller-client/internal/archive"
	"github.com/book-expert/storyteller-client/internal/config"
	"github.com/book-expert/storyteller-client/internal/controller"
	"github.com/book-expert/storyteller-client/internal/core"
	"github.com/book-expert/storyteller-client/internal/notify"
	"github.com/book-expert/storyteller-client/internal/request"
	"github.com/book-expert/storyteller-client/internal/sourcetext"
	"github.com/book-expert/storyteller-client/internal/synth"
)

// Flag descriptions.
const (
	flagTextDesc       = "Text to convert to speech"
	flagFileDesc       = "Markdown or plain-text file to convert (.md, .txt, .markdown)"
	flagVoiceDesc      = "Voice name"
	flagRateDesc       = "Speaking rate (must be positive)"
	flagPitchDesc      = "Pitch adjustment"
	flagMoodDesc       = "Mood preset identifier"
	flagCustomMoodDesc = "Free-text mood, when the backend allows it"
	flagTitleDesc      = "Title of the generated audio"
	flagSaveTextDesc   = "Save the submitted text as a source text"
	flagTextTitleDesc  = "Title of the saved source text"
	flagSourceDesc     = "Synthesize a saved source text by id"
	flagLoadDesc       = "After a saved text is stored, load this source text id"
	flagBaseURLDesc    = "Backend URL (skips the configuration file)"
	flagOutputDesc     = "Directory to save the finished audio into"
	flagVoicesDesc     = "List the voice catalog and exit"
	flagVerboseDesc    = "Enable verbose logging"
)

// Flag names.
const (
	flagText       = "text"
	flagFile       = "file"
	flagVoice      = "voice"
	flagRate       = "rate"
	flagPitch      = "pitch"
	flagMood       = "mood"
	flagCustomMood = "custom-mood"
	flagTitle      = "title"
	flagSaveText   = "save-text"
	flagTextTitle  = "text-title"
	flagSource     = "source-text"
	flagLoad       = "load-text"
	flagBaseURL    = "base-url"
	flagOutput     = "output"
	flagVoices     = "voices"
	flagVerbose    = "verbose"
)

// Error messages.
const (
	errFailedToLoadConfig = "failed to load configuration: %w"
	errFailedToInitLogger = "failed to initialize logger: %w"
	errEitherTextOrFile   = "one of --text, --file or --source-text must be provided"
	errTooManySources     = "only one of --text, --file or --source-text may be provided"
	errLoadNeedsSaveText  = "--load-text requires --save-text"
	errReadFile           = "failed to read %s: %w"
	errJobFailed          = "job %s failed: %s"
	errJobAbandoned       = "job %s stopped before completion"
)

// Log and output messages.
const (
	logClientInitialized = "Storyteller client initialized (backend: %s)"
	logVoiceCatalogError = "Failed to read voice catalog, custom moods disabled: %v"
	logArchiveSkipped    = "No output directory configured, audio not saved"
	logBackendRefused    = "Backend %s did not accept the job: %v"
	logLoadTextPending   = "Source text %s was not loaded; the text list was not refreshed"
	outVoiceLine         = "%s\t%s\n"
	outDefaultVoice      = "Default voice: %s (tier %s)\n"
	outSavedTexts        = "Saved texts: %d\n"
	outLoadedText        = "Loaded source text %s (%s)\n"
	outSavedAudio        = "Saved: %s\n"
)

const (
	logFileNameDefault = "storyteller-client.log"
	logFileNameVerbose = "storyteller-client-verbose.log"
	defaultRate        = 1.0
	voicesTimeout      = 10 * time.Second
)

var (
	errMissingSource = errors.New(errEitherTextOrFile)
	errManySources   = errors.New(errTooManySources)
	errLoadText      = errors.New(errLoadNeedsSaveText)
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	text       string
	file       string
	voice      string
	rate       float64
	pitch      float64
	mood       string
	customMood string
	title      string
	saveText   bool
	textTitle  string
	sourceText string
	loadText   string
	baseURL    string
	output     string
	voices     bool
	verbose    bool
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application entry point, returning an error on failure.
func run() error {
	flags := parseFlags(flag.CommandLine, os.Args[1:])

	if !flags.voices {
		err := validateArguments(flags)
		if err != nil {
			flag.Usage()

			return err
		}
	}

	cfg, log, err := setup(flags)
	if err != nil {
		return err
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	log.Info(logClientInitialized, cfg.Storyteller.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := synth.NewHTTPClient(cfg.Storyteller.BaseURL, cfg.SubmitTimeout()).
		WithDownloadTimeout(cfg.DownloadTimeout())

	if flags.voices {
		return printVoices(ctx, client)
	}

	return synthesize(ctx, client, cfg, log, flags)
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(fs *flag.FlagSet, args []string) appFlags {
	var flags appFlags

	fs.StringVar(&flags.text, flagText, "", flagTextDesc)
	fs.StringVar(&flags.file, flagFile, "", flagFileDesc)
	fs.StringVar(&flags.voice, flagVoice, "", flagVoiceDesc)
	fs.Float64Var(&flags.rate, flagRate, defaultRate, flagRateDesc)
	fs.Float64Var(&flags.pitch, flagPitch, 0, flagPitchDesc)
	fs.StringVar(&flags.mood, flagMood, "", flagMoodDesc)
	fs.StringVar(&flags.customMood, flagCustomMood, "", flagCustomMoodDesc)
	fs.StringVar(&flags.title, flagTitle, "", flagTitleDesc)
	fs.BoolVar(&flags.saveText, flagSaveText, false, flagSaveTextDesc)
	fs.StringVar(&flags.textTitle, flagTextTitle, "", flagTextTitleDesc)
	fs.StringVar(&flags.sourceText, flagSource, "", flagSourceDesc)
	fs.StringVar(&flags.loadText, flagLoad, "", flagLoadDesc)
	fs.StringVar(&flags.baseURL, flagBaseURL, "", flagBaseURLDesc)
	fs.StringVar(&flags.output, flagOutput, "", flagOutputDesc)
	fs.BoolVar(&flags.voices, flagVoices, false, flagVoicesDesc)
	fs.BoolVar(&flags.verbose, flagVerbose, false, flagVerboseDesc)

	// The default flag set exits on parse errors.
	_ = fs.Parse(args)

	return flags
}

// validateArguments checks flag combinations the request builder cannot see.
func validateArguments(flags appFlags) error {
	sources := 0

	for _, set := range []bool{flags.text != "", flags.file != "", flags.sourceText != ""} {
		if set {
			sources++
		}
	}

	switch {
	case sources == 0:
		return errMissingSource
	case sources > 1:
		return errManySources
	case flags.loadText != "" && !flags.saveText:
		return errLoadText
	}

	return nil
}

// setup loads config and initializes the logger. A --base-url flag replaces the
// configuration file entirely.
func setup(flags appFlags) (*config.Config, *logger.Logger, error) {
	logFileName := logFileNameDefault
	if flags.verbose {
		logFileName = logFileNameVerbose
	}

	if flags.baseURL != "" {
		cfg := &config.Config{}
		cfg.Storyteller.BaseURL = flags.baseURL
		cfg.Paths.OutputDir = flags.output
		cfg.ApplyDefaults()

		log, err := logger.New(os.TempDir(), logFileName)
		if err != nil {
			return nil, nil, fmt.Errorf(errFailedToInitLogger, err)
		}

		return cfg, log, nil
	}

	bootstrapLog, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return nil, nil, fmt.Errorf(errFailedToInitLogger, err)
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		_ = bootstrapLog.Close()

		return nil, nil, fmt.Errorf(errFailedToLoadConfig, err)
	}

	if flags.output != "" {
		cfg.Paths.OutputDir = flags.output
	}

	if cfg.Paths.BaseLogsDir == "" {
		return cfg, bootstrapLog, nil
	}

	_ = bootstrapLog.Close()

	log, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		return nil, nil, fmt.Errorf(errFailedToInitLogger, err)
	}

	return cfg, log, nil
}

func printVoices(ctx context.Context, client *synth.HTTPClient) error {
	ctx, cancel := context.WithTimeout(ctx, voicesTimeout)
	defer cancel()

	catalog, err := client.Voices(ctx)
	if err != nil {
		return fmt.Errorf("failed to read voice catalog: %w", err)
	}

	for _, voice := range catalog.Voices {
		fmt.Printf(outVoiceLine, voice.Name, voice.Label)
	}

	fmt.Printf(outDefaultVoice, catalog.Default, catalog.Tier)

	return nil
}

// synthesize runs one job to completion.
func synthesize(
	ctx context.Context,
	client *synth.HTTPClient,
	cfg *config.Config,
	log *logger.Logger,
	flags appFlags,
) error {
	customMoodAllowed := readCustomMoodCapability(ctx, client, log)

	texts := sourcetext.New(client, terminalRenderer{}, log)
	if flags.loadText != "" {
		texts.LoadAfterRefresh(flags.loadText)
	}

	raw, err := buildRawInput(ctx, texts, flags)
	if err != nil {
		return err
	}

	affordance := &notify.Toggle{}
	jobs := controller.New(
		client,
		notify.Fanout{notify.NewWriterSink(os.Stdout), notify.LogSink{Log: log}},
		affordance,
		log,
		controller.Options{
			PollInterval:      cfg.PollInterval(),
			StatusTimeout:     cfg.StatusTimeout(),
			SubmitTimeout:     cfg.SubmitTimeout(),
			CustomMoodAllowed: customMoodAllowed,
			Refresher:         texts,
		},
	)

	defer func() {
		_ = jobs.Close()
	}()

	handle, err := jobs.Submit(ctx, raw)
	if err != nil {
		if controller.IsSubmissionError(err) {
			log.Error(logBackendRefused, cfg.Storyteller.BaseURL, err)
		}

		return fmt.Errorf("submission failed: %w", err)
	}

	err = jobs.Wait(ctx)
	if err != nil {
		return err
	}

	job, _ := jobs.Job()

	switch job.Status {
	case core.StatusComplete:
	case core.StatusError:
		return fmt.Errorf(errJobFailed, job.ID, job.ErrorMessage)
	default:
		return fmt.Errorf(errJobAbandoned, handle.ID)
	}

	if id, pending := texts.PendingLoad(); pending {
		log.Warn(logLoadTextPending, id)
	}

	return saveAudio(ctx, client, cfg, log, client.Retrieval(job.ID))
}

// readCustomMoodCapability asks the voice catalog whether free-text moods are allowed.
func readCustomMoodCapability(ctx context.Context, client *synth.HTTPClient, log *logger.Logger) bool {
	ctx, cancel := context.WithTimeout(ctx, voicesTimeout)
	defer cancel()

	catalog, err := client.Voices(ctx)
	if err != nil {
		log.Warn(logVoiceCatalogError, err)

		return false
	}

	return catalog.CustomMoodAllowed
}

// buildRawInput turns flags into the form state the controller validates.
func buildRawInput(ctx context.Context, texts *sourcetext.Catalog, flags appFlags) (request.RawInput, error) {
	raw := request.RawInput{
		Text:         flags.text,
		Voice:        flags.voice,
		SpeakingRate: flags.rate,
		Pitch:        flags.pitch,
		MoodID:       flags.mood,
		CustomMood:   flags.customMood,
		AudioTitle:   flags.title,
		SaveText:     flags.saveText,
		TextTitle:    flags.textTitle,
	}

	if flags.file != "" {
		content, err := os.ReadFile(flags.file)
		if err != nil {
			return request.RawInput{}, fmt.Errorf(errReadFile, flags.file, err)
		}

		raw.FileName = filepath.Base(flags.file)
		raw.FileContent = content
	}

	if flags.sourceText != "" {
		err := texts.Load(ctx, flags.sourceText)
		if err != nil {
			return request.RawInput{}, err
		}

		text, _ := texts.Loaded()
		raw.Text = text.Content
		raw.SourceTextID = text.ID

		if raw.AudioTitle == "" {
			raw.AudioTitle = text.Title
		}
	}

	return raw, nil
}

// saveAudio downloads the finished artifact into the output directory.
func saveAudio(
	ctx context.Context,
	client *synth.HTTPClient,
	cfg *config.Config,
	log *logger.Logger,
	ref core.RetrievalRef,
) error {
	if cfg.Paths.OutputDir == "" {
		log.Info(logArchiveSkipped)

		return nil
	}

	store, err := archive.NewDirStore(cfg.Paths.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to prepare output directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.DownloadTimeout())
	defer cancel()

	archiver := archive.New(client, store, log, func(key string) {
		fmt.Printf(outSavedAudio, store.Path(key))
	})

	return archiver.Archive(ctx, ref)
}

// terminalRenderer prints source-text updates.
type terminalRenderer struct{}

func (terminalRenderer) RenderTexts(texts []synth.SourceText) {
	fmt.Printf(outSavedTexts, len(texts))
}

func (terminalRenderer) LoadText(text synth.SourceText) {
	fmt.Printf(outLoadedText, text.ID, text.Title)
}
