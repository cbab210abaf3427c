// main package for the storyteller-service
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/book-expert/storyteller-client/internal/archive"
	"github.com/book-expert/storyteller-client/internal/config"
	"github.com/book-expert/storyteller-client/internal/controller"
	"github.com/book-expert/storyteller-client/internal/core"
	"github.com/book-expert/storyteller-client/internal/notify"
	"github.com/book-expert/storyteller-client/internal/objectstore"
	"github.com/book-expert/storyteller-client/internal/synth"
	"github.com/book-expert/storyteller-client/internal/worker"
	"github.com/nats-io/nats.go"
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "storyteller-service.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	_ = bootstrapLog.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, finalLog)
}

// serve connects to NATS and runs the request worker and the artifact archiver
// until ctx is done.
func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	natsURL := cfg.NATS.URL
	if natsURL == "" {
		natsURL = nats.DefaultURL
	}

	natsConnection, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", natsURL, err)
	}
	defer natsConnection.Close()

	client := synth.NewHTTPClient(cfg.Storyteller.BaseURL, cfg.SubmitTimeout()).
		WithDownloadTimeout(cfg.DownloadTimeout())

	sinks := notify.Fanout{
		notify.LogSink{Log: log},
		notify.NewNATSSink(natsConnection, cfg.NATS.NotificationSubject, "", log),
	}

	var (
		store    core.ObjectStore
		archiver *archive.Archiver
	)

	if cfg.NATS.AudioObjectStoreBucket != "" {
		jetstreamContext, jsErr := natsConnection.JetStream()
		if jsErr != nil {
			return fmt.Errorf("failed to get JetStream context: %w", jsErr)
		}

		natsStore, storeErr := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
		if storeErr != nil {
			return storeErr
		}

		store = natsStore
		archiver = archive.New(client, natsStore, log, nil)
		sinks = append(sinks, archiver)
	}

	jobs := controller.New(client, sinks, &notify.Toggle{}, log, controller.Options{
		PollInterval:      cfg.PollInterval(),
		StatusTimeout:     cfg.StatusTimeout(),
		SubmitTimeout:     cfg.SubmitTimeout(),
		CustomMoodAllowed: customMoodAllowed(ctx, client, cfg, log),
	})

	defer func() {
		_ = jobs.Close()
	}()

	requests := worker.NewNatsWorker(natsConnection, cfg.NATS.RequestSubject, store, jobs, log)

	log.System("Storyteller service listening for jobs on subject: %s", cfg.NATS.RequestSubject)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg         sync.WaitGroup
		archiveErr error
	)

	if archiver != nil {
		wg.Add(1)

		go func() {
			defer wg.Done()

			archiveErr = archiver.Run(ctx)
		}()
	}

	err = requests.Run(ctx)

	cancel()
	wg.Wait()

	err = errors.Join(err, archiveErr)
	if err != nil {
		return fmt.Errorf("service stopped: %w", err)
	}

	return nil
}

func customMoodAllowed(ctx context.Context, client *synth.HTTPClient, cfg *config.Config, log *logger.Logger) bool {
	ctx, cancel := context.WithTimeout(ctx, cfg.StatusTimeout())
	defer cancel()

	catalog, err := client.Voices(ctx)
	if err != nil {
		log.Warn("Failed to read voice catalog, custom moods disabled: %v", err)

		return false
	}

	return catalog.CustomMoodAllowed
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
