package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"golang.org/x/sync/errgroup"

	"github.com/codebuildervaibhav/meetcap/internal/assembler"
	"github.com/codebuildervaibhav/meetcap/internal/backoff"
	"github.com/codebuildervaibhav/meetcap/internal/capture"
	"github.com/codebuildervaibhav/meetcap/internal/cleanup"
	"github.com/codebuildervaibhav/meetcap/internal/clock"
	"github.com/codebuildervaibhav/meetcap/internal/config"
	"github.com/codebuildervaibhav/meetcap/internal/events"
	"github.com/codebuildervaibhav/meetcap/internal/handlers"
	"github.com/codebuildervaibhav/meetcap/internal/ipc"
	"github.com/codebuildervaibhav/meetcap/internal/queue"
	"github.com/codebuildervaibhav/meetcap/internal/session"
	"github.com/codebuildervaibhav/meetcap/internal/storage"
	"github.com/codebuildervaibhav/meetcap/internal/transcription"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to a YAML or TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Custom logger setup
	logBuffer := NewLogBuffer(1000)
	log := slog.New(slog.NewTextHandler(io.MultiWriter(os.Stdout, logBuffer), &slog.HandlerOptions{
		Level: parseLevel(cfg.Log.Level),
	}))
	slog.SetDefault(log)

	if err := run(cfg, log, logBuffer); err != nil {
		log.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger, logBuffer *LogBuffer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Uploads and transcriptions outlive the signal so Stop can flush the last
	// segment; they are cancelled once shutdown has had its chance.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()

	// Ensure directories exist
	for _, dir := range []string{cfg.Recording.AudioDir, cfg.Storage.OutputDir, filepath.Dir(cfg.Storage.Database)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	log.Info("Initializing components...")
	clk := clock.New()
	hub := events.NewHub()
	defer hub.Close()

	db, err := storage.NewMetadataDB(cfg.Storage.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	localStorage := storage.NewLocalStorage(cfg.Recording.AudioDir, cfg.Storage.OutputDir)

	device, err := capture.New(cfg.Recording.Device, capture.Options{
		SampleRate:   cfg.Recording.SampleRate,
		FFmpegFormat: cfg.Recording.FFmpegFormat,
		FFmpegInput:  cfg.Recording.FFmpegInput,
		FFmpegArgs:   cfg.Recording.FFmpegExtraArgs,
	}, clk)
	if err != nil {
		return err
	}
	if err := device.Available(); err != nil {
		log.Warn("Capture device not available yet", "device", device.Name(), "error", err)
	}

	client, err := transcription.NewClient(transcription.Config{
		Endpoint:     cfg.Transcription.Endpoint,
		APIKey:       cfg.Transcription.APIKey,
		Model:        cfg.Transcription.Model,
		Language:     cfg.Transcription.Language,
		Timeout:      cfg.TranscriptionTimeout(),
		MinFileBytes: cfg.Transcription.MinFileBytes,
		MaxFileBytes: int64(cfg.Transcription.MaxFileSizeMB) << 20,
		Strategies:   cfg.Transcription.Strategies,
	}, transcription.WithClock(clk), transcription.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to initialize transcription client: %w", err)
	}
	if cfg.Transcription.APIKey == "" {
		log.Warn("No transcription API key configured")
	}
	transcriber := transcription.NewService(client, db, hub, cfg.Transcription.MaxAttempts, log)

	transport, err := newTransport(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize upload transport: %w", err)
	}
	var prober queue.Prober = queue.AlwaysReachable{}
	if cfg.Upload.ProbeURL != "" {
		prober = queue.NewHTTPProber(cfg.Upload.ProbeURL)
	}
	uploadBackoff := backoff.Policy{
		Base:   time.Duration(cfg.Upload.BackoffBaseSeconds) * time.Second,
		Factor: 2,
		Max:    time.Duration(cfg.Upload.BackoffMaxSeconds) * time.Second,
	}
	uploads := queue.NewUploadQueue(db, transport, queue.Config{
		MaxAttempts:  cfg.Upload.MaxAttempts,
		Backoff:      uploadBackoff,
		Timeout:      cfg.UploadTimeout(),
		PollInterval: cfg.PollInterval(),
	},
		queue.WithClock(clk),
		queue.WithPublisher(hub),
		queue.WithProber(prober),
		queue.WithLogger(log),
	)
	log.Info("Upload transport ready", "transport", transport.Name())

	asm := assembler.New(db, localStorage, hub, clk, cfg.Assembler.MinSegmentChars, log)

	controller := session.NewController(workCtx, session.Deps{
		Device:      device,
		Store:       db,
		Layout:      localStorage,
		Uploads:     uploads,
		Transcriber: transcriber,
		Assembler:   asm,
		Publisher:   hub,
		Clock:       clk,
		Logger:      log,
	}, session.Config{
		SegmentLength: cfg.SegmentLength(),
		FlushTimeout:  cfg.FlushTimeout(),
	})

	// Crash recovery
	if n, err := controller.RecoverInterrupted(ctx); err != nil {
		log.Error("Failed to recover interrupted meetings", "error", err)
	} else if n > 0 {
		log.Info("Recovered interrupted meetings", "count", n)
	}
	if n, err := transcriber.RecoverPending(workCtx); err != nil {
		log.Error("Failed to resume pending transcriptions", "error", err)
	} else if n > 0 {
		log.Info("Resumed pending transcriptions", "count", n)
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             64 << 20, // POST /import carries a full export
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{Output: logBuffer}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	handlers.Routes{
		Sessions: handlers.NewSessionHandler(controller),
		Meetings: handlers.NewMeetingHandler(db, asm),
		Uploads:  handlers.NewUploadHandler(workCtx, uploads),
		System:   handlers.NewSystemHandler(db, controller, client),
		Backup:   handlers.NewBackupHandler(db),
		Stream:   handlers.NewStreamHandler(hub, log),
	}.Mount(app)

	// Get server logs
	app.Get("/logs", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"logs": logBuffer.GetLogs(),
		})
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Server starting", "addr", cfg.Addr())
		logRoutes(log)
		return app.Listen(cfg.Addr())
	})
	g.Go(func() error {
		return uploads.Run(gctx)
	})
	if cfg.Assembler.AutoReassemble {
		g.Go(func() error {
			return asm.Follow(gctx, hub, cfg.ResyncInterval())
		})
	}
	// Audio is only deleted once a real transport holds a copy
	if transport.Name() != "none" {
		sweeper := cleanup.NewScheduler(db, localStorage, cfg.Recording.AudioDir,
			cfg.CleanupInterval(), cfg.Retention(), clk, log)
		g.Go(func() error {
			return sweeper.Run(gctx)
		})
	} else {
		log.Info("Retention sweep disabled without an upload transport")
	}
	if cfg.IPC.CommandFile != "" {
		watcher := ipc.NewWatcher(cfg.IPC.CommandFile, controller, log)
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		controller.Shutdown(shutdownCtx)
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Warn("HTTP shutdown incomplete", "error", err)
		}

		done := make(chan struct{})
		go func() {
			controller.Wait()
			transcriber.Wait()
			uploads.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			log.Warn("Background work did not finish before shutdown timeout")
		}
		cancelWork()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("Server stopped")
	return nil
}

// newTransport builds the configured upload destination
func newTransport(ctx context.Context, cfg *config.Config) (queue.Transport, error) {
	switch cfg.Upload.Transport {
	case "http":
		return queue.NewHTTPTransport(cfg.Upload.Endpoint, cfg.Upload.Token), nil
	case "gdrive":
		if _, err := os.Stat(cfg.GoogleDrive.CredentialsFile); err != nil {
			return nil, fmt.Errorf("google drive credentials not found: %w", err)
		}
		driveClient, err := storage.NewDriveClient(ctx,
			cfg.GoogleDrive.CredentialsFile,
			cfg.GoogleDrive.TokenFile,
			cfg.GoogleDrive.FolderName,
		)
		if err != nil {
			return nil, err
		}
		return driveClient, nil
	default:
		return queue.NopTransport{}, nil
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func logRoutes(log *slog.Logger) {
	for _, r := range []string{
		"POST /sessions/start        - Start recording a meeting",
		"POST /sessions/pause        - Pause the active session",
		"POST /sessions/resume       - Resume a paused session",
		"POST /sessions/stop         - Stop and assemble the transcript",
		"GET  /sessions/current      - Current session status",
		"GET  /meetings              - List meetings",
		"GET  /meetings/:id          - Meeting with segments",
		"GET  /meetings/:id/transcript - Transcript text",
		"POST /meetings/:id/reassemble - Rebuild the transcript",
		"GET  /uploads               - Pending uploads",
		"GET  /uploads/dead          - Dead-lettered uploads",
		"POST /uploads/:segmentId/retry - Requeue a dead upload",
		"GET  /ws/events             - WebSocket event stream",
		"GET  /stats                 - Storage statistics",
		"GET  /export                - Download all metadata as JSON",
		"POST /import                - Restore an export",
		"GET  /logs                  - View server logs",
		"GET  /health                - Health check",
	} {
		log.Debug("Endpoint", "route", r)
	}
}
