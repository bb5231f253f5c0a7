package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mynahbot/mynah/pkg/assets"
	"github.com/mynahbot/mynah/pkg/audio"
	"github.com/mynahbot/mynah/pkg/bot"
	"github.com/mynahbot/mynah/pkg/bus"
	"github.com/mynahbot/mynah/pkg/channels"
	"github.com/mynahbot/mynah/pkg/config"
	"github.com/mynahbot/mynah/pkg/enroll"
	"github.com/mynahbot/mynah/pkg/logger"
	"github.com/mynahbot/mynah/pkg/ratelimit"
	"github.com/mynahbot/mynah/pkg/store"
	"github.com/mynahbot/mynah/pkg/synth"
	"github.com/mynahbot/mynah/pkg/voice"
)

func newRunCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bot in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if debug {
				logger.SetLevel(logger.DEBUG)
				fmt.Println("Debug mode enabled")
			}
			return runCmd()
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// runner holds the initialized components. Construction wires everything
// together; run starts the goroutines and blocks until shutdown.
type runner struct {
	cfg            *config.Config
	store          *store.Store
	queue          *synth.Queue
	enrollMgr      *enroll.Manager
	service        *bot.Service
	channelManager *channels.Manager
	msgBus         *bus.MessageBus
	ctx            context.Context
	cancel         context.CancelFunc
}

func createRunner() (*runner, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}

	for _, dir := range []string{cfg.DataPath(), cfg.VoicesPath(), cfg.OutputsPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("error creating %s: %w", dir, err)
		}
	}

	if err := logger.EnableFileLogging(filepath.Join(cfg.DataPath(), "mynah.log")); err != nil {
		logger.WarnCF("main", "File logging disabled", map[string]any{"error": err.Error()})
	}

	st, err := store.Open(cfg.DatabasePath(), cfg.Voices.DefaultVoice)
	if err != nil {
		return nil, fmt.Errorf("error opening settings store: %w", err)
	}

	as := assets.NewStore(cfg.VoicesPath())
	if err := as.EnsureRoot(); err != nil {
		return nil, fmt.Errorf("error preparing voice store: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Bring disk and database back in sync before any traffic.
	rep, err := store.NewReconciler(st, as).Run(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("error reconciling voice store: %w", err)
	}
	if rep.Changed() {
		logger.InfoCF("main", "Voice store reconciled", map[string]any{
			"created_users": rep.CreatedUsers,
			"adopted_dirs":  rep.AdoptedDirs,
			"pruned_rows":   rep.PrunedRows,
			"removed_dirs":  rep.RemovedDirs,
		})
	}

	tc := audio.NewTranscoder(cfg.Transcode.FFmpegPath, cfg.Transcode.FFprobePath)
	engine := synth.NewHTTPEngine(cfg.Engine.BaseURL, time.Duration(cfg.Engine.TimeoutSec)*time.Second)

	var svc *bot.Service
	queue := synth.NewQueue(engine, tc, cfg.OutputsPath(), synth.Options{
		ClipLimit: cfg.Engine.ClipCharLimit,
		KeepCache: cfg.Engine.KeepCache,
		Notify: func(r synth.Result) {
			svc.OnResult(r)
		},
	})

	enrollMgr := enroll.NewManager(st, as, tc, enroll.Config{
		MinDurationSec: cfg.Voices.MinDurationSec,
		MaxDurationSec: cfg.Voices.MaxDurationSec,
		MaxVoices:      cfg.Voices.MaxPerUser,
		IdleTimeout:    time.Duration(cfg.Voices.SessionIdleMins) * time.Minute,
	})

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		Enabled:              cfg.RateLimits.GenPerMinute > 0,
		GenerationsPerMinute: cfg.RateLimits.GenPerMinute,
		PerUserLimit:         true,
	})

	var transcriber voice.Transcriber
	if cfg.Whisper.Enabled {
		transcriber = voice.NewWhisperTranscriber(cfg.Whisper.BaseURL)
		logger.InfoC("main", "Whisper transcription enabled")
	}

	msgBus := bus.NewMessageBus()
	svc = bot.NewService(st, as, queue, enrollMgr, tc, transcriber, limiter, msgBus, bot.Config{
		BuiltinVoices: cfg.Voices.BuiltinVoices,
		SamplesMax:    cfg.Voices.SamplesMax,
	})

	channelManager := channels.NewManager(cfg, msgBus)

	return &runner{
		cfg:            cfg,
		store:          st,
		queue:          queue,
		enrollMgr:      enrollMgr,
		service:        svc,
		channelManager: channelManager,
		msgBus:         msgBus,
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

func (r *runner) run() error {
	go r.queue.Run(r.ctx)
	go r.service.Run(r.ctx)

	// Abandoned enrollment sessions are swept in the background.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				if n := r.enrollMgr.SweepIdle(); n > 0 {
					logger.InfoCF("main", "Swept idle enrollment sessions", map[string]any{"count": n})
				}
			}
		}
	}()

	if err := r.channelManager.StartAll(r.ctx); err != nil {
		return fmt.Errorf("error starting channels: %w", err)
	}

	enabled := r.channelManager.GetEnabledChannels()
	if len(enabled) > 0 {
		fmt.Printf("✓ Channels enabled: %v\n", enabled)
	} else {
		fmt.Println("⚠ Warning: no channels enabled, check your config")
	}
	fmt.Printf("✓ Voice store: %s\n", r.cfg.VoicesPath())
	fmt.Printf("✓ Engine: %s\n", r.cfg.Engine.BaseURL)
	fmt.Println("Press Ctrl+C to stop")

	<-r.ctx.Done()
	return nil
}

func (r *runner) stop() {
	logger.InfoC("main", "Shutting down...")
	fmt.Println("\nShutting down...")

	r.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r.channelManager.StopAll(ctx)
	r.queue.Close()
	r.msgBus.Close()
	if err := r.store.Close(); err != nil {
		logger.ErrorCF("main", "Error closing store", map[string]any{"error": err.Error()})
	}
	logger.DisableFileLogging()

	fmt.Println("✓ Stopped")
}

func runCmd() error {
	r, err := createRunner()
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- r.run()
	}()

	select {
	case <-sigChan:
	case err := <-errChan:
		if err != nil {
			r.stop()
			return err
		}
	}

	r.stop()
	return nil
}
