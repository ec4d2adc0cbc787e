package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/blockedby/backupbot/internal/backup"
	"github.com/blockedby/backupbot/internal/bot"
	"github.com/blockedby/backupbot/internal/captions"
	"github.com/blockedby/backupbot/internal/config"
	"github.com/blockedby/backupbot/internal/database"
	"github.com/blockedby/backupbot/internal/logger"
	"github.com/blockedby/backupbot/internal/nats"
	"github.com/blockedby/backupbot/internal/publisher"
	"github.com/blockedby/backupbot/internal/resolve"
	"github.com/blockedby/backupbot/internal/telegram"
	"github.com/blockedby/backupbot/internal/web"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// 2. Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	log := logger.Get()

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("configuration error")
	}
	log.Info().Int64("destination", cfg.DestinationChannel).Msg("starting backup bot")

	// 3. Setup context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Open session store
	db, err := database.New(ctx, cfg.SessionDB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open session database")
	}
	defer db.Close()

	// 5. Log in
	tgManager := telegram.NewManager(cfg, db.GORM)
	if err := tgManager.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("telegram login failed")
	}
	if tgManager.GetStatus() != telegram.StatusReady {
		log.Fatal().Msg("no telegram session: set USER_SESSION_STRING or BOT_TOKEN, or log in with tg-auth")
	}

	tgClient := telegram.NewClient(tgManager)
	defer tgClient.Close()

	self, err := tgClient.Self()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read own account")
	}

	// warm the peer cache so numeric ids resolve
	if chats, err := tgClient.Dialogs(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to load dialogs")
	} else {
		log.Info().Int("dialogs", len(chats)).Msg("dialogs loaded")
	}

	dest, err := tgClient.GetChat(ctx, cfg.DestinationChannel)
	if err != nil {
		log.Fatal().Err(err).Int64("destination", cfg.DestinationChannel).Msg("destination channel is not reachable")
	}

	// 6. Backup jobs
	retry := backup.DefaultRetryPolicy()
	retry.FloodMargin = cfg.FloodMargin
	retry.TransientRetries = cfg.TransientRetries

	runner := backup.NewRunner(tgClient, backup.Options{
		Retry:            retry,
		DownloadDir:      cfg.DownloadDir,
		ProgressEvery:    cfg.ProgressEvery,
		ProgressInterval: cfg.ProgressInterval,
	}, log.Component("runner"))
	jobs := backup.NewManager(runner, log.Component("jobs"))
	jobs.OnFinish(func(job *backup.Job, res backup.Result) {
		log.Info().
			Str("job_id", job.ID.String()).
			Str("kind", string(job.Kind)).
			Int("succeeded", res.Succeeded).
			Int("failed", res.Failed).
			Int("missing", res.Missing).
			Bool("stopped", res.Stopped).
			Dur("duration", res.Duration).
			Msg("job finished")
	})

	// 7. Connect to NATS
	if cfg.NatsURL != "" {
		nc, err := nats.New(ctx, cfg.NatsURL, log.Component("nats"))
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to nats, publishing disabled")
		} else {
			defer nc.Close()
			if err := nc.EnsureStream(ctx, nats.StreamName, []string{nats.StreamSubject}); err != nil {
				log.Warn().Err(err).Msg("failed to ensure nats stream")
			}
			jobs.OnFinish(publisher.NewNATSPublisher(nc, log.Component("publisher")).OnFinish)
		}
	}

	// 8. Caption editor
	presets, err := captions.LoadPresets(cfg.PresetsFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.PresetsFile).Msg("failed to load presets")
	}
	if cfg.PresetsFile != "" {
		go func() {
			if err := presets.Watch(ctx, cfg.PresetsFile, log.Component("presets")); err != nil {
				log.Warn().Err(err).Msg("presets watcher stopped")
			}
		}()
	}
	editor := captions.NewEditor(tgClient, captions.AdaptivePolicy{
		Threshold: cfg.FloodDowngradeThreshold,
		Presets:   presets,
	}, retry, cfg.ProgressEvery, log.Component("editor"))

	// 9. Bot
	opts := bot.Options{
		SelfID:       self.ID,
		AllowedUsers: cfg.AllowedUsers,
		Dest:         dest,
		Delay:        backup.DelayRange{Min: cfg.MinDelay, Max: cfg.MaxDelay},
		MaxBatch:     cfg.MaxBatch,
	}
	if cfg.TGSessionStr == "" && cfg.BotToken != "" {
		opts.Username = self.Username
	}
	b := bot.New(tgClient, resolve.New(tgClient, log.Component("resolve")), jobs, editor,
		captions.NewMemoryStore(), presets, opts, log.Component("bot"))

	if err := tgClient.Listen(ctx, b.Handle); err != nil {
		log.Fatal().Err(err).Msg("failed to register update handler")
	}

	// 10. Health server
	server := web.NewServer(&web.Config{Port: cfg.HTTPPort, AdminToken: cfg.AdminToken}, web.NewHandler(jobs, tgClient.GetStatus))
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("starting web server")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
		}
	}()

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Debug().Err(err).Msg("sd_notify failed")
	}
	log.Info().Str("account", self.Title).Str("destination", dest.Title).Msg("bot is running")

	// 11. Wait for shutdown
	<-ctx.Done()
	log.Info().Msg("shutting down services...")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	jobs.Shutdown()
	b.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown")
	}

	log.Info().Msg("shutdown complete")
}
