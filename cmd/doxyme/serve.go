package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/doxyme-slack-calling/internal/config"
	httpapi "github.com/tbourn/doxyme-slack-calling/internal/http"
	"github.com/tbourn/doxyme-slack-calling/internal/http/handlers"
	"github.com/tbourn/doxyme-slack-calling/internal/notify"
	"github.com/tbourn/doxyme-slack-calling/internal/observability"
	"github.com/tbourn/doxyme-slack-calling/internal/repo"
	"github.com/tbourn/doxyme-slack-calling/internal/services"
	"github.com/tbourn/doxyme-slack-calling/internal/slackauth"
	"github.com/tbourn/doxyme-slack-calling/internal/store"
	"github.com/tbourn/doxyme-slack-calling/internal/sysutil"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Slack HTTP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

// app is everything serve wires together, split out so tests can build it
// without a listener.
type app struct {
	engine   *gin.Engine
	tasks    *services.TaskGroup
	receipts *repo.Receipts
	db       *gorm.DB
}

func buildApp(cfg config.Config, logger zerolog.Logger) (*app, error) {
	dirs := store.NewDirResolver(cfg.DataDir)
	mappings := store.New(dirs)

	dbPath, err := eventsDBPath(cfg, dirs)
	if err != nil {
		logger.Warn().Err(err).Msg("no writable data dir; event receipts kept in memory")
		dbPath = repo.MemoryDSN
	}
	db, err := repo.OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, err
	}
	receipts := repo.NewReceipts(db, cfg.EventDedupTTL)

	httpClient := &http.Client{Timeout: cfg.Slack.HTTPTimeout}
	notifier := notify.New(
		notify.NewClient(cfg.Slack.BotToken, cfg.Slack.APIURL, httpClient),
		notify.WithMaxAttempts(cfg.Slack.MaxAttempts),
	)

	commands := services.NewCommandService(mappings, notifier)
	commands.Domain = cfg.RoomDomain
	commands.SetupCommand = cfg.Slack.SetupCommand
	commands.InviteCommand = cfg.Slack.InviteCommand

	tasks := &services.TaskGroup{}
	sh := &handlers.SlackHandler{
		AppName:   cfg.AppName,
		Verifier:  slackauth.NewVerifier(cfg.Slack.SigningSecret, cfg.Slack.ReplayWindow),
		Commands:  commands,
		Events:    services.NewEventService(receipts, mappings),
		Responder: notify.NewResponder(httpClient),
		Tasks:     tasks,
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, sh, cfg)

	logger.Info().
		Str("db", dbPath).
		Str("path", cfg.Slack.Path).
		Str("setup_command", cfg.Slack.SetupCommand).
		Str("invite_command", cfg.Slack.InviteCommand).
		Msg("app wired")
	return &app{engine: r, tasks: tasks, receipts: receipts, db: db}, nil
}

// eventsDBPath is EVENTS_DB_PATH when set, else events.db beside the mapping
// document.
func eventsDBPath(cfg config.Config, dirs *store.DirResolver) (string, error) {
	if cfg.EventsDBPath != "" {
		return cfg.EventsDBPath, nil
	}
	dir, err := dirs.Resolve()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "events.db"), nil
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := sysutil.SetupLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty, cfg.AppName)
	ctx = logger.WithContext(ctx)

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		logger.Error().Err(err).Msg("otel setup failed; continuing without tracing")
		shutdownOTel = func(context.Context) error { return nil }
	}

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB(logger, a.db)

	go purgeLoop(ctx, a.receipts, cfg.EventDedupTTL)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           a.engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("version", version).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(sctx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if err := a.tasks.WaitContext(sctx); err != nil {
		logger.Warn().Err(err).Int("running", a.tasks.Running()).Msg("deferred tasks still running at exit")
	}
	if err := shutdownOTel(sctx); err != nil {
		logger.Error().Err(err).Msg("otel shutdown")
	}
	return nil
}

// purgeLoop drops expired event receipts once per ttl until ctx ends.
func purgeLoop(ctx context.Context, receipts *repo.Receipts, ttl time.Duration) {
	t := time.NewTicker(ttl)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := receipts.Purge(ctx)
			l := zerolog.Ctx(ctx)
			if err != nil {
				l.Warn().Err(err).Msg("receipt purge failed")
				continue
			}
			l.Debug().Int64("purged", n).Msg("expired receipts purged")
		}
	}
}

func closeDB(logger zerolog.Logger, db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Warn().Err(err).Msg("close events db")
	}
}
