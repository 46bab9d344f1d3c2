// Command notifywatch is a terminal pop-over for warranty portal
// notifications. It keeps the feed current over the portal's push channel,
// falls back to periodic refreshes, and rings the bell on new arrivals.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nhle/warranty-notify/internal/api"
	"github.com/nhle/warranty-notify/internal/app"
	"github.com/nhle/warranty-notify/internal/cache"
	"github.com/nhle/warranty-notify/internal/model"
	"github.com/nhle/warranty-notify/internal/notify"
	"github.com/nhle/warranty-notify/internal/push"
	"github.com/nhle/warranty-notify/internal/session"
	appsync "github.com/nhle/warranty-notify/internal/sync"
)

type options struct {
	configPath string
	logPath    string
	apiBase    string
	debug      bool
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "notifywatch: reading .env: %v\n", err)
	}

	var opts options
	pflag.StringVarP(&opts.configPath, "config", "c", model.DefaultConfigPath(), "path to the YAML config file")
	pflag.StringVar(&opts.logPath, "log-file", filepath.Join(os.TempDir(), "notifywatch.log"), "where to write logs")
	pflag.StringVar(&opts.apiBase, "api", "", "override api.base_url for this run")
	pflag.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	pflag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "notifywatch: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := model.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.apiBase != "" {
		cfg.API.BaseURL = opts.apiBase
	}

	logFile, err := os.OpenFile(opts.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()

	level := slog.LevelInfo
	if opts.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	tokens, err := session.OpenTokenStore()
	if err != nil {
		return err
	}

	var snapshots notify.SnapshotCache
	if err := os.MkdirAll(filepath.Dir(cfg.Cache.Path), 0o700); err != nil {
		logger.Warn("snapshot cache disabled", "err", err)
	} else if c, err := cache.NewSQLiteCache(cfg.Cache.Path); err != nil {
		logger.Warn("snapshot cache disabled", "err", err)
	} else {
		defer c.Close()
		snapshots = c
	}

	alerter := app.NewAlerter(cfg.Display.Sound, os.Stderr)

	svc := notify.NewService(notify.Options{
		NewAPI: func(sess session.Session) notify.API {
			client := api.NewClient(cfg.API.BaseURL, sess.Token, api.WithTimeout(cfg.API.Timeout()))
			return api.NewNotifications(client)
		},
		NewListener: func(sess session.Session, onState func(push.State)) notify.Listener {
			return push.NewListener(push.Config{
				APIBase:           cfg.API.BaseURL,
				PathSuffix:        cfg.Push.PathSuffix,
				IncapableHosts:    cfg.Push.IncapableHosts,
				Disabled:          !cfg.Push.Enabled,
				Token:             sess.Token,
				ReconnectAttempts: cfg.Push.ReconnectAttempts,
				ReconnectDelay:    cfg.Push.ReconnectDelay(),
				ConnectTimeout:    cfg.API.Timeout(),
				OnState:           onState,
				Logger:            logger,
			})
		},
		Alerter: alerter,
		Cache:   snapshots,
		Logger:  logger,
	})
	defer svc.Stop()

	var poller *appsync.Poller
	if cfg.Sync.PollIntervalSec > 0 {
		poller = appsync.New(svc, time.Duration(cfg.Sync.PollIntervalSec)*time.Second, logger)
		defer poller.Stop()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := app.New(ctx, app.Deps{
		Config:     cfg,
		ConfigPath: opts.configPath,
		Service:    svc,
		Poller:     poller,
		Alerter:    alerter,
		Tokens:     tokens,
		Logger:     logger,
	})

	logger.Info("starting", "api", cfg.API.BaseURL, "push", cfg.Push.Enabled)
	p := tea.NewProgram(root, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("running UI: %w", err)
	}
	return nil
}
