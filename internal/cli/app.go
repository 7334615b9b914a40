package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/harun/stepwise/internal/config"
	"github.com/harun/stepwise/internal/logger"
	"github.com/harun/stepwise/pkg/archive"
	"github.com/harun/stepwise/pkg/session"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app holds what every command needs: configuration, logging and the stores.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	archive  *archive.SQLiteStore
	sessions *session.SQLiteStore
}

// openApp loads and validates the configuration, sets up logging and opens
// the archive and session databases under the data directory.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if errs := config.NewValidator().ValidateConfig(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.File = cfg.Logging.File
	logCfg.Console = cfg.Logging.Console
	logCfg.Redaction = cfg.Logging.Redaction
	logCfg.Out = cmd.ErrOrStderr()
	l, err := logger.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	store, err := archive.NewSQLiteStore(archive.Config{
		DBPath: cfg.ArchivePath(),
		Logger: l.Component("archive"),
	})
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	sessions, err := session.NewSQLiteStore(session.Config{
		DBPath:      cfg.SessionsPath(),
		Archive:     store,
		MaxSessions: cfg.Archive.MaxSessions,
		Logger:      l.Component("session"),
	})
	if err != nil {
		store.Close()
		l.Close()
		return nil, fmt.Errorf("failed to open sessions: %w", err)
	}

	return &app{
		cfg:      cfg,
		log:      l,
		archive:  store,
		sessions: sessions,
	}, nil
}

// logger returns a component logger.
func (a *app) logger(component string) zerolog.Logger {
	return a.log.Component(component)
}

// Close releases the stores and the log file.
func (a *app) Close() error {
	var errs []error
	if err := a.sessions.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.archive.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.log.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
