package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ajramos/drive-organizer/internal/classify"
	"github.com/ajramos/drive-organizer/internal/config"
	"github.com/ajramos/drive-organizer/internal/db"
	"github.com/ajramos/drive-organizer/internal/drive"
	"github.com/ajramos/drive-organizer/internal/llm"
	"github.com/ajramos/drive-organizer/internal/logging"
	"github.com/ajramos/drive-organizer/internal/services"
	"github.com/ajramos/drive-organizer/pkg/auth"
	"github.com/charmbracelet/log"
)

// globalOptions are the persistent flags shared by every command
type globalOptions struct {
	configPath  string
	credentials string
	logLevel    string
}

// app is what a command runs against
type app struct {
	cfg       *config.Config
	logger    *log.Logger
	organizer services.OrganizerService
	closers   []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// opener builds an app; needRemote is false for commands that only read
// local state, so they work without Drive credentials
type opener func(ctx context.Context, opts globalOptions, stderr io.Writer, needRemote bool) (*app, error)

func resolveConfigPath(flagValue string) string {
	if p := strings.TrimSpace(flagValue); p != "" {
		return config.ExpandPath(p)
	}
	if p := strings.TrimSpace(os.Getenv(config.EnvConfigPath)); p != "" {
		return config.ExpandPath(p)
	}
	return config.DefaultConfigPath()
}

func loadConfig(opts globalOptions) (*config.Config, error) {
	cfg, err := config.LoadConfig(resolveConfigPath(opts.configPath))
	if err != nil {
		return nil, err
	}
	if opts.credentials != "" {
		cfg.Credentials = opts.credentials
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	return cfg, nil
}

// openApp wires config, logging, persistence, Drive and the oracle
func openApp(ctx context.Context, opts globalOptions, stderr io.Writer, needRemote bool) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	lg, err := logging.New(stderr, logging.Options{Level: cfg.LogLevel, File: config.ExpandPath(cfg.LogFile)})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: lg.Logger, closers: []func() error{lg.Close}}

	store, err := db.Open(ctx, config.ExpandPath(cfg.Database.DSN))
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, store.Close)

	var remote services.RemoteStore
	if needRemote {
		credPath, tokenPath := cfg.CredentialPaths()
		svc, err := auth.NewDriveService(ctx, credPath, tokenPath)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("connect to Drive: %w", err)
		}
		remote = drive.NewClient(svc)
	}

	retry := services.RetryPolicy{MaxAttempts: cfg.Retry.MaxAttempts, BaseDelay: cfg.GetRetryBaseDelay()}
	session := services.NewSession(cfg.UserID, remote, retry, a.logger)

	oracle, err := newOracle(ctx, cfg, a.logger)
	if err != nil {
		a.logger.Warn("classification disabled", "err", err)
	}

	organizer := services.NewOrganizerService(session, services.NewRepositories(store), oracle)
	organizer.SetSampleLimit(cfg.Crawl.SampleLimit)
	a.organizer = organizer
	return a, nil
}

// newOracle returns a nil oracle, not an error, when the LLM is disabled
func newOracle(ctx context.Context, cfg *config.Config, logger *log.Logger) (services.ClassificationOracle, error) {
	if !cfg.LLM.Enabled {
		return nil, nil
	}
	provider, err := llm.NewProviderFromConfig(ctx, llm.Settings{
		Provider: cfg.LLM.Provider,
		Endpoint: cfg.LLM.Endpoint,
		Model:    cfg.LLM.Model,
		Region:   cfg.LLM.Region,
		Timeout:  cfg.GetLLMTimeout(),
	})
	if err != nil {
		return nil, err
	}
	c := classify.NewLLMClassifier(provider, cfg.LLM.GetClassifyPrompt())
	c.SetLogger(logger.WithPrefix("classify"))
	return c, nil
}
