package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lucasantoro97/postino/internal/agent"
	"github.com/lucasantoro97/postino/internal/calendar"
	"github.com/lucasantoro97/postino/internal/credential"
	"github.com/lucasantoro97/postino/internal/llm"
	"github.com/lucasantoro97/postino/internal/mail"
	"github.com/lucasantoro97/postino/internal/model"
	"github.com/lucasantoro97/postino/internal/pipeline"
	"github.com/lucasantoro97/postino/internal/reconcile"
	"github.com/lucasantoro97/postino/internal/schedule"
	"github.com/lucasantoro97/postino/internal/store"
)

func main() {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to the YAML config file")
	authGoogle := flag.String("auth-google", "", "run the one-time Google Calendar auth flow with the given client-secret file, then exit")
	flag.Parse()

	if err := run(*configPath, *authGoogle); err != nil {
		fmt.Fprintln(os.Stderr, "postino:", err)
		os.Exit(1)
	}
}

func run(configPath, clientSecretPath string) error {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if clientSecretPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Calendar.TokenPath), 0o700); err != nil {
			return fmt.Errorf("creating token directory: %w", err)
		}
		return calendar.RunAuthFlow(context.Background(), clientSecretPath, cfg.Calendar.TokenPath)
	}

	if err := resolveCredentials(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync()

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer st.Close()

	gw := mail.NewIMAPGateway(cfg.IMAP, log)
	llmClient := buildLLM(cfg, log)
	calClient := buildCalendar(cfg, log)

	pipe := pipeline.New(pipeline.Deps{
		Cfg:      cfg,
		Store:    st,
		Mail:     gw,
		LLM:      llmClient,
		Calendar: calClient,
		Log:      log,
	})
	reporter := schedule.NewReporter(cfg, st, gw, log)
	reconciler := reconcile.New(cfg, st, gw, log)
	scheduler, err := schedule.New(cfg, st, reporter, reconciler.Run, log)
	if err != nil {
		return fmt.Errorf("building scheduler: %w", err)
	}

	a := agent.New(agent.Deps{
		Cfg:       cfg,
		Store:     st,
		Mail:      gw,
		Pipeline:  pipe,
		Scheduler: scheduler,
		Log:       log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("agent starting",
		zap.String("imap_host", cfg.IMAP.Host),
		zap.String("inbox", cfg.IMAP.FolderInbox),
		zap.Int("poll_seconds", cfg.PollSeconds))

	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("agent stopped")
	return nil
}

// resolveCredentials fills the IMAP password and LLM API key from the
// system keyring when the config and environment left them empty.
func resolveCredentials(cfg *model.Config) error {
	password, err := credential.Resolve(cfg.IMAP.Password, credential.KeyIMAPPassword)
	if err != nil {
		return fmt.Errorf("resolving imap password: %w", err)
	}
	cfg.IMAP.Password = password

	apiKey, err := credential.Resolve(cfg.LLM.APIKey, credential.KeyLLMAPIKey)
	if err != nil {
		return fmt.Errorf("resolving llm api key: %w", err)
	}
	cfg.LLM.APIKey = apiKey
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

// buildLLM prefers the OpenRouter client and falls back to the offline
// heuristic when no API key or model is configured.
func buildLLM(cfg *model.Config, log *zap.Logger) llm.Client {
	if cfg.LLM.APIKey != "" && cfg.LLM.Model != "" {
		return llm.NewOpenRouter(cfg.LLM, log)
	}
	log.Warn("no llm configured, using heuristic classification")
	return llm.NewHeuristic()
}

// buildCalendar returns nil when no token file exists; the pipeline then
// skips calendar event creation.
func buildCalendar(cfg *model.Config, log *zap.Logger) calendar.Client {
	if _, err := os.Stat(cfg.Calendar.TokenPath); err != nil {
		log.Info("no calendar token found, calendar actions disabled",
			zap.String("token_path", cfg.Calendar.TokenPath))
		return nil
	}
	return calendar.NewGoogle(cfg.Calendar)
}
