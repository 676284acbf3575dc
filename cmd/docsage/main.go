// Command docsage runs the documentation-assistant orchestration service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/docsage/docsage/internal/config"
	"github.com/docsage/docsage/internal/gitops"
	"github.com/docsage/docsage/internal/history"
	"github.com/docsage/docsage/internal/llm"
	"github.com/docsage/docsage/internal/metrics"
	"github.com/docsage/docsage/internal/orchestrator"
	"github.com/docsage/docsage/internal/prompt"
	"github.com/docsage/docsage/internal/server"
	"github.com/docsage/docsage/internal/tools"
	"github.com/docsage/docsage/internal/tools/doctools"
	"github.com/docsage/docsage/internal/tools/feedbacktools"
	"github.com/docsage/docsage/internal/tools/gittools"
	"github.com/docsage/docsage/pkg/models"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	root := &cobra.Command{
		Use:           "docsage",
		Short:         "LLM orchestration service for documentation assistants",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(logLevel)
			slog.SetDefault(logger)

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, logger)
		},
	}
	root.AddCommand(serve)
	return root
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func buildProvider(cfg *config.Config) llm.Provider {
	if strings.ToLower(cfg.Provider.Name) == "mock" {
		return llm.NewMockProvider()
	}
	return llm.NewOpenAIProvider(llm.OpenAIOptions{
		APIKey:            cfg.Provider.APIKey,
		BaseURL:           cfg.Provider.BaseURL,
		Model:             cfg.Provider.Model,
		RequestTimeout:    cfg.Provider.RequestTimeout,
		StreamIdleTimeout: cfg.Provider.StreamIdleTimeout,
	})
}

func buildRegistry(cfg *config.Config) (*tools.Registry, error) {
	registry := tools.NewRegistry(tools.RegistryOptions{
		DefaultTimeout: cfg.Orch.ToolTimeout,
		Enabled:        cfg.Tools.Enabled,
	})

	if err := doctools.Register(registry); err != nil {
		return nil, fmt.Errorf("register document tools: %w", err)
	}
	if err := feedbacktools.Register(registry); err != nil {
		return nil, fmt.Errorf("register feedback tools: %w", err)
	}
	if cfg.Tools.EnableGitTools {
		err := gittools.Register(registry, gittools.Options{
			DefaultService: models.GitService(cfg.Git.DefaultService),
			GitHubToken:    cfg.Git.GitHubToken,
			ForgejoBaseURL: cfg.Git.ForgejoBaseURL,
			ForgejoCreds: gitops.Credentials{
				Token:    cfg.Git.ForgejoToken,
				Username: cfg.Git.ForgejoUsername,
				Password: cfg.Git.ForgejoPassword,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("register git tools: %w", err)
		}
	}
	return registry, nil
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider := buildProvider(cfg)
	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	var cache *llm.ResponseCache
	if cfg.Cache.TTL > 0 {
		cache = llm.NewResponseCache(cfg.Cache.TTL, cfg.Cache.MaxEntries)
	}

	counter := llm.NewTokenCounter(cfg.Provider.Model)
	templates := prompt.NewStore()

	orch := orchestrator.New(orchestrator.Options{
		Provider:          provider,
		Registry:          registry,
		Executor:          tools.NewExecutor(registry, tools.ExecutorOptions{Logger: logger}),
		Builder:           prompt.NewBuilder(templates, 0),
		Optimizer:         history.NewOptimizer(counter, 0),
		Estimator:         counter,
		Cache:             cache,
		Metrics:           metrics.New(),
		Logger:            logger,
		MaxToolIterations: cfg.Orch.MaxToolIterations,
		ProviderRetries:   cfg.Orch.ProviderRetries,
		RetryBackoff:      cfg.Orch.RetryBackoff,
		TurnTimeout:       cfg.Orch.TurnTimeout,
	})

	srv := server.New(server.Options{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Orchestrator:      orch,
		Templates:         templates,
		Registry:          registry,
		Provider:          provider,
		Logger:            logger,
		StreamIdleTimeout: cfg.Provider.StreamIdleTimeout,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	logger.Info("docsage started",
		"version", version,
		"provider", provider.Name(),
		"git_tools", cfg.Tools.EnableGitTools)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
