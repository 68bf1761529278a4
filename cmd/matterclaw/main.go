package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matterclaw/matterclaw/pkg/backends"
	"github.com/matterclaw/matterclaw/pkg/bot"
	"github.com/matterclaw/matterclaw/pkg/config"
	"github.com/matterclaw/matterclaw/pkg/dispatcher"
	"github.com/matterclaw/matterclaw/pkg/logger"
	"github.com/matterclaw/matterclaw/pkg/platform"
	"github.com/matterclaw/matterclaw/pkg/state"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	shutdownGrace := flag.Duration("shutdown-grace", 0, "how long to wait for in-flight commands on shutdown")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.FatalCF("main", "Failed to load config", map[string]interface{}{
			"path":  *configPath,
			"error": err.Error(),
		})
	}
	if err := cfg.Validate(); err != nil {
		logger.FatalCF("main", "Invalid config", map[string]interface{}{
			"error": err.Error(),
		})
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.FileEnabled {
		if err := logger.EnableFileLogging(cfg.Logging.FilePath, cfg.Logging.MaxSizeMB); err != nil {
			logger.WarnCF("main", "File logging disabled", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	httpClient := &http.Client{
		Timeout: time.Duration(cfg.Mattermost.TimeoutSeconds) * time.Second,
	}

	adapters := buildAdapters(cfg, httpClient)

	client := platform.NewClient(cfg.Mattermost, httpClient)
	d := dispatcher.New(cfg.Mattermost.Username, state.NewStore(), adapters, client, cfg.Errors.Verbose)
	b := bot.New(client, d, *shutdownGrace)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.InfoCF("main", "Starting matterclaw", map[string]interface{}{
		"server": cfg.Mattermost.ServerURL,
	})
	if err := b.Run(ctx); err != nil {
		logger.ErrorCF("main", "Bot exited with error", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}
	logger.InfoC("main", "Shutdown complete")
}

// buildAdapters constructs an adapter per backend whose credentials are
// present. Missing credentials leave the adapter nil and its commands
// disabled.
func buildAdapters(cfg *config.Config, httpClient *http.Client) dispatcher.Adapters {
	var adapters dispatcher.Adapters

	if cfg.OpenAI.APIKey != "" {
		oa := backends.NewOpenAIBackend(cfg.OpenAI, httpClient)
		adapters.OneShot = oa
		adapters.Chat = oa
	}
	if cfg.Anthropic.APIKey != "" {
		adapters.Claude = backends.NewClaudeBackend(cfg.Anthropic, httpClient)
	}
	if cfg.Talk.Endpoint != "" {
		adapters.Talk = backends.NewTalkBackend(cfg.Talk, httpClient)
	}
	if cfg.Image.APIKey != "" || cfg.Image.Endpoint != "" {
		img, err := backends.NewImageBackend(cfg.Image, httpClient)
		if err != nil {
			logger.FatalCF("main", "Failed to build image backend", map[string]interface{}{
				"error": err.Error(),
			})
		}
		adapters.Image = img
	}

	return adapters
}
