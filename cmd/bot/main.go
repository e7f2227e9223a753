package main

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/telebot.v4"

	"assistant-bot/internal/assistant"
	"assistant-bot/internal/attach"
	"assistant-bot/internal/chat"
	"assistant-bot/internal/config"
	"assistant-bot/internal/handler"
	"assistant-bot/internal/logging"
	"assistant-bot/internal/provider"
	"assistant-bot/internal/storage"
	"assistant-bot/internal/thread"
	"assistant-bot/internal/user"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.toml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// Initialize logging
	logger, err := logging.Init(cfg.Logging.Level, cfg.Logging.Output)
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	logger.Info("Starting assistant bot")

	// One HTTP client for all outbound traffic, with proxy if enabled
	httpClient := &http.Client{
		Timeout: time.Duration(cfg.OpenAI.Timeout) * time.Second,
	}

	if cfg.Proxy.Enabled && cfg.Proxy.URL != "" {
		logger.Infof("Using proxy: %s", cfg.Proxy.URL)
		proxyURL, err := url.Parse(cfg.Proxy.URL)
		if err != nil {
			logger.Fatalf("Invalid proxy URL: %v", err)
		}

		httpClient.Transport = &http.Transport{
			Proxy:           http.ProxyURL(proxyURL),
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			IdleConnTimeout: 90 * time.Second,
		}
	}

	// Storage and user cache
	store, err := storage.NewStore(storage.Options{
		Type: cfg.Storage.Type,
		Path: cfg.Storage.Path,
	})
	if err != nil {
		logger.Fatalf("Failed to open storage: %v", err)
	}

	users, err := user.NewManager(store)
	if err != nil {
		logger.Fatalf("Failed to create user manager: %v", err)
	}

	// Provider clients
	apiClient := provider.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, httpClient, cfg.OpenAI.Timeout)
	assistantAPI := provider.NewAssistantClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, httpClient, cfg.OpenAI.Timeout)

	// Pipelines
	threads := thread.NewManager(users, assistantAPI, cfg.OpenAI.AssistantIDs())
	orchestrator := assistant.NewOrchestrator(assistantAPI, threads, users)
	chatService := chat.NewService(apiClient, users)
	uploader := attach.NewUploader(assistantAPI, apiClient, "")

	// Create Telegram bot
	botSettings := telebot.Settings{
		Token:     cfg.Telegram.Token,
		Poller:    &telebot.LongPoller{Timeout: time.Duration(cfg.Telegram.PollingTimeout) * time.Second},
		Client:    &http.Client{Timeout: 60 * time.Second, Transport: httpClient.Transport},
		Verbose:   cfg.Logging.Level == "debug",
		ParseMode: telebot.ModeDefault,
	}

	tgBot, err := telebot.NewBot(botSettings)
	if err != nil {
		logger.Fatalf("Failed to create Telegram bot: %v", err)
	}

	logger.Infof("Telegram bot authorized as @%s", tgBot.Me.Username)

	// Create bot handler
	botHandler := handler.NewBot(cfg, handler.Deps{
		Users:     users,
		Chat:      chatService,
		Assistant: orchestrator,
		Threads:   threads,
		Uploader:  uploader,
		Speech:    apiClient,
	})
	botHandler.SetTelegramBot(tgBot)
	botHandler.Start()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Bot is now running. Press Ctrl+C to exit.")

	// Start the bot in a goroutine
	go func() {
		tgBot.Start()
	}()

	// Wait for shutdown signal
	sig := <-sigChan
	logger.Infof("Received signal %v, shutting down...", sig)

	// Stop the bot
	tgBot.Stop()
	botHandler.Stop()

	logger.Info("Bot shutdown complete")
}
