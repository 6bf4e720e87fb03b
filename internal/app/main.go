package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"telegram-vocab-card-bot/internal/adapters"
	"telegram-vocab-card-bot/internal/bot"
	"telegram-vocab-card-bot/internal/card"
	"telegram-vocab-card-bot/internal/config"
	"telegram-vocab-card-bot/internal/scheduler"
	"telegram-vocab-card-bot/internal/storage"
	"telegram-vocab-card-bot/internal/telegram"
	"telegram-vocab-card-bot/internal/words"
)

func Main() {
	_ = godotenv.Load()

	zl, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = zl.Sync() }()
	logger := zl.Sugar()

	if err := run(logger); err != nil {
		logger.Fatalw("bot exited", "err", err)
	}
}

func run(logger *zap.SugaredLogger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warnw("timezone not found, falling back to UTC+8", "timezone", cfg.Timezone)
		loc = time.FixedZone("UTC+8", 8*3600)
	}

	deck, err := loadDeck(cfg.DeckFile)
	if err != nil {
		return fmt.Errorf("load deck: %w", err)
	}
	logger.Infow("deck loaded", "words", deck.Len())

	ctx := context.Background()
	store, cleanup, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	renderer := card.NewRenderer(card.Config{
		ChromeBin:       cfg.ChromeBin,
		ViewportWidth:   cfg.ViewportWidth,
		ViewportHeight:  cfg.ViewportHeight,
		RenderTimeoutMs: cfg.RenderTimeoutMs,
	}, logger)
	defer renderer.Close()

	tgClient := telegram.NewClient(cfg.TelegramBotToken)

	service := bot.NewService(
		logger,
		tgClient,
		adapters.NewDeckProvider(deck),
		adapters.NewCardRenderer(renderer),
		store,
		cfg.WebhookSecret,
		cfg.TriggerSecret,
		cfg.SelectionMode,
		cfg.PushTime,
		loc,
		cfg.AllowedUsernames,
	)

	if cfg.AutoSetWebhook {
		autoSetWebhook(ctx, logger, tgClient, cfg.BotBaseURL, cfg.WebhookSecret)
	}

	sched := scheduler.New(logger, loc)
	if err := sched.AddDaily("generate-card", cfg.GenerateTime, service.GenerateDaily); err != nil {
		return err
	}
	if err := sched.AddDaily("push-card", cfg.PushTime, func(ctx context.Context) error {
		_, err := service.PushDaily(ctx, false)
		return err
	}); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()
	logger.Infow("daily schedule armed", "generate", cfg.GenerateTime, "push", cfg.PushTime, "timezone", cfg.Timezone)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/webhook/", service.WebhookHandler)
	mux.HandleFunc("/trigger/daily", service.TriggerHandler)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		<-sigCh

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Errorw("shutdown error", "err", err)
		}
		close(shutdownDone)
	}()

	logger.Infow("bot server listening", "addr", httpServer.Addr)
	err = httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	<-shutdownDone
	logger.Infow("shutdown complete")
	return nil
}

func loadDeck(path string) (*words.Deck, error) {
	if path == "" {
		return words.Default()
	}
	return words.Load(path)
}

func buildStore(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (bot.StateStore, func(), error) {
	if cfg.StoreBackend == config.StoreFirestore {
		client, err := firestore.NewClient(ctx, cfg.FirestoreProject)
		if err != nil {
			return nil, nil, fmt.Errorf("create firestore client: %w", err)
		}
		cleanup := func() {
			if err := client.Close(); err != nil {
				logger.Errorw("close firestore client", "err", err)
			}
		}
		return adapters.NewFirestoreStateStore(storage.NewFirestoreStore(client)), cleanup, nil
	}

	store := storage.NewFileStore(cfg.ProgressFile, logger)
	return adapters.NewFileStateStore(store), func() {}, nil
}

func autoSetWebhook(ctx context.Context, logger *zap.SugaredLogger, client *telegram.Client, baseURL, secret string) {
	if baseURL == "" {
		logger.Warnw("AUTO_SET_WEBHOOK=true but BOT_BASE_URL is empty; skipping")
		return
	}

	webhookURL, err := telegram.BuildWebhookURL(baseURL, secret)
	if err != nil {
		logger.Errorw("build webhook URL failed", "err", err)
		return
	}

	setCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	if err := client.SetWebhook(setCtx, webhookURL); err != nil {
		logger.Errorw("set webhook failed", "err", err)
		return
	}
	logger.Infow("webhook set", "url", webhookURL)
}
