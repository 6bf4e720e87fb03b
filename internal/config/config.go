package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreFile      = "file"
	StoreFirestore = "firestore"
)

type Config struct {
	Port             string
	TelegramBotToken string
	WebhookSecret    string
	TriggerSecret    string
	AllowedUsernames []string

	StoreBackend     string
	ProgressFile     string
	DeckFile         string
	FirestoreProject string

	GenerateTime  string
	PushTime      string
	Timezone      string
	SelectionMode string

	AutoSetWebhook bool
	BotBaseURL     string

	ChromeBin       string
	ViewportWidth   int
	ViewportHeight  int
	RenderTimeoutMs int
}

func Load() (Config, error) {
	autoSetWebhook, err := parseBoolEnv("AUTO_SET_WEBHOOK", false)
	if err != nil {
		return Config{}, err
	}

	viewportWidth, err := parseIntEnv("CARD_VIEWPORT_WIDTH", 760)
	if err != nil {
		return Config{}, err
	}
	viewportHeight, err := parseIntEnv("CARD_VIEWPORT_HEIGHT", 900)
	if err != nil {
		return Config{}, err
	}
	renderTimeoutMs, err := parseIntEnv("CARD_RENDER_TIMEOUT_MS", 20000)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:             getEnv("PORT", "8080"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		WebhookSecret:    os.Getenv("WEBHOOK_SECRET"),
		TriggerSecret:    os.Getenv("TRIGGER_SECRET"),
		AllowedUsernames: parseAllowedUsernamesEnv("ALLOWED_TELEGRAM_USERNAMES"),
		StoreBackend:     getEnv("STORE_BACKEND", StoreFile),
		ProgressFile:     getEnv("PROGRESS_FILE", "data/progress.json"),
		DeckFile:         getEnv("DECK_FILE", ""),
		FirestoreProject: os.Getenv("FIRESTORE_PROJECT_ID"),
		GenerateTime:     getEnv("DAILY_GENERATE_TIME", "07:30"),
		PushTime:         getEnv("DAILY_PUSH_TIME", "08:00"),
		Timezone:         getEnv("BOT_TIMEZONE", "Asia/Shanghai"),
		SelectionMode:    getEnv("SELECTION_MODE", "random"),
		AutoSetWebhook:   autoSetWebhook,
		BotBaseURL:       getEnv("BOT_BASE_URL", ""),
		ChromeBin:        getEnv("CHROME_BIN", ""),
		ViewportWidth:    viewportWidth,
		ViewportHeight:   viewportHeight,
		RenderTimeoutMs:  renderTimeoutMs,
	}

	if cfg.TelegramBotToken == "" {
		return Config{}, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.WebhookSecret == "" {
		return Config{}, fmt.Errorf("WEBHOOK_SECRET is required")
	}
	if cfg.TriggerSecret == "" {
		return Config{}, fmt.Errorf("TRIGGER_SECRET is required")
	}
	if cfg.StoreBackend != StoreFile && cfg.StoreBackend != StoreFirestore {
		return Config{}, fmt.Errorf("invalid STORE_BACKEND %q: expected %q or %q", cfg.StoreBackend, StoreFile, StoreFirestore)
	}
	if cfg.StoreBackend == StoreFirestore && cfg.FirestoreProject == "" {
		return Config{}, fmt.Errorf("FIRESTORE_PROJECT_ID is required when STORE_BACKEND=firestore")
	}
	if cfg.SelectionMode != "random" && cfg.SelectionMode != "sequential" {
		return Config{}, fmt.Errorf("invalid SELECTION_MODE %q: expected \"random\" or \"sequential\"", cfg.SelectionMode)
	}
	if _, err := time.Parse("15:04", cfg.GenerateTime); err != nil {
		return Config{}, fmt.Errorf("invalid DAILY_GENERATE_TIME %q: expected HH:MM", cfg.GenerateTime)
	}
	if _, err := time.Parse("15:04", cfg.PushTime); err != nil {
		return Config{}, fmt.Errorf("invalid DAILY_PUSH_TIME %q: expected HH:MM", cfg.PushTime)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return fallback
}

func parseBoolEnv(key string, fallback bool) (bool, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return v, nil
}

func parseIntEnv(key string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return v, nil
}

func parseAllowedUsernamesEnv(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}

	dedup := make(map[string]struct{})
	out := make([]string, 0)
	for _, token := range strings.Split(raw, ",") {
		username := normalizeUsername(token)
		if username == "" {
			continue
		}
		if _, exists := dedup[username]; exists {
			continue
		}
		dedup[username] = struct{}{}
		out = append(out, username)
	}

	return out
}

func normalizeUsername(raw string) string {
	username := strings.TrimSpace(strings.ToLower(raw))
	username = strings.TrimPrefix(username, "@")
	return username
}
