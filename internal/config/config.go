package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	BotToken      string
	BotAPIBaseURL string
	PollTimeout   time.Duration
	AdminChatIDs  []int64
	PanelBaseURL  string
	NotifyTimeout time.Duration

	// rabbitMQ (empty RabbitURL disables the queue, notifications go
	// straight to the transport)
	RabbitURL   string
	RabbitQueue string

	HTTPAddr string
}

func Load() Config {
	_ = godotenv.Load()

	// DSN demo:
	// app:apppass@tcp(127.0.0.1:3306)/orderdesk?charset=utf8mb4&parseTime=true&loc=Local
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = "app:apppass@tcp(127.0.0.1:3306)/orderdesk?charset=utf8mb4&parseTime=true&loc=Local"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "127.0.0.1:6379"
	}

	redisDB := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			redisDB = n
		}
	}

	botBaseURL := os.Getenv("BOT_API_BASE_URL")
	if botBaseURL == "" {
		botBaseURL = "https://api.telegram.org"
	}

	pollTimeout := 30 * time.Second
	if v := os.Getenv("BOT_POLL_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			pollTimeout = time.Duration(n) * time.Second
		}
	}

	notifyTimeout := 10 * time.Second
	if v := os.Getenv("NOTIFY_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			notifyTimeout = time.Duration(n) * time.Second
		}
	}

	rabbitQueue := os.Getenv("RABBIT_QUEUE")
	if rabbitQueue == "" {
		rabbitQueue = "order_notifications"
	}

	httpAddr := os.Getenv("HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	panelBaseURL := os.Getenv("PANEL_BASE_URL")
	if panelBaseURL == "" {
		panelBaseURL = "http://localhost:8080"
	}

	return Config{
		DBDSN: dsn,

		RedisAddr:     redisAddr,
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,

		BotToken:      os.Getenv("TELEGRAM_BOT_TOKEN"),
		BotAPIBaseURL: botBaseURL,
		PollTimeout:   pollTimeout,
		AdminChatIDs:  parseAdminChatIDs(os.Getenv("ADMIN_CHAT_IDS")),
		PanelBaseURL:  panelBaseURL,
		NotifyTimeout: notifyTimeout,

		RabbitURL:   os.Getenv("RABBIT_URL"),
		RabbitQueue: rabbitQueue,

		HTTPAddr: httpAddr,
	}
}

// parseAdminChatIDs splits a comma-separated ADMIN_CHAT_IDS value, skipping
// blanks and anything that does not parse as a chat id.
func parseAdminChatIDs(raw string) []int64 {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
