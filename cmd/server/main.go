package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"orderdesk/internal/bot"
	"orderdesk/internal/config"
	"orderdesk/internal/db"
	"orderdesk/internal/httpapi"
	"orderdesk/internal/logger"
	"orderdesk/internal/notify"
	"orderdesk/internal/order"
	"orderdesk/internal/store/rabbitmq"
	"orderdesk/internal/store/redisstore"
	"orderdesk/internal/telegram"
)

func main() {
	logger.Init()
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)
	repo := order.NewRepo(gdb)
	svc := order.NewService(repo)

	transport := telegram.NewClient(cfg.BotAPIBaseURL, cfg.BotToken)

	// With a broker configured, notifications are queued and delivered by
	// cmd/notifier; otherwise they go straight to the transport.
	var sender notify.Sender = transport
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatal().Err(err).Msg("rabbit connect failed")
		}
		defer pub.Close()
		sender = pub
	}
	notifier := notify.NewNotifier(sender, cfg.AdminChatIDs, cfg.PanelBaseURL, cfg.NotifyTimeout)

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.BotToken != "" {
		dispatcher := bot.NewDispatcher(svc, notifier, transport, rds)
		poller := bot.NewPoller(transport, dispatcher, cfg.PollTimeout)
		go poller.Run(ctx)
		log.Info().Msg("bot poller started")
	} else {
		log.Warn().Msg("TELEGRAM_BOT_TOKEN not set, bot poller disabled")
	}

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpapi.NewRouter(svc, notifier),
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
}
