package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"orderdesk/internal/config"
	"orderdesk/internal/logger"
	"orderdesk/internal/store/rabbitmq"
	"orderdesk/internal/telegram"
)

func notifierConcurrency() int {
	v := os.Getenv("NOTIFIER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	logger.Init()
	cfg := config.Load()

	if cfg.RabbitURL == "" {
		log.Fatal().Msg("RABBIT_URL is required for the notifier")
	}
	if cfg.BotToken == "" {
		log.Fatal().Msg("TELEGRAM_BOT_TOKEN is required for the notifier")
	}

	transport := telegram.NewClient(cfg.BotAPIBaseURL, cfg.BotToken)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit dial failed")
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit channel failed")
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(cfg.RabbitQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": cfg.RabbitQueue + ".dlq",
	}); err != nil {
		log.Fatal().Err(err).Msg("queue declare failed")
	}

	concurrency := notifierConcurrency()
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal().Err(err).Msg("qos failed")
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("consume failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("queue", cfg.RabbitQueue).Int("concurrency", concurrency).Msg("notifier started")

	deliveries := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range deliveries {
				var n rabbitmq.Notification
				if err := json.Unmarshal(d.Body, &n); err != nil || n.ChatID == 0 {
					log.Error().Err(err).Int("worker", workerID).Msg("bad notification payload")
					_ = d.Nack(false, false)
					continue
				}

				sctx, cancel := context.WithTimeout(ctx, cfg.NotifyTimeout)
				err := transport.Send(sctx, n.ChatID, n.Text)
				cancel()
				if err != nil {
					log.Error().Err(err).Int("worker", workerID).Int64("chat_id", n.ChatID).
						Msg("notification delivery failed")
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Error().Err(err).Int("worker", workerID).Msg("ack failed")
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("notifier shutting down")
			close(deliveries)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Warn().Msg("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			deliveries <- d
		}
	}
}
