package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"orderdesk/internal/notify"
	"orderdesk/internal/order"
	"orderdesk/internal/telegram"
)

const (
	callbackSubmit   = "submit"
	callbackMyOrders = "my_orders"
	callbackInfo     = "info"
)

// Transport is what the dispatcher needs from the chat channel: replies to
// the user and callback acknowledgements.
type Transport interface {
	Send(ctx context.Context, chatID int64, text string) error
	AnswerCallbackQuery(ctx context.Context, callbackID string) error
}

// Deduper guards against redelivered updates.
type Deduper interface {
	MarkUpdateSeen(ctx context.Context, updateID int64) (bool, error)
}

// Dispatcher classifies inbound updates against the stored user state and
// drives the order service.
type Dispatcher struct {
	svc       *order.Service
	notifier  *notify.Notifier
	transport Transport
	dedupe    Deduper
}

func NewDispatcher(svc *order.Service, notifier *notify.Notifier, transport Transport, dedupe Deduper) *Dispatcher {
	return &Dispatcher{svc: svc, notifier: notifier, transport: transport, dedupe: dedupe}
}

// HandleUpdate processes one update end to end. Errors are handled in
// place (user prompts, logs); nothing propagates to the poll loop.
func (d *Dispatcher) HandleUpdate(ctx context.Context, up telegram.Update) {
	if d.dedupe != nil {
		fresh, err := d.dedupe.MarkUpdateSeen(ctx, up.UpdateID)
		if err != nil {
			// The submission path has its own atomicity guard, so a dedupe
			// outage degrades to extra generic replies at worst.
			log.Warn().Err(err).Int64("update_id", up.UpdateID).Msg("update dedupe unavailable")
		} else if !fresh {
			log.Debug().Int64("update_id", up.UpdateID).Msg("duplicate update skipped")
			return
		}
	}

	switch {
	case up.CallbackQuery != nil:
		d.handleCallback(ctx, up.CallbackQuery)
	case up.Message != nil:
		d.handleMessage(ctx, up.Message)
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, msg *telegram.IncomingMessage) {
	if msg.From == nil {
		return
	}

	u, err := d.svc.ObserveUser(ctx, profileFrom(msg.From, msg.Chat.ID))
	if err != nil {
		log.Error().Err(err).Int64("telegram_id", msg.From.ID).Msg("observe user failed")
		return
	}

	if u.State == order.StateBlocked {
		log.Info().Int64("telegram_id", msg.From.ID).Msg("message from blocked user ignored")
		return
	}

	if strings.HasPrefix(msg.Text, "/start") {
		d.reply(ctx, msg.Chat.ID, welcomeText(u.FirstName))
		return
	}

	o, err := d.svc.SubmitOrder(ctx, msg.From.ID, payloadFrom(msg))
	switch {
	case err == nil:
		d.reply(ctx, msg.Chat.ID, fmt.Sprintf("Your order #%s has been recorded. Please wait for a reply.", o.ID))
		d.notifier.OrderCreated(ctx, o, u.FirstName)

	case errors.Is(err, order.ErrNotAwaiting):
		// Plain chatter outside a submission window; point at the menu.
		d.reply(ctx, msg.Chat.ID, "Use /start to see the available actions.")

	case errors.Is(err, order.ErrEmptyPayload):
		d.reply(ctx, msg.Chat.ID, "Nothing usable received. Please send text, a document or a photo.")

	case errors.Is(err, order.ErrConflict):
		d.reply(ctx, msg.Chat.ID, "Your previous submission is still being processed. Please try again.")

	case errors.Is(err, order.ErrBlocked):
		log.Info().Int64("telegram_id", msg.From.ID).Msg("message from blocked user ignored")

	default:
		log.Error().Err(err).Int64("telegram_id", msg.From.ID).Msg("submit order failed")
		d.reply(ctx, msg.Chat.ID, "Something went wrong. Please try again.")
	}
}

func (d *Dispatcher) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	defer func() {
		if err := d.transport.AnswerCallbackQuery(ctx, cb.ID); err != nil {
			log.Warn().Err(err).Str("callback_id", cb.ID).Msg("answer callback failed")
		}
	}()

	if cb.From == nil || cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	u, err := d.svc.ObserveUser(ctx, profileFrom(cb.From, chatID))
	if err != nil {
		log.Error().Err(err).Int64("telegram_id", cb.From.ID).Msg("observe user failed")
		return
	}
	if u.State == order.StateBlocked {
		log.Info().Int64("telegram_id", cb.From.ID).Str("data", cb.Data).
			Msg("callback from blocked user ignored")
		return
	}

	switch cb.Data {
	case callbackSubmit:
		err := d.svc.BeginSubmission(ctx, cb.From.ID)
		switch {
		case err == nil:
			d.reply(ctx, chatID, "Please write your request or send a file.\n\n(Text, photo or document are all fine.)")
		case errors.Is(err, order.ErrBlocked):
			log.Info().Int64("telegram_id", cb.From.ID).Msg("blocked user pressed submit")
		case errors.Is(err, order.ErrConflict):
			d.reply(ctx, chatID, "Please try again.")
		default:
			log.Error().Err(err).Int64("telegram_id", cb.From.ID).Msg("begin submission failed")
			d.reply(ctx, chatID, "Something went wrong. Please try again.")
		}

	case callbackMyOrders:
		orders, err := d.svc.ListOrders(ctx, cb.From.ID)
		if err != nil {
			log.Error().Err(err).Int64("telegram_id", cb.From.ID).Msg("list orders failed")
			d.reply(ctx, chatID, "Something went wrong. Please try again.")
			return
		}
		d.reply(ctx, chatID, ordersText(orders))

	case callbackInfo:
		d.reply(ctx, chatID, infoText())

	default:
		log.Warn().Str("data", cb.Data).Msg("unknown callback action")
	}
}

func (d *Dispatcher) reply(ctx context.Context, chatID int64, text string) {
	if err := d.transport.Send(ctx, chatID, text); err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("reply delivery failed")
	}
}

func profileFrom(from *telegram.ChatUser, chatID int64) order.Profile {
	return order.Profile{
		TelegramID: from.ID,
		FirstName:  from.FirstName,
		LastName:   from.LastName,
		Username:   from.Username,
		ChatID:     chatID,
	}
}

func payloadFrom(msg *telegram.IncomingMessage) order.Payload {
	p := order.Payload{Text: msg.Text}
	if msg.Document != nil {
		p.Document = &order.DocumentRef{FileID: msg.Document.FileID, Name: msg.Document.FileName}
	}
	for _, ph := range msg.Photo {
		p.Photos = append(p.Photos, order.PhotoRef{FileID: ph.FileID, Width: ph.Width, Height: ph.Height})
	}
	return p
}

func welcomeText(firstName string) string {
	return fmt.Sprintf(
		"Hello %s!\n\nWelcome to the order desk.\n\nActions:\n- submit: send a new request\n- my_orders: list your orders\n- info: about this service",
		firstName,
	)
}

func ordersText(orders []order.Order) string {
	if len(orders) == 0 {
		return "You have no orders yet."
	}
	var b strings.Builder
	b.WriteString("Your orders:\n\n")
	for i, o := range orders {
		fmt.Fprintf(&b, "%d. Order #%s\nStatus: %s\nDate: %s\n\n", i+1, o.ID, o.Status, o.CreatedAt.Format("2006-01-02"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func infoText() string {
	return "Order desk\n\n- submit requests with text and files\n- track order status\n- chat directly with support"
}
