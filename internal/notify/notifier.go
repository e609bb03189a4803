package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"orderdesk/internal/order"
)

// Sender is the outbound side of the chat transport. Implementations must
// be safe for concurrent calls to independent destinations.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Notifier fans order events out to the configured admin recipients and
// back to the submitting user. Delivery is fire-and-forget: a failed send
// is logged and never rolls back the store mutation it announces.
type Notifier struct {
	sender       Sender
	adminChatIDs []int64
	panelBaseURL string
	timeout      time.Duration
}

func NewNotifier(sender Sender, adminChatIDs []int64, panelBaseURL string, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		sender:       sender,
		adminChatIDs: adminChatIDs,
		panelBaseURL: panelBaseURL,
		timeout:      timeout,
	}
}

// OrderCreated notifies every admin recipient about a new order. Each
// recipient gets its own goroutine and deadline, so one slow or failing
// admin cannot hold up the rest. Returns once all attempts finished.
func (n *Notifier) OrderCreated(ctx context.Context, o *order.Order, submitterName string) {
	text := fmt.Sprintf(
		"New order!\n\nOrder: #%s\nUser: %s\nContent: %s\n\nPanel: %s",
		o.ID, submitterName, o.Content, n.panelBaseURL,
	)

	var wg sync.WaitGroup
	for _, adminID := range n.adminChatIDs {
		wg.Add(1)
		go func(chatID int64) {
			defer wg.Done()
			sctx, cancel := context.WithTimeout(ctx, n.timeout)
			defer cancel()
			if err := n.sender.Send(sctx, chatID, text); err != nil {
				log.Error().Err(err).
					Int64("admin_chat_id", chatID).
					Str("order_id", o.ID).
					Msg("admin notification delivery failed")
			}
		}(adminID)
	}
	wg.Wait()
}

// AdminReplied delivers one reply notification to the originating user.
func (n *Notifier) AdminReplied(ctx context.Context, receipt *order.ReplyReceipt) {
	text := fmt.Sprintf("Support reply to order #%s:\n\n%s", receipt.OrderID, receipt.Content)

	sctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.sender.Send(sctx, receipt.ChatID, text); err != nil {
		log.Error().Err(err).
			Int64("chat_id", receipt.ChatID).
			Str("order_id", receipt.OrderID).
			Msg("reply delivery failed")
	}
}
