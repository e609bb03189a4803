package bot

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"orderdesk/internal/telegram"
)

// UpdateSource is the inbound side of the chat transport.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
}

// Poller long-polls the transport and feeds each update to the dispatcher.
type Poller struct {
	source      UpdateSource
	dispatcher  *Dispatcher
	pollTimeout time.Duration
}

func NewPoller(source UpdateSource, dispatcher *Dispatcher, pollTimeout time.Duration) *Poller {
	return &Poller{source: source, dispatcher: dispatcher, pollTimeout: pollTimeout}
}

// Run blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	var offset int64
	for {
		if ctx.Err() != nil {
			return
		}

		updates, err := p.source.GetUpdates(ctx, offset, p.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("poll failed")
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, up := range updates {
			if up.UpdateID >= offset {
				offset = up.UpdateID + 1
			}
			p.dispatcher.HandleUpdate(ctx, up)
		}
	}
}
