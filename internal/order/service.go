package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"orderdesk/internal/common"
)

// Service owns the conversation state machine and the order/thread
// lifecycle. Raw storage errors never leave this package: everything is
// mapped onto the sentinel errors in errors.go.
type Service struct {
	repo *Repo
}

func NewService(repo *Repo) *Service {
	return &Service{repo: repo}
}

// Profile carries the transport-supplied identity fields of one user.
type Profile struct {
	TelegramID int64
	FirstName  string
	LastName   string
	Username   string
	ChatID     int64
}

// ObserveUser upserts the user record from an observed interaction. New
// users start in the normal state; existing users keep whatever state the
// machine last wrote, only the profile fields and delivery address are
// re-synced.
func (s *Service) ObserveUser(ctx context.Context, p Profile) (*User, error) {
	u := &User{
		TelegramID: p.TelegramID,
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		Username:   p.Username,
		ChatID:     p.ChatID,
		State:      StateNormal,
	}
	if err := s.repo.UpsertUser(ctx, u); err != nil {
		return nil, fmt.Errorf("observe user %d: %w", p.TelegramID, err)
	}
	return s.getUser(ctx, p.TelegramID)
}

// BeginSubmission arms the intake engine: the user's next qualifying
// message becomes an order. Calling it while already armed is a no-op.
func (s *Service) BeginSubmission(ctx context.Context, telegramID int64) error {
	swapped, err := s.repo.CompareAndSetUserState(ctx, telegramID, StateNormal, StateAwaitingSubmission)
	if err != nil {
		return fmt.Errorf("begin submission for %d: %w", telegramID, err)
	}
	if swapped {
		return nil
	}

	u, err := s.getUser(ctx, telegramID)
	if err != nil {
		return err
	}
	switch u.State {
	case StateAwaitingSubmission:
		return nil
	case StateBlocked:
		return ErrBlocked
	case StateNormal:
		return ErrConflict
	default:
		log.Error().Int64("telegram_id", telegramID).Str("state", string(u.State)).
			Msg("user has unknown state")
		return ErrIntegrity
	}
}

// SubmitOrder is the Order Intake Engine. It only fires for users in
// awaiting_submission; the create-order/reset-state sequence is a single
// atomic unit, retried once when a concurrent transition is detected.
func (s *Service) SubmitOrder(ctx context.Context, telegramID int64, p Payload) (*Order, error) {
	u, err := s.getUser(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	switch u.State {
	case StateAwaitingSubmission:
	case StateBlocked:
		return nil, ErrBlocked
	case StateNormal:
		return nil, ErrNotAwaiting
	default:
		log.Error().Int64("telegram_id", telegramID).Str("state", string(u.State)).
			Msg("user has unknown state")
		return nil, ErrIntegrity
	}

	content, fileID, err := p.Extract()
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		id, err := common.NewULID()
		if err != nil {
			return nil, fmt.Errorf("submit order: %w", err)
		}

		o := &Order{
			ID:      id,
			UserID:  telegramID,
			Content: content,
			FileID:  fileID,
			Status:  StatusPending,
		}
		first := &Message{
			Sender:  SenderUser,
			Content: content,
			FileID:  fileID,
		}

		err = s.repo.CreateSubmission(ctx, o, first)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("submit order for %d: %w", telegramID, err)
		}

		// Lost the state race. If the user is somehow armed again, one
		// more try; otherwise another submission is already in flight.
		u, getErr := s.getUser(ctx, telegramID)
		if getErr != nil || u.State != StateAwaitingSubmission {
			return nil, ErrConflict
		}
	}
	return nil, ErrConflict
}

func (s *Service) ListOrders(ctx context.Context, telegramID int64) ([]Order, error) {
	orders, err := s.repo.ListOrdersByUser(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("list orders for %d: %w", telegramID, err)
	}
	return orders, nil
}

func (s *Service) ListAllOrders(ctx context.Context) ([]Order, error) {
	orders, err := s.repo.ListAllOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list all orders: %w", err)
	}
	return orders, nil
}

func (s *Service) GetOrderWithConversation(ctx context.Context, orderID string) (*Order, *Conversation, error) {
	o, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("get order %s: %w", orderID, err)
	}

	conv, err := s.repo.GetConversationByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Error().Str("order_id", orderID).Msg("order exists without conversation")
			return nil, nil, ErrIntegrity
		}
		return nil, nil, fmt.Errorf("get conversation for %s: %w", orderID, err)
	}
	return o, conv, nil
}

// ReplyReceipt tells the caller where to deliver an accepted admin reply.
// Duplicate marks a retried call that appended nothing; the user was
// already notified the first time around.
type ReplyReceipt struct {
	OrderID   string
	UserID    int64
	ChatID    int64
	Content   string
	Duplicate bool
}

// ReplyToOrder is the Reply Router: append the admin message, promote the
// order to replied and resolve the destination chat. An optional
// idempotency key makes retried calls append-once.
func (s *Service) ReplyToOrder(ctx context.Context, orderID, text string, idempotencyKey *string) (*ReplyReceipt, error) {
	o, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reply to %s: %w", orderID, err)
	}

	msg := &Message{
		Sender:         SenderAdmin,
		Content:        text,
		IdempotencyKey: idempotencyKey,
	}
	created, err := s.repo.AppendAdminReply(ctx, orderID, msg)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// The creation invariant says this cannot happen; if it does,
			// surface it instead of minting a conversation after the fact.
			log.Error().Str("order_id", orderID).Msg("order exists without conversation")
			return nil, ErrIntegrity
		}
		return nil, fmt.Errorf("append reply to %s: %w", orderID, err)
	}

	u, err := s.getUser(ctx, o.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Error().Str("order_id", orderID).Int64("telegram_id", o.UserID).
				Msg("order references missing user")
			return nil, ErrIntegrity
		}
		return nil, err
	}

	return &ReplyReceipt{
		OrderID:   orderID,
		UserID:    u.TelegramID,
		ChatID:    u.ChatID,
		Content:   text,
		Duplicate: !created,
	}, nil
}

// UpdateOrderStatus applies the monotonic status flow: pending -> replied
// -> completed, with cancelled terminal from any non-completed state.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID string, to OrderStatus) error {
	if !to.Valid() {
		return ErrBadTransition
	}

	o, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("get order %s: %w", orderID, err)
	}

	if !o.Status.Valid() {
		log.Error().Str("order_id", orderID).Str("status", string(o.Status)).
			Msg("order has unknown status")
		return ErrIntegrity
	}
	if !transitionAllowed(o.Status, to) {
		return ErrBadTransition
	}

	changed, err := s.repo.UpdateOrderStatus(ctx, orderID, o.Status, to)
	if err != nil {
		return fmt.Errorf("update order %s status: %w", orderID, err)
	}
	if !changed {
		return ErrConflict
	}
	return nil
}

func transitionAllowed(from, to OrderStatus) bool {
	switch to {
	case StatusReplied:
		return from == StatusPending
	case StatusCompleted:
		return from == StatusPending || from == StatusReplied
	case StatusCancelled:
		return from != StatusCompleted && from != StatusCancelled
	case StatusPending:
		return false
	}
	return false
}

// SetUserBlocked is the administrative block/unblock switch.
func (s *Service) SetUserBlocked(ctx context.Context, telegramID int64, blocked bool) error {
	to := StateNormal
	if blocked {
		to = StateBlocked
	}
	if err := s.repo.SetUserState(ctx, telegramID, to); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("set blocked=%v for %d: %w", blocked, telegramID, err)
	}
	return nil
}

func (s *Service) getUser(ctx context.Context, telegramID int64) (*User, error) {
	u, err := s.repo.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user %d: %w", telegramID, err)
	}
	return u, nil
}
