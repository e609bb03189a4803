package order

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// UpsertUser creates the user on first contact, otherwise re-syncs the
// mutable profile fields. State is deliberately left alone: profile sync
// and state transitions are separate writes.
func (r *Repo) UpsertUser(ctx context.Context, u *User) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "telegram_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"first_name", "last_name", "username", "chat_id", "updated_at"}),
	}).Create(u).Error
}

func (r *Repo) GetUserByTelegramID(ctx context.Context, telegramID int64) (*User, error) {
	var u User
	if err := r.db.WithContext(ctx).
		Where("telegram_id = ?", telegramID).
		First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// CompareAndSetUserState flips the state only if it still holds the expected
// value. The false return means another writer got there first.
func (r *Repo) CompareAndSetUserState(ctx context.Context, telegramID int64, from, to UserState) (bool, error) {
	res := r.db.WithContext(ctx).Model(&User{}).
		Where("telegram_id = ? AND state = ?", telegramID, from).
		Update("state", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SetUserState overwrites the state unconditionally (administrative
// block/unblock).
func (r *Repo) SetUserState(ctx context.Context, telegramID int64, to UserState) error {
	res := r.db.WithContext(ctx).Model(&User{}).
		Where("telegram_id = ?", telegramID).
		Update("state", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CreateSubmission is the one atomic unit of the intake path: flip the
// user out of awaiting_submission, then insert the order, its conversation
// and the first message. The state update doubles as a compare-and-swap so
// a duplicate delivery of the same payload cannot mint a second order.
func (r *Repo) CreateSubmission(ctx context.Context, o *Order, first *Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&User{}).
			Where("telegram_id = ? AND state = ?", o.UserID, StateAwaitingSubmission).
			Update("state", StateNormal)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}

		if err := tx.Create(o).Error; err != nil {
			return err
		}

		conv := &Conversation{OrderID: o.ID, UserID: o.UserID}
		if err := tx.Create(conv).Error; err != nil {
			return err
		}

		first.ConversationID = conv.ID
		return tx.Create(first).Error
	})
}

func (r *Repo) GetOrderByID(ctx context.Context, orderID string) (*Order, error) {
	var o Order
	if err := r.db.WithContext(ctx).First(&o, "id = ?", orderID).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOrdersByUser returns a user's orders oldest first.
func (r *Repo) ListOrdersByUser(ctx context.Context, telegramID int64) ([]Order, error) {
	var orders []Order
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", telegramID).
		Order("id ASC").
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// ListAllOrders returns every order newest first (ULID ids sort by
// creation time).
func (r *Repo) ListAllOrders(ctx context.Context) ([]Order, error) {
	var orders []Order
	if err := r.db.WithContext(ctx).
		Order("id DESC").
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// GetConversationByOrderID loads the thread with its messages in insertion
// order.
func (r *Repo) GetConversationByOrderID(ctx context.Context, orderID string) (*Conversation, error) {
	var conv Conversation
	if err := r.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		}).
		Where("order_id = ?", orderID).
		First(&conv).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

// AppendAdminReply appends the admin message to the order's thread and
// promotes the order to replied, as one durable update. The status update
// only ever moves pending forward, so replying again is a plain append.
//
// When msg carries an idempotency key that was already recorded for this
// conversation, the previously stored message is returned instead of a
// duplicate append (created=false).
func (r *Repo) AppendAdminReply(ctx context.Context, orderID string, msg *Message) (created bool, err error) {
	created = true
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv Conversation
		if err := tx.Where("order_id = ?", orderID).First(&conv).Error; err != nil {
			return err
		}
		msg.ConversationID = conv.ID

		if insertErr := tx.Create(msg).Error; insertErr != nil {
			if msg.IdempotencyKey == nil {
				return insertErr
			}
			var existing Message
			getErr := tx.Where("conversation_id = ? AND idempotency_key = ?", conv.ID, *msg.IdempotencyKey).
				First(&existing).Error
			if getErr != nil {
				if errors.Is(getErr, gorm.ErrRecordNotFound) {
					return insertErr
				}
				return getErr
			}
			*msg = existing
			created = false
			return nil
		}

		return tx.Model(&Order{}).
			Where("id = ? AND status = ?", orderID, StatusPending).
			Update("status", StatusReplied).Error
	})
	return created, err
}

// UpdateOrderStatus applies an already-validated transition, guarded by the
// expected current status so racing updates cannot skip a step.
func (r *Repo) UpdateOrderStatus(ctx context.Context, orderID string, from, to OrderStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Order{}).
		Where("id = ? AND status = ?", orderID, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
