package order

import "time"

// UserState gates how an inbound message from that user is interpreted.
type UserState string

const (
	StateNormal             UserState = "normal"
	StateAwaitingSubmission UserState = "awaiting_submission"
	StateBlocked            UserState = "blocked"
)

func (s UserState) Valid() bool {
	switch s {
	case StateNormal, StateAwaitingSubmission, StateBlocked:
		return true
	}
	return false
}

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusReplied   OrderStatus = "replied"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusReplied, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

type SenderRole string

const (
	SenderUser  SenderRole = "user"
	SenderAdmin SenderRole = "admin"
)

// User is one chat user, keyed by the transport-assigned telegram id.
// ChatID is the outbound delivery address and is re-synced on every
// observed interaction.
type User struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	TelegramID int64     `gorm:"uniqueIndex;not null" json:"telegram_id"`
	FirstName  string    `gorm:"type:varchar(128)" json:"first_name"`
	LastName   string    `gorm:"type:varchar(128)" json:"last_name"`
	Username   string    `gorm:"type:varchar(64)" json:"username"`
	ChatID     int64     `gorm:"not null" json:"-"`
	State      UserState `gorm:"type:varchar(32);not null" json:"state"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

// Order ids are ULIDs, so ORDER BY id DESC is newest first.
type Order struct {
	ID        string      `gorm:"primaryKey;size:26" json:"id"`
	UserID    int64       `gorm:"index;not null" json:"user_id"`
	Content   string      `gorm:"type:text;not null" json:"content"`
	FileID    *string     `gorm:"type:varchar(128)" json:"file_id,omitempty"`
	Status    OrderStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	Notes     string      `gorm:"type:text" json:"notes"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

// Conversation is the message thread of one order (1:1), created in the
// same transaction as the order itself.
type Conversation struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	OrderID   string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"order_id"`
	UserID    int64     `gorm:"index;not null" json:"user_id"`
	Messages  []Message `gorm:"foreignKey:ConversationID" json:"messages"`
	CreatedAt time.Time `json:"created_at"`
}

func (Conversation) TableName() string { return "conversations" }

// Message rows are append-only; the auto-increment id is the thread order.
type Message struct {
	ID             uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID uint64     `gorm:"not null;index;index:uniq_msg_idempo,unique,priority:1" json:"-"`
	Sender         SenderRole `gorm:"type:varchar(16);not null" json:"sender"`
	Content        string     `gorm:"type:text;not null" json:"content"`
	FileID         *string    `gorm:"type:varchar(128)" json:"file_id,omitempty"`
	IdempotencyKey *string    `gorm:"type:varchar(128);index:uniq_msg_idempo,unique,priority:2" json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (Message) TableName() string { return "conversation_messages" }
