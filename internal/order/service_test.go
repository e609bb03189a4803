package order

import (
	"context"
	"errors"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// a single conn keeps every query on the same in-memory database
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&User{}, &Order{}, &Conversation{}, &Message{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := openTestDB(t)
	return NewService(NewRepo(db)), db
}

func observe(t *testing.T, svc *Service, telegramID int64) *User {
	t.Helper()
	u, err := svc.ObserveUser(context.Background(), Profile{
		TelegramID: telegramID,
		FirstName:  "Test",
		ChatID:     telegramID * 10,
	})
	if err != nil {
		t.Fatalf("observe user: %v", err)
	}
	return u
}

func TestObserveUser_CreatesThenResyncsProfile(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.ObserveUser(ctx, Profile{TelegramID: 42, FirstName: "Ada", ChatID: 100})
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if u.State != StateNormal {
		t.Fatalf("new user state = %q, want normal", u.State)
	}

	if err := svc.BeginSubmission(ctx, 42); err != nil {
		t.Fatalf("begin submission: %v", err)
	}

	// A later interaction re-syncs the profile and delivery address but
	// must not reset the machine state.
	u, err = svc.ObserveUser(ctx, Profile{TelegramID: 42, FirstName: "Ada", LastName: "L", ChatID: 200})
	if err != nil {
		t.Fatalf("observe again: %v", err)
	}
	if u.ChatID != 200 || u.LastName != "L" {
		t.Fatalf("profile not re-synced: chat_id=%d last_name=%q", u.ChatID, u.LastName)
	}
	if u.State != StateAwaitingSubmission {
		t.Fatalf("state after re-observe = %q, want awaiting_submission", u.State)
	}
}

func TestBeginSubmission_IsIdempotentAndRefusesBlocked(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	observe(t, svc, 1)

	if err := svc.BeginSubmission(ctx, 1); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := svc.BeginSubmission(ctx, 1); err != nil {
		t.Fatalf("begin while already awaiting: %v", err)
	}

	if err := svc.SetUserBlocked(ctx, 1, true); err != nil {
		t.Fatalf("block: %v", err)
	}
	if err := svc.BeginSubmission(ctx, 1); !errors.Is(err, ErrBlocked) {
		t.Fatalf("begin for blocked user err = %v, want ErrBlocked", err)
	}
}

func TestSubmitOrder_TextCreatesOrderThreadAndResetsState(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	observe(t, svc, 42)

	if err := svc.BeginSubmission(ctx, 42); err != nil {
		t.Fatalf("begin: %v", err)
	}

	o, err := svc.SubmitOrder(ctx, 42, Payload{Text: "need a refund"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if o.Status != StatusPending {
		t.Fatalf("status = %q, want pending", o.Status)
	}
	if o.Content != "need a refund" {
		t.Fatalf("content = %q", o.Content)
	}

	var u User
	if err := db.Where("telegram_id = ?", int64(42)).First(&u).Error; err != nil {
		t.Fatalf("load user: %v", err)
	}
	if u.State != StateNormal {
		t.Fatalf("state after submit = %q, want normal", u.State)
	}

	_, conv, err := svc.GetOrderWithConversation(ctx, o.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if len(conv.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(conv.Messages))
	}
	if conv.Messages[0].Sender != SenderUser || conv.Messages[0].Content != o.Content {
		t.Fatalf("unexpected first message: sender=%q content=%q", conv.Messages[0].Sender, conv.Messages[0].Content)
	}
}

func TestSubmitOrder_DocumentAndPhotoPayloads(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	observe(t, svc, 7)

	if err := svc.BeginSubmission(ctx, 7); err != nil {
		t.Fatalf("begin: %v", err)
	}
	o, err := svc.SubmitOrder(ctx, 7, Payload{Document: &DocumentRef{FileID: "doc-1", Name: "invoice.pdf"}})
	if err != nil {
		t.Fatalf("submit document: %v", err)
	}
	if o.Content != "File: invoice.pdf" {
		t.Fatalf("document content = %q", o.Content)
	}
	if o.FileID == nil || *o.FileID != "doc-1" {
		t.Fatalf("document file id = %v", o.FileID)
	}

	if err := svc.BeginSubmission(ctx, 7); err != nil {
		t.Fatalf("begin again: %v", err)
	}
	o, err = svc.SubmitOrder(ctx, 7, Payload{Photos: []PhotoRef{
		{FileID: "small", Width: 90, Height: 90},
		{FileID: "large", Width: 800, Height: 600},
		{FileID: "medium", Width: 320, Height: 240},
	}})
	if err != nil {
		t.Fatalf("submit photo: %v", err)
	}
	if o.FileID == nil || *o.FileID != "large" {
		t.Fatalf("photo file id = %v, want highest resolution variant", o.FileID)
	}
}

func TestSubmitOrder_RejectsUnusablePayloadWithoutStateChange(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	observe(t, svc, 8)

	if err := svc.BeginSubmission(ctx, 8); err != nil {
		t.Fatalf("begin: %v", err)
	}

	if _, err := svc.SubmitOrder(ctx, 8, Payload{}); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("err = %v, want ErrEmptyPayload", err)
	}

	var u User
	if err := db.Where("telegram_id = ?", int64(8)).First(&u).Error; err != nil {
		t.Fatalf("load user: %v", err)
	}
	if u.State != StateAwaitingSubmission {
		t.Fatalf("state = %q, want awaiting_submission (unchanged)", u.State)
	}

	var count int64
	if err := db.Model(&Order{}).Count(&count).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no orders, got %d", count)
	}
}

func TestSubmitOrder_OutsideAwaitingCreatesNothing(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	observe(t, svc, 9)

	if _, err := svc.SubmitOrder(ctx, 9, Payload{Text: "hello"}); !errors.Is(err, ErrNotAwaiting) {
		t.Fatalf("err = %v, want ErrNotAwaiting", err)
	}

	var count int64
	if err := db.Model(&Order{}).Count(&count).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no orders, got %d", count)
	}
}

func TestSubmitOrder_DuplicateDeliveryMintsOneOrder(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	observe(t, svc, 10)

	if err := svc.BeginSubmission(ctx, 10); err != nil {
		t.Fatalf("begin: %v", err)
	}

	if _, err := svc.SubmitOrder(ctx, 10, Payload{Text: "dup"}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	// Redelivery of the same payload: the state was already consumed.
	if _, err := svc.SubmitOrder(ctx, 10, Payload{Text: "dup"}); !errors.Is(err, ErrNotAwaiting) {
		t.Fatalf("second submit err = %v, want ErrNotAwaiting", err)
	}

	var count int64
	if err := db.Model(&Order{}).Count(&count).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 order, got %d", count)
	}
}

func TestCreateSubmission_StateSwapGuardsTheRace(t *testing.T) {
	svc, db := newTestService(t)
	repo := NewRepo(db)
	ctx := context.Background()
	observe(t, svc, 11)

	if err := svc.BeginSubmission(ctx, 11); err != nil {
		t.Fatalf("begin: %v", err)
	}

	first := &Order{ID: "01AAAAAAAAAAAAAAAAAAAAAAAA", UserID: 11, Content: "a", Status: StatusPending}
	if err := repo.CreateSubmission(ctx, first, &Message{Sender: SenderUser, Content: "a"}); err != nil {
		t.Fatalf("first create: %v", err)
	}

	// The losing writer of the compare-and-swap must not create anything.
	second := &Order{ID: "01BBBBBBBBBBBBBBBBBBBBBBBB", UserID: 11, Content: "b", Status: StatusPending}
	if err := repo.CreateSubmission(ctx, second, &Message{Sender: SenderUser, Content: "b"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("second create err = %v, want ErrConflict", err)
	}

	var count int64
	if err := db.Model(&Order{}).Count(&count).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 order, got %d", count)
	}
}

func submitOne(t *testing.T, svc *Service, telegramID int64, text string) *Order {
	t.Helper()
	ctx := context.Background()
	observe(t, svc, telegramID)
	if err := svc.BeginSubmission(ctx, telegramID); err != nil {
		t.Fatalf("begin: %v", err)
	}
	o, err := svc.SubmitOrder(ctx, telegramID, Payload{Text: text})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return o
}

func TestReplyToOrder_AppendsPromotesAndResolvesDestination(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	o := submitOne(t, svc, 42, "need a refund")

	receipt, err := svc.ReplyToOrder(ctx, o.ID, "refund issued", nil)
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if receipt.ChatID != 420 {
		t.Fatalf("receipt chat id = %d, want 420", receipt.ChatID)
	}
	if receipt.Content != "refund issued" {
		t.Fatalf("receipt content = %q", receipt.Content)
	}

	got, conv, err := svc.GetOrderWithConversation(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusReplied {
		t.Fatalf("status = %q, want replied", got.Status)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(conv.Messages))
	}
	if conv.Messages[1].Sender != SenderAdmin || conv.Messages[1].Content != "refund issued" {
		t.Fatalf("unexpected reply message: sender=%q content=%q", conv.Messages[1].Sender, conv.Messages[1].Content)
	}
}

func TestReplyToOrder_RepeatedRepliesAppendInOrder(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	o := submitOne(t, svc, 5, "question")

	replies := []string{"first", "second", "third"}
	for _, text := range replies {
		if _, err := svc.ReplyToOrder(ctx, o.ID, text, nil); err != nil {
			t.Fatalf("reply %q: %v", text, err)
		}
	}

	got, conv, err := svc.GetOrderWithConversation(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusReplied {
		t.Fatalf("status after repeated replies = %q, want replied", got.Status)
	}
	if len(conv.Messages) != 1+len(replies) {
		t.Fatalf("expected %d messages, got %d", 1+len(replies), len(conv.Messages))
	}
	for i, text := range replies {
		if conv.Messages[i+1].Content != text {
			t.Fatalf("message %d content = %q, want %q", i+1, conv.Messages[i+1].Content, text)
		}
	}
}

func TestReplyToOrder_IdempotencyKeyAppendsOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	o := submitOne(t, svc, 6, "question")

	key := "retry-abc"
	receipt, err := svc.ReplyToOrder(ctx, o.ID, "answer", &key)
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if receipt.Duplicate {
		t.Fatalf("first reply marked duplicate")
	}
	receipt, err = svc.ReplyToOrder(ctx, o.ID, "answer", &key)
	if err != nil {
		t.Fatalf("retried reply: %v", err)
	}
	// The retry must be flagged so the caller can skip re-notifying the user.
	if !receipt.Duplicate {
		t.Fatalf("retried reply not marked duplicate")
	}

	_, conv, err := svc.GetOrderWithConversation(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("expected 2 messages after retried reply, got %d", len(conv.Messages))
	}
}

func TestReplyToOrder_NotFound(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.ReplyToOrder(context.Background(), "01MISSINGORDERIDAAAAAAAAAA", "hi", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestReplyToOrder_MissingConversationIsIntegrityError(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	observe(t, svc, 12)

	// An order row without its conversation violates the creation
	// invariant; a reply must surface that, not repair it.
	o := &Order{ID: "01CCCCCCCCCCCCCCCCCCCCCCCC", UserID: 12, Content: "orphan", Status: StatusPending}
	if err := db.Create(o).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}

	if _, err := svc.ReplyToOrder(ctx, o.ID, "hi", nil); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("err = %v, want ErrIntegrity", err)
	}

	var count int64
	if err := db.Model(&Conversation{}).Count(&count).Error; err != nil {
		t.Fatalf("count conversations: %v", err)
	}
	if count != 0 {
		t.Fatalf("conversation was silently created")
	}
}

func TestReplyToOrder_MissingUserIsIntegrityError(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	o := submitOne(t, svc, 13, "question")

	if err := db.Where("telegram_id = ?", int64(13)).Delete(&User{}).Error; err != nil {
		t.Fatalf("delete user: %v", err)
	}

	if _, err := svc.ReplyToOrder(ctx, o.ID, "hi", nil); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("err = %v, want ErrIntegrity", err)
	}
}

func TestGetOrderWithConversation_NotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.GetOrderWithConversation(context.Background(), "01MISSINGORDERIDAAAAAAAAAA")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListAllOrders_NewestFirst(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first := submitOne(t, svc, 20, "first")
	time.Sleep(2 * time.Millisecond) // distinct ULID timestamps
	second := submitOne(t, svc, 21, "second")

	all, err := svc.ListAllOrders(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(all))
	}
	if all[0].ID != second.ID || all[1].ID != first.ID {
		t.Fatalf("orders not newest first: %s, %s", all[0].ID, all[1].ID)
	}
}

func TestListOrders_OnlyOwnOrders(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mine := submitOne(t, svc, 30, "mine")
	submitOne(t, svc, 31, "theirs")

	orders, err := svc.ListOrders(ctx, 30)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != mine.ID {
		t.Fatalf("unexpected orders: %+v", orders)
	}
}

func TestUpdateOrderStatus_MonotonicFlow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	o := submitOne(t, svc, 40, "x")

	if err := svc.UpdateOrderStatus(ctx, o.ID, StatusPending); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("pending->pending err = %v, want ErrBadTransition", err)
	}
	if err := svc.UpdateOrderStatus(ctx, o.ID, StatusCompleted); err != nil {
		t.Fatalf("pending->completed: %v", err)
	}
	if err := svc.UpdateOrderStatus(ctx, o.ID, StatusCancelled); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("completed->cancelled err = %v, want ErrBadTransition", err)
	}

	o2 := submitOne(t, svc, 41, "y")
	if err := svc.UpdateOrderStatus(ctx, o2.ID, StatusCancelled); err != nil {
		t.Fatalf("pending->cancelled: %v", err)
	}
	if err := svc.UpdateOrderStatus(ctx, o2.ID, StatusReplied); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("cancelled->replied err = %v, want ErrBadTransition", err)
	}
}

func TestSubmitOrder_BlockedUser(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	observe(t, svc, 50)

	if err := svc.BeginSubmission(ctx, 50); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := svc.SetUserBlocked(ctx, 50, true); err != nil {
		t.Fatalf("block: %v", err)
	}

	if _, err := svc.SubmitOrder(ctx, 50, Payload{Text: "hi"}); !errors.Is(err, ErrBlocked) {
		t.Fatalf("err = %v, want ErrBlocked", err)
	}
}
