package order

import "errors"

var (
	// ErrEmptyPayload means the inbound message carried nothing usable as
	// order content (sticker, voice note, ...). The user is asked to resend.
	ErrEmptyPayload = errors.New("order: no usable content in payload")

	// ErrNotFound covers a missing User, Order or Conversation looked up by
	// the caller's key.
	ErrNotFound = errors.New("order: not found")

	// ErrNotAwaiting means the user is not in the awaiting_submission state,
	// so the message is not an order submission.
	ErrNotAwaiting = errors.New("order: user is not awaiting a submission")

	// ErrBlocked means the user is blocked and the interaction is
	// acknowledged but never processed.
	ErrBlocked = errors.New("order: user is blocked")

	// ErrConflict means a concurrent state transition won the race; the
	// caller may tell the user to try again.
	ErrConflict = errors.New("order: concurrent state change")

	// ErrIntegrity marks a broken invariant in stored data, e.g. an order
	// without its conversation or backing user.
	ErrIntegrity = errors.New("order: data integrity violation")

	// ErrBadTransition rejects a non-monotonic order status change.
	ErrBadTransition = errors.New("order: invalid status transition")
)
