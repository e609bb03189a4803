package handlers

import (
	"orderdesk/internal/notify"
	"orderdesk/internal/order"
)

// Handler bundles what the admin endpoints need: the order service and the
// fan-out used to push replies back to users.
type Handler struct {
	OrderSvc *order.Service
	Notifier *notify.Notifier
}

func NewHandler(svc *order.Service, notifier *notify.Notifier) *Handler {
	return &Handler{OrderSvc: svc, Notifier: notifier}
}
