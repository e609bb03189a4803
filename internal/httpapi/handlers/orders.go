package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"orderdesk/internal/common"
	"orderdesk/internal/order"
)

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

// ListOrders returns every order, newest first.
func (h *Handler) ListOrders(c *gin.Context) {
	orders, err := h.OrderSvc.ListAllOrders(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("list orders failed")
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, gin.H{"orders": orders})
}

// GetOrder returns one order together with its conversation thread.
func (h *Handler) GetOrder(c *gin.Context) {
	orderID := c.Param("id")

	o, conv, err := h.OrderSvc.GetOrderWithConversation(c.Request.Context(), orderID)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrNotFound):
			common.Fail(c, http.StatusNotFound, 40401, "order not found")
		case errors.Is(err, order.ErrIntegrity):
			common.Fail(c, http.StatusInternalServerError, 50002, "internal error")
		default:
			log.Error().Err(err).Str("order_id", orderID).Msg("get order failed")
			common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		}
		return
	}

	common.OK(c, gin.H{"order": o, "conversation": conv})
}

type replyReq struct {
	Message string `json:"message" binding:"required"`
}

// ReplyToOrder records an admin reply on the thread and hands the
// resulting notification to the fan-out. A delivery failure does not fail
// the request; the reply is already durable.
func (h *Handler) ReplyToOrder(c *gin.Context) {
	orderID := c.Param("id")

	var req replyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}
	var idempoKeyPtr *string
	if idempoKey != "" {
		idempoKeyPtr = &idempoKey
	}

	receipt, err := h.OrderSvc.ReplyToOrder(c.Request.Context(), orderID, req.Message, idempoKeyPtr)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrNotFound):
			common.Fail(c, http.StatusNotFound, 40401, "order not found")
		case errors.Is(err, order.ErrIntegrity):
			common.Fail(c, http.StatusInternalServerError, 50002, "internal error")
		default:
			log.Error().Err(err).Str("order_id", orderID).Msg("reply failed")
			common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		}
		return
	}

	if !receipt.Duplicate {
		h.Notifier.AdminReplied(c.Request.Context(), receipt)
	}

	common.OK(c, gin.H{"order_id": orderID})
}

type statusReq struct {
	Status order.OrderStatus `json:"status" binding:"required"`
}

// UpdateOrderStatus moves an order forward (completed) or cancels it.
func (h *Handler) UpdateOrderStatus(c *gin.Context) {
	orderID := c.Param("id")

	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	err := h.OrderSvc.UpdateOrderStatus(c.Request.Context(), orderID, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrNotFound):
			common.Fail(c, http.StatusNotFound, 40401, "order not found")
		case errors.Is(err, order.ErrBadTransition):
			common.Fail(c, http.StatusConflict, 40901, "invalid status transition")
		case errors.Is(err, order.ErrConflict):
			common.Fail(c, http.StatusConflict, 40902, "order changed concurrently, retry")
		case errors.Is(err, order.ErrIntegrity):
			common.Fail(c, http.StatusInternalServerError, 50002, "internal error")
		default:
			log.Error().Err(err).Str("order_id", orderID).Msg("status update failed")
			common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		}
		return
	}

	common.OK(c, gin.H{"order_id": orderID, "status": req.Status})
}

// BlockUser and UnblockUser are the administrative side of the blocked
// state.
func (h *Handler) BlockUser(c *gin.Context) {
	h.setBlocked(c, true)
}

func (h *Handler) UnblockUser(c *gin.Context) {
	h.setBlocked(c, false)
}

func (h *Handler) setBlocked(c *gin.Context, blocked bool) {
	telegramID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid user id")
		return
	}

	if err := h.OrderSvc.SetUserBlocked(c.Request.Context(), telegramID, blocked); err != nil {
		if errors.Is(err, order.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "user not found")
			return
		}
		log.Error().Err(err).Int64("telegram_id", telegramID).Msg("block update failed")
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.OK(c, gin.H{"telegram_id": telegramID, "blocked": blocked})
}
