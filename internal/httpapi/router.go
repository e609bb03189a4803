package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"orderdesk/internal/common"
	"orderdesk/internal/httpapi/handlers"
	"orderdesk/internal/httpapi/middleware"
	"orderdesk/internal/notify"
	"orderdesk/internal/order"
)

func NewRouter(svc *order.Service, notifier *notify.Notifier) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := handlers.NewHandler(svc, notifier)

	r.GET("/ping", h.Ping)

	api := r.Group("/api")
	api.GET("/orders", h.ListOrders)
	api.GET("/orders/:id", h.GetOrder)
	api.POST("/orders/:id/reply", h.ReplyToOrder)
	api.PATCH("/orders/:id/status", h.UpdateOrderStatus)
	api.POST("/users/:id/block", h.BlockUser)
	api.DELETE("/users/:id/block", h.UnblockUser)

	return r
}
