package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/models"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/service"
)

type OrderHandler struct {
	orders      *service.OrderService
	serviceName string
	logger      *zap.Logger
}

func NewOrderHandler(orders *service.OrderService, serviceName string, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		orders:      orders,
		serviceName: serviceName,
		logger:      logger,
	}
}

// CreateOrderResponse is the created order plus, when it was cancelled, why.
type CreateOrderResponse struct {
	*models.Order
	Reasons []string `json:"reasons,omitempty"`
}

func (h *OrderHandler) Register(r gin.IRouter) {
	r.GET("/health", h.HealthCheck)
	r.GET("/orders", h.ListOrders)
	r.GET("/orders/:id", h.GetOrder)
	r.POST("/orders", h.CreateOrder)
	r.POST("/orders/:id/pay", h.PayOrder)
	r.POST("/orders/:id/cancel", h.CancelOrder)
}

// HealthCheck returns server status
func (h *OrderHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": h.serviceName})
}

// ListOrders returns all orders
func (h *OrderHandler) ListOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}

	c.JSON(http.StatusOK, orders)
}

// GetOrder returns a single order with items
func (h *OrderHandler) GetOrder(c *gin.Context) {
	id, ok := idParam(c, "order")
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// CreateOrder reserves stock and persists the order. A stock shortfall still
// answers 201 with a CANCELLED order.
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req models.CreateOrderRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.orders.CreateOrderDetailed(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	if len(res.Reasons) > 0 {
		h.logger.Debug("Order cancelled at creation", zap.Int64("order_id", res.Order.ID), zap.Strings("reasons", res.Reasons))
	}
	c.JSON(http.StatusCreated, CreateOrderResponse{Order: res.Order, Reasons: res.Reasons})
}

func (h *OrderHandler) PayOrder(c *gin.Context) {
	id, ok := idParam(c, "order")
	if !ok {
		return
	}

	order, err := h.orders.PayOrder(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) CancelOrder(c *gin.Context) {
	id, ok := idParam(c, "order")
	if !ok {
		return
	}

	order, err := h.orders.CancelOrder(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}
