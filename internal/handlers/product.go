package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/apperr"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/db"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/models"
)

type ProductHandler struct {
	repo        db.ProductCatalog
	serviceName string
	logger      *zap.Logger
}

func NewProductHandler(repo db.ProductCatalog, serviceName string, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{repo: repo, serviceName: serviceName, logger: logger}
}

func (h *ProductHandler) Register(r gin.IRouter) {
	r.GET("/health", h.HealthCheck)
	r.GET("/products", h.ListProducts)
	r.GET("/products/:id", h.GetProduct)
	r.POST("/products", h.CreateProduct)
	r.PUT("/products/:id", h.UpdateProduct)
	r.DELETE("/products/:id", h.DeleteProduct)

	stock := r.Group("/products/:id/stock")
	stock.POST("/reserve", h.ReserveStock)
	stock.POST("/release", h.ReleaseStock)
	stock.POST("/deduct", h.DeductStock)
}

// HealthCheck returns server status
func (h *ProductHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": h.serviceName})
}

// ListProducts returns all products
func (h *ProductHandler) ListProducts(c *gin.Context) {
	products, err := h.repo.GetAll(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if products == nil {
		products = []models.Product{}
	}
	c.JSON(http.StatusOK, products)
}

// GetProduct returns a single product
func (h *ProductHandler) GetProduct(c *gin.Context) {
	id, ok := idParam(c, "product")
	if !ok {
		return
	}

	product, err := h.repo.FindByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// CreateProduct creates a new product
func (h *ProductHandler) CreateProduct(c *gin.Context) {
	var req models.CreateProductRequest
	if !bindJSON(c, &req) {
		return
	}

	product, err := h.repo.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	h.logger.Info("✅ Product created", zap.Int64("product_id", product.ID), zap.String("name", product.Name))
	c.JSON(http.StatusCreated, product)
}

// UpdateProduct overwrites name, category, price and quantity
func (h *ProductHandler) UpdateProduct(c *gin.Context) {
	id, ok := idParam(c, "product")
	if !ok {
		return
	}

	var product models.Product
	if !bindJSON(c, &product) {
		return
	}
	product.ID = id

	if err := h.repo.Save(c.Request.Context(), &product); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// DeleteProduct removes a product
func (h *ProductHandler) DeleteProduct(c *gin.Context) {
	id, ok := idParam(c, "product")
	if !ok {
		return
	}

	if err := h.repo.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "product deleted"})
}

func (h *ProductHandler) stockRequest(c *gin.Context) (int64, int, bool) {
	id, ok := idParam(c, "product")
	if !ok {
		return 0, 0, false
	}
	var req models.StockRequest
	if !bindJSON(c, &req) {
		return 0, 0, false
	}
	if req.Quantity <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "quantity must be positive", Kind: apperr.KindInvalidArgument.String()})
		return 0, 0, false
	}
	return id, req.Quantity, true
}

// ReserveStock takes quantity only if that much is available
func (h *ProductHandler) ReserveStock(c *gin.Context) {
	id, qty, ok := h.stockRequest(c)
	if !ok {
		return
	}

	product, err := h.repo.ReserveStock(c.Request.Context(), id, qty)
	if err != nil {
		writeError(c, err)
		return
	}
	h.logger.Info("🔒 Stock reserved", zap.Int64("product_id", id), zap.Int("quantity", qty), zap.Int("remaining", product.Quantity))
	c.JSON(http.StatusOK, product)
}

func (h *ProductHandler) ReleaseStock(c *gin.Context) {
	id, qty, ok := h.stockRequest(c)
	if !ok {
		return
	}

	product, err := h.repo.ReleaseStock(c.Request.Context(), id, qty)
	if err != nil {
		writeError(c, err)
		return
	}
	h.logger.Info("↩️ Stock released", zap.Int64("product_id", id), zap.Int("quantity", qty), zap.Int("remaining", product.Quantity))
	c.JSON(http.StatusOK, product)
}

// DeductStock subtracts without checking availability
func (h *ProductHandler) DeductStock(c *gin.Context) {
	id, qty, ok := h.stockRequest(c)
	if !ok {
		return
	}

	change, err := h.repo.DeductStock(c.Request.Context(), id, qty)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, change)
}
