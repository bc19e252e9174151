package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/apperr"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/models"
)

// Resolver returns the current base URL of the product-service.
type Resolver func(ctx context.Context) (string, error)

// StaticURL always resolves to baseURL.
func StaticURL(baseURL string) Resolver {
	return func(context.Context) (string, error) { return baseURL, nil }
}

// ProductClient talks to the product-service over HTTP. Failures reported by
// the service keep their error kind, so callers can tell a missing product
// from a stock shortfall.
type ProductClient struct {
	resolve    Resolver
	httpClient *http.Client
	logger     *zap.Logger
}

func NewProductClient(resolve Resolver, timeout time.Duration, logger *zap.Logger) *ProductClient {
	return &ProductClient{
		resolve: resolve,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// FindByID fetches a product from Product Service
func (c *ProductClient) FindByID(ctx context.Context, productID int64) (*models.Product, error) {
	var product models.Product
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/products/%d", productID), nil, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

func (c *ProductClient) Save(ctx context.Context, product *models.Product) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/products/%d", product.ID), product, product)
}

// ReserveStock errors wrapping apperr.ErrOutcomeUnknown may have taken the
// stock anyway.
func (c *ProductClient) ReserveStock(ctx context.Context, productID int64, quantity int) (*models.Product, error) {
	return c.stock(ctx, "reserve", productID, quantity)
}

func (c *ProductClient) ReleaseStock(ctx context.Context, productID int64, quantity int) (*models.Product, error) {
	return c.stock(ctx, "release", productID, quantity)
}

func (c *ProductClient) DeductStock(ctx context.Context, productID int64, quantity int) (models.StockChange, error) {
	var change models.StockChange
	path := fmt.Sprintf("/products/%d/stock/deduct", productID)
	if err := c.do(ctx, http.MethodPost, path, models.StockRequest{Quantity: quantity}, &change); err != nil {
		return models.StockChange{}, err
	}
	return change, nil
}

func (c *ProductClient) stock(ctx context.Context, op string, productID int64, quantity int) (*models.Product, error) {
	var product models.Product
	path := fmt.Sprintf("/products/%d/stock/%s", productID, op)
	if err := c.do(ctx, http.MethodPost, path, models.StockRequest{Quantity: quantity}, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

func (c *ProductClient) do(ctx context.Context, method, path string, in, out any) error {
	baseURL, err := c.resolve(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve product service: %w", err)
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if neverSent(err) {
			return fmt.Errorf("failed to call product service: %w", err)
		}
		return fmt.Errorf("failed to call product service: %w: %w", apperr.ErrOutcomeUnknown, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return c.decodeError(method, path, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// neverSent reports failures that happen before the request reaches the
// product-service, such as a refused connection.
func neverSent(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func (c *ProductClient) decodeError(method, path string, resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
		return fmt.Errorf("product service returned status %d", resp.StatusCode)
	}

	if kind, ok := apperr.ParseKind(body.Kind); ok {
		return apperr.New(kind, body.Error)
	}

	c.logger.Warn("⚠️ Product service error",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.String("error", body.Error),
	)
	return fmt.Errorf("product service returned status %d: %s", resp.StatusCode, body.Error)
}
