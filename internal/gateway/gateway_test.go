package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func backend(t *testing.T, name string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Backend", name)
		w.Header().Set("X-Path", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newRouter(g *Gateway) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g.Register(r, map[string][]string{
		"product-service": {"/products"},
		"order-service":   {"/orders"},
	})
	return r
}

func serve(r http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestProxiesByPrefix(t *testing.T) {
	products := backend(t, "products")
	orders := backend(t, "orders")
	lookup := func(_ context.Context, svc string) (string, error) {
		if svc == "product-service" {
			return products.URL, nil
		}
		return orders.URL, nil
	}
	r := newRouter(New(lookup, []Route{{Service: "product-service"}, {Service: "order-service"}}, zap.NewNop()))

	rec := serve(r, http.MethodGet, "/products/7")
	assert.Equal(t, "products", rec.Header().Get("X-Backend"))
	assert.Equal(t, "/products/7", rec.Header().Get("X-Path"))

	rec = serve(r, http.MethodPost, "/orders/3/pay")
	assert.Equal(t, "orders", rec.Header().Get("X-Backend"))
}

func TestLookupFailureUsesFallback(t *testing.T) {
	products := backend(t, "fallback")
	lookup := func(context.Context, string) (string, error) { return "", errors.New("consul down") }
	g := New(lookup, []Route{{Service: "product-service", Fallback: products.URL}}, zap.NewNop())

	rec := serve(newRouter(g), http.MethodGet, "/products")

	assert.Equal(t, "fallback", rec.Header().Get("X-Backend"))
}

func TestUnknownServiceIsUnavailable(t *testing.T) {
	g := New(nil, nil, zap.NewNop())

	rec := serve(newRouter(g), http.MethodGet, "/orders")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDeadBackendIsBadGateway(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()
	g := New(nil, []Route{{Service: "order-service", Fallback: deadURL}}, zap.NewNop())
	r := newRouter(g)

	rec := serve(r, http.MethodGet, "/orders")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	health := serve(r, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, health.Code)
	assert.Contains(t, health.Body.String(), `"degraded"`)
}
