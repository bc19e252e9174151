package discovery

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeAgent answers the two Consul endpoints the client needs.
func fakeAgent(t *testing.T, healthy string) *ConsulClient {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/agent/self", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/v1/health/service/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Consul-Index", "1")
		w.Header().Set("X-Consul-LastContact", "0")
		w.Header().Set("X-Consul-KnownLeader", "true")
		if r.URL.Path == "/v1/health/service/product-service" {
			_, _ = w.Write([]byte(healthy))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c, err := NewConsulClient(host, port, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestGetServiceURL(t *testing.T) {
	c := fakeAgent(t, `[{"Service":{"ID":"product-service-1","Service":"product-service","Address":"10.0.0.5","Port":8081}}]`)

	url, err := c.GetServiceURL(context.Background(), "product-service")

	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:8081", url)
}

func TestGetServiceEmptyAddressIsLocalhost(t *testing.T) {
	c := fakeAgent(t, `[{"Service":{"Service":"product-service","Port":8081}}]`)

	addr, port, err := c.GetService(context.Background(), "product-service")

	require.NoError(t, err)
	assert.Equal(t, "localhost", addr)
	assert.Equal(t, 8081, port)
}

func TestResolveOrFallsBack(t *testing.T) {
	c := fakeAgent(t, `[]`)

	url, err := ResolveOr(c, "product-service", "http://product-service:8081")(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://product-service:8081", url)

	url, err = ResolveOr(nil, "order-service", "http://order-service:8082")(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://order-service:8082", url)
}

func TestNewServiceConfigID(t *testing.T) {
	cfg := NewServiceConfig("order-service", 8082, "saga")

	assert.Equal(t, "order-service", cfg.Name)
	assert.Contains(t, cfg.ID, "order-service-")
	assert.Contains(t, cfg.ID, "-8082")
	assert.Equal(t, []string{"saga"}, cfg.Tags)
}
