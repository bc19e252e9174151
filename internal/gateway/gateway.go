package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Route maps a backend service to the URL used when discovery has nothing.
type Route struct {
	Service  string
	Fallback string
}

// LookupFunc returns the current URL of a service.
type LookupFunc func(ctx context.Context, service string) (string, error)

// Gateway reverse-proxies /products and /orders to whichever instance
// discovery reports, refreshing the routes periodically.
type Gateway struct {
	lookup LookupFunc
	routes []Route
	logger *zap.Logger

	mutex    sync.RWMutex
	proxies  map[string]*httputil.ReverseProxy
	services map[string]string

	healthClient *http.Client
}

func New(lookup LookupFunc, routes []Route, logger *zap.Logger) *Gateway {
	g := &Gateway{
		lookup:       lookup,
		routes:       routes,
		logger:       logger,
		proxies:      make(map[string]*httputil.ReverseProxy),
		services:     make(map[string]string),
		healthClient: &http.Client{Timeout: 2 * time.Second},
	}
	g.Refresh(context.Background())
	return g
}

// Refresh re-resolves every route.
func (g *Gateway) Refresh(ctx context.Context) {
	for _, r := range g.routes {
		target := r.Fallback
		if g.lookup != nil {
			if u, err := g.lookup(ctx, r.Service); err != nil {
				g.logger.Warn("⚠️ Service not found, using fallback", zap.String("service", r.Service), zap.Error(err))
			} else {
				target = u
			}
		}
		g.updateProxy(r.Service, target)
	}
}

// Watch refreshes the routes every interval until ctx is done.
func (g *Gateway) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Refresh(ctx)
		}
	}
}

func (g *Gateway) updateProxy(serviceName, serviceURL string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.services[serviceName] == serviceURL {
		return
	}

	target, err := url.Parse(serviceURL)
	if err != nil {
		g.logger.Error("❌ Invalid service URL", zap.String("service", serviceName), zap.String("url", serviceURL), zap.Error(err))
		return
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		g.logger.Error("❌ Proxy error", zap.String("service", serviceName), zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, `{"error": "service unavailable"}`)
	}

	g.proxies[serviceName] = proxy
	g.services[serviceName] = serviceURL
	g.logger.Info("✅ Updated route", zap.String("service", serviceName), zap.String("url", serviceURL))
}

func (g *Gateway) getProxy(serviceName string) *httputil.ReverseProxy {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.proxies[serviceName]
}

// Proxy forwards the request to serviceName.
func (g *Gateway) Proxy(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		proxy := g.getProxy(serviceName)
		if proxy == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": serviceName + " unavailable"})
			return
		}
		g.logger.Debug("🔀 Routing",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("service", serviceName),
		)
		proxy.ServeHTTP(c.Writer, c.Request)
	}
}

func (g *Gateway) HealthCheck(c *gin.Context) {
	g.mutex.RLock()
	targets := make(map[string]string, len(g.services))
	for name, u := range g.services {
		targets[name] = u
	}
	g.mutex.RUnlock()

	statuses := make(map[string]string, len(targets))
	allHealthy := true
	for name, u := range targets {
		if g.healthy(c.Request.Context(), u) {
			statuses[name] = "healthy"
		} else {
			statuses[name] = "unhealthy"
			allHealthy = false
		}
	}

	status := "healthy"
	if !allHealthy {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"service":  "api-gateway",
		"services": statuses,
	})
}

func (g *Gateway) healthy(ctx context.Context, baseURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := g.healthClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (g *Gateway) ListServices(c *gin.Context) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	c.JSON(http.StatusOK, gin.H{"services": g.services})
}

// Register mounts the gateway routes. Each service owns its path prefixes.
func (g *Gateway) Register(r gin.IRouter, prefixes map[string][]string) {
	r.GET("/health", g.HealthCheck)
	r.GET("/services", g.ListServices)

	services := make([]string, 0, len(prefixes))
	for svc := range prefixes {
		services = append(services, svc)
	}
	sort.Strings(services)

	for _, svc := range services {
		for _, prefix := range prefixes[svc] {
			r.Any(prefix, g.Proxy(svc))
			r.Any(prefix+"/*path", g.Proxy(svc))
		}
	}
}
