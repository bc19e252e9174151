package discovery

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

type ConsulClient struct {
	client *api.Client
	logger *zap.Logger
}

type ServiceConfig struct {
	Name string
	ID   string
	Port int
	Tags []string
}

// NewServiceConfig names the instance after the host so replicas register
// side by side.
func NewServiceConfig(name string, port int, tags ...string) ServiceConfig {
	host, err := os.Hostname()
	if err != nil {
		host = "local"
	}
	return ServiceConfig{
		Name: name,
		ID:   fmt.Sprintf("%s-%s-%d", name, host, port),
		Port: port,
		Tags: tags,
	}
}

func NewConsulClient(host string, port int, logger *zap.Logger) (*ConsulClient, error) {
	config := api.DefaultConfig()
	config.Address = fmt.Sprintf("%s:%d", host, port)

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Consul client: %w", err)
	}

	// Test connection
	if _, err := client.Agent().Self(); err != nil {
		return nil, fmt.Errorf("failed to connect to Consul: %w", err)
	}

	logger.Info("✅ Connected to Consul", zap.String("address", config.Address))

	return &ConsulClient{client: client, logger: logger}, nil
}

// getOutboundIP gets the preferred outbound IP of this machine
func getOutboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}

// Register registers a service with Consul
func (c *ConsulClient) Register(cfg ServiceConfig) error {
	hostIP := getOutboundIP()

	registration := &api.AgentServiceRegistration{
		ID:      cfg.ID,
		Name:    cfg.Name,
		Port:    cfg.Port,
		Address: hostIP,
		Tags:    cfg.Tags,
		Check: &api.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/health", hostIP, cfg.Port),
			Interval:                       "10s",
			Timeout:                        "5s",
			DeregisterCriticalServiceAfter: "30s",
		},
	}

	if err := c.client.Agent().ServiceRegister(registration); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}

	c.logger.Info("✅ Registered service",
		zap.String("service", cfg.Name),
		zap.String("id", cfg.ID),
		zap.String("address", fmt.Sprintf("%s:%d", hostIP, cfg.Port)),
	)
	return nil
}

// Deregister removes a service from Consul
func (c *ConsulClient) Deregister(serviceID string) error {
	if err := c.client.Agent().ServiceDeregister(serviceID); err != nil {
		return fmt.Errorf("failed to deregister service: %w", err)
	}

	c.logger.Info("✅ Deregistered service", zap.String("id", serviceID))
	return nil
}

// GetService returns a healthy instance of a service
func (c *ConsulClient) GetService(ctx context.Context, serviceName string) (string, int, error) {
	opts := (&api.QueryOptions{}).WithContext(ctx)
	services, _, err := c.client.Health().Service(serviceName, "", true, opts)
	if err != nil {
		return "", 0, fmt.Errorf("failed to get service: %w", err)
	}

	if len(services) == 0 {
		return "", 0, fmt.Errorf("no healthy instances of %s found", serviceName)
	}

	// Return first healthy instance
	service := services[0].Service
	address := service.Address
	if address == "" {
		address = "localhost"
	}

	return address, service.Port, nil
}

// GetServiceURL returns the full URL for a service
func (c *ConsulClient) GetServiceURL(ctx context.Context, serviceName string) (string, error) {
	address, port, err := c.GetService(ctx, serviceName)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("http://%s:%d", address, port), nil
}

// ResolveOr looks serviceName up on every call and falls back to fallbackURL
// when Consul is unavailable or has no healthy instance. A nil client always
// returns the fallback.
func ResolveOr(c *ConsulClient, serviceName, fallbackURL string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		if c == nil {
			return fallbackURL, nil
		}
		url, err := c.GetServiceURL(ctx, serviceName)
		if err != nil {
			c.logger.Debug("Service lookup failed, using fallback",
				zap.String("service", serviceName),
				zap.String("fallback", fallbackURL),
				zap.Error(err),
			)
			return fallbackURL, nil
		}
		return url, nil
	}
}
