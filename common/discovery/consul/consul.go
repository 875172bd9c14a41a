// Package consul backs discovery.Registry with a Consul agent.
package consul

import (
	"context"
	"fmt"
	"net"
	"strconv"

	consul "github.com/hashicorp/consul/api"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/discovery"
)

type Registry struct {
	client *consul.Client
}

var _ discovery.Registry = (*Registry)(nil)

func NewRegistry(addr string) (*Registry, error) {
	config := consul.DefaultConfig()
	config.Address = addr

	client, err := consul.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("create consul client: %w", err)
	}
	return &Registry{client: client}, nil
}

// Register adds the instance with a TTL check. Instances that stop
// heartbeating go critical after 5s and are reaped after 10s.
func (r *Registry) Register(ctx context.Context, instanceID, serviceName, hostPort string) error {
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return fmt.Errorf("split host port %q: %w", hostPort, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("parse port %q: %w", portStr, err)
	}

	return r.client.Agent().ServiceRegister(&consul.AgentServiceRegistration{
		ID:      instanceID,
		Name:    serviceName,
		Address: host,
		Port:    port,
		Check: &consul.AgentServiceCheck{
			CheckID:                        instanceID,
			TLSSkipVerify:                  true,
			TTL:                            "5s",
			Timeout:                        "1s",
			DeregisterCriticalServiceAfter: "10s",
		},
	})
}

func (r *Registry) Deregister(ctx context.Context, instanceID, serviceName string) error {
	if err := r.client.Agent().CheckDeregister(instanceID); err != nil {
		return err
	}
	return r.client.Agent().ServiceDeregister(instanceID)
}

// HealthCheck renews the TTL check for the instance.
func (r *Registry) HealthCheck(instanceID, serviceName string) error {
	return r.client.Agent().UpdateTTL(instanceID, "online", consul.HealthPassing)
}

// Discover returns host:port addresses of passing instances.
func (r *Registry) Discover(ctx context.Context, serviceName string) ([]string, error) {
	entries, _, err := r.client.Health().Service(serviceName, "", true, nil)
	if err != nil {
		return nil, fmt.Errorf("query consul for %s: %w", serviceName, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no healthy instances of %s registered", serviceName)
	}

	addrs := make([]string, 0, len(entries))
	for _, entry := range entries {
		addrs = append(addrs, fmt.Sprintf("%s:%d", entry.Service.Address, entry.Service.Port))
	}
	return addrs, nil
}
