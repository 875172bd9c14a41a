// Package discovery registers service instances with a registry so
// operators can see which fleet processes are alive. Request routing never
// consults it; requests travel over the broker.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// Registry is implemented by consul for deployments and inmem for tests.
type Registry interface {
	Register(ctx context.Context, instanceID, serviceName, hostPort string) error
	Deregister(ctx context.Context, instanceID, serviceName string) error
	Discover(ctx context.Context, serviceName string) ([]string, error)
	HealthCheck(instanceID, serviceName string) error
}

// GenerateInstanceID returns a collision-resistant instance id for a
// service, e.g. "core-1755932412".
func GenerateInstanceID(serviceName string) string {
	return fmt.Sprintf("%s-%d", serviceName, rand.New(rand.NewSource(time.Now().UnixNano())).Int())
}

const heartbeatEvery = time.Second

// Registration keeps one instance registered, renewing its TTL check until
// Deregister is called.
type Registration struct {
	registry    Registry
	instanceID  string
	serviceName string
	log         *slog.Logger
	stop        chan struct{}
}

// Register adds the instance to the registry and starts the heartbeat loop.
func Register(ctx context.Context, registry Registry, instanceID, serviceName, hostPort string, log *slog.Logger) (*Registration, error) {
	if err := registry.Register(ctx, instanceID, serviceName, hostPort); err != nil {
		return nil, fmt.Errorf("register %s with registry: %w", serviceName, err)
	}

	r := &Registration{
		registry:    registry,
		instanceID:  instanceID,
		serviceName: serviceName,
		log:         log,
		stop:        make(chan struct{}),
	}
	go r.heartbeat()
	return r, nil
}

func (r *Registration) heartbeat() {
	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if err := r.registry.HealthCheck(r.instanceID, r.serviceName); err != nil {
				r.log.Warn("registry health check failed",
					slog.String("instance_id", r.instanceID),
					slog.Any("error", err),
				)
			}
		}
	}
}

// Deregister stops the heartbeat and removes the instance.
func (r *Registration) Deregister(ctx context.Context) error {
	close(r.stop)
	return r.registry.Deregister(ctx, r.instanceID, r.serviceName)
}
