// Package inmem is a process-local discovery.Registry for tests and
// single-node development runs.
package inmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/discovery"
)

type instance struct {
	hostPort   string
	lastActive time.Time
}

type Registry struct {
	mu sync.RWMutex

	// serviceName -> instanceID -> instance
	services map[string]map[string]*instance
}

var _ discovery.Registry = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{services: make(map[string]map[string]*instance)}
}

func (r *Registry) Register(ctx context.Context, instanceID, serviceName, hostPort string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.services[serviceName]; !ok {
		r.services[serviceName] = make(map[string]*instance)
	}
	r.services[serviceName][instanceID] = &instance{
		hostPort:   hostPort,
		lastActive: time.Now(),
	}
	return nil
}

func (r *Registry) Deregister(ctx context.Context, instanceID, serviceName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	instances, ok := r.services[serviceName]
	if !ok {
		return nil
	}
	delete(instances, instanceID)
	if len(instances) == 0 {
		delete(r.services, serviceName)
	}
	return nil
}

func (r *Registry) HealthCheck(instanceID, serviceName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	instances, ok := r.services[serviceName]
	if !ok {
		return fmt.Errorf("service %s is not registered", serviceName)
	}
	inst, ok := instances[instanceID]
	if !ok {
		return fmt.Errorf("instance %s of %s is not registered", instanceID, serviceName)
	}
	inst.lastActive = time.Now()
	return nil
}

func (r *Registry) Discover(ctx context.Context, serviceName string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instances, ok := r.services[serviceName]
	if !ok || len(instances) == 0 {
		return nil, fmt.Errorf("no instances of %s registered", serviceName)
	}

	addrs := make([]string, 0, len(instances))
	for _, inst := range instances {
		addrs = append(addrs, inst.hostPort)
	}
	return addrs, nil
}
