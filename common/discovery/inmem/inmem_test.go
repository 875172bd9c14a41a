package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/discovery"
)

func TestRegisterAndDiscover(t *testing.T) {
	registry := NewRegistry()
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, "core-1", "core", "localhost:8000"))
	require.NoError(t, registry.Register(ctx, "core-2", "core", "localhost:8001"))

	addrs, err := registry.Discover(ctx, "core")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"localhost:8000", "localhost:8001"}, addrs)
}

func TestDiscoverUnknownService(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Discover(context.Background(), "management")
	assert.Error(t, err)
}

func TestDeregisterRemovesInstance(t *testing.T) {
	registry := NewRegistry()
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, "core-1", "core", "localhost:8000"))
	require.NoError(t, registry.Deregister(ctx, "core-1", "core"))

	_, err := registry.Discover(ctx, "core")
	assert.Error(t, err)
}

func TestDeregisterUnknownInstanceIsNoop(t *testing.T) {
	registry := NewRegistry()

	assert.NoError(t, registry.Deregister(context.Background(), "ghost-1", "ghost"))
}

func TestHealthCheck(t *testing.T) {
	registry := NewRegistry()
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, "core-1", "core", "localhost:8000"))

	assert.NoError(t, registry.HealthCheck("core-1", "core"))
	assert.Error(t, registry.HealthCheck("core-9", "core"))
	assert.Error(t, registry.HealthCheck("core-1", "management"))
}

func TestGenerateInstanceID(t *testing.T) {
	a := discovery.GenerateInstanceID("core")
	b := discovery.GenerateInstanceID("core")

	assert.Contains(t, a, "core-")
	assert.NotEqual(t, a, b)
}
