package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/config"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/faults"
)

func TestResolveDefaultTable(t *testing.T) {
	r := NewRouter(nil)

	cases := map[string]string{
		"/api/auth/login":            "security",
		"/api/vehicles":              "management",
		"/api/vehicles/veh-1":        "management",
		"/api/drivers/d-9/history":   "management",
		"/api/assignments":           "management",
		"/api/analytics/usage":       "management",
		"/api/maintenance/records":   "vehicle_maintenance",
		"/api/licenses":              "vehicle_maintenance",
		"/api/gps/locations":         "gps",
		"/api/trips/active":          "trip_planning",
		"/api/utilities/ping":        "utilities",
		"api/vehicles":               "management",
		"/api/vehicles/":             "management",
		"//api//vehicles//veh-1":     "management",
		"/API/Vehicles/VEH-1":        "management",
	}
	for path, want := range cases {
		got, err := r.Resolve(path)
		require.NoError(t, err, "path %s", path)
		assert.Equal(t, want, got, "path %s", path)
	}
}

func TestResolveUnknownEndpoint(t *testing.T) {
	r := NewRouter(nil)

	for _, path := range []string{
		"/api/unknown",
		"/api",
		"/",
		"",
		"/api/vehicles-archive",
		"/api/vehiclesx/1",
	} {
		_, err := r.Resolve(path)
		require.Error(t, err, "path %q", path)
		assert.Equal(t, faults.UnknownEndpoint, faults.KindOf(err), "path %q", path)
	}
}

func TestResolveDeclaredOrderWins(t *testing.T) {
	r := NewRouter([]config.RouteRow{
		{Prefix: "/api/vehicles/export", Service: "reporting"},
		{Prefix: "/api/vehicles", Service: "management"},
	})

	got, err := r.Resolve("/api/vehicles/export/csv")
	require.NoError(t, err)
	assert.Equal(t, "reporting", got)

	got, err = r.Resolve("/api/vehicles/veh-1")
	require.NoError(t, err)
	assert.Equal(t, "management", got)
}

func TestNewRouterNormalisesPrefixes(t *testing.T) {
	r := NewRouter([]config.RouteRow{
		{Prefix: "api/gps/", Service: "gps"},
	})

	got, err := r.Resolve("/api/gps/locations")
	require.NoError(t, err)
	assert.Equal(t, "gps", got)
}

func TestServicesDistinctInOrder(t *testing.T) {
	r := NewRouter(nil)

	assert.Equal(t, []string{
		"security",
		"management",
		"vehicle_maintenance",
		"gps",
		"trip_planning",
		"utilities",
	}, r.Services())
}

func TestNormalizeEndpoint(t *testing.T) {
	cases := map[string]string{
		"/api/vehicles":        "api/vehicles",
		"api/vehicles":         "api/vehicles",
		"/api/vehicles/":       "api/vehicles",
		"//api//vehicles//v1/": "api/vehicles/v1",
		"/":                    "",
		"":                     "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeEndpoint(in), "input %q", in)
	}
}
