// Package routing maps endpoint prefixes to destination services and drives
// the dispatch pipeline: breaker, correlation entry, publish, await, retry.
package routing

import (
	"strings"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/config"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/faults"
)

// Router is an ordered prefix table. Rows are evaluated in declared order;
// the first prefix matching the normalised path wins.
type Router struct {
	rows []config.RouteRow
}

func NewRouter(rows []config.RouteRow) *Router {
	if len(rows) == 0 {
		rows = config.DefaultRouteTable()
	}
	normalised := make([]config.RouteRow, len(rows))
	for i, row := range rows {
		normalised[i] = config.RouteRow{
			Prefix:  "/" + NormalizeEndpoint(row.Prefix),
			Service: row.Service,
		}
	}
	return &Router{rows: normalised}
}

// Resolve returns the destination service for a path, or UnknownEndpoint.
func (r *Router) Resolve(path string) (string, error) {
	p := "/" + strings.ToLower(NormalizeEndpoint(path))
	for _, row := range r.rows {
		if matchesPrefix(p, strings.ToLower(row.Prefix)) {
			return row.Service, nil
		}
	}
	return "", faults.Newf(faults.UnknownEndpoint, "no route for %s", path)
}

// Services returns the distinct destinations in table order.
func (r *Router) Services() []string {
	seen := make(map[string]bool, len(r.rows))
	out := make([]string, 0, len(r.rows))
	for _, row := range r.rows {
		if !seen[row.Service] {
			seen[row.Service] = true
			out = append(out, row.Service)
		}
	}
	return out
}

// matchesPrefix matches on whole path segments, so /api/vehicles does not
// capture /api/vehicles-archive.
func matchesPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

// NormalizeEndpoint strips surrounding slashes and collapses repeats, the
// form endpoints take inside envelopes ("api/vehicles/veh-1").
func NormalizeEndpoint(path string) string {
	parts := strings.Split(path, "/")
	kept := parts[:0]
	for _, part := range parts {
		if part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, "/")
}
