package auth

import (
	"strings"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/envelope"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/faults"
)

// Verdict is the outcome of a route guard. Only the HTTP edge converts
// verdicts to status codes; nothing below it sees HTTP.
type Verdict int

const (
	VerdictAllow Verdict = iota
	VerdictUnauthorised
	VerdictForbidden
)

func (v Verdict) String() string {
	switch v {
	case VerdictAllow:
		return "allow"
	case VerdictUnauthorised:
		return "unauthorised"
	case VerdictForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Fault translates a rejection into its fault; Allow yields nil.
func (v Verdict) Fault() *faults.Fault {
	switch v {
	case VerdictUnauthorised:
		return faults.New(faults.Unauthorised, "authentication required")
	case VerdictForbidden:
		return faults.New(faults.Forbidden, "insufficient permissions")
	default:
		return nil
	}
}

// Guard protects one route. A guard admits a request when the route is
// public, when the user's role is in the allow-list, or when the user holds
// the required permission.
type Guard struct {
	// Public admits requests without any token.
	Public bool
	// Roles is a role allow-list; any listed role passes regardless of
	// permissions.
	Roles []string
	// Permission names the "service:action" grant the route requires.
	Permission string
}

// Check evaluates the guard against a verified user context. A nil context
// means no valid token was presented.
func (g Guard) Check(uc *envelope.UserContext) Verdict {
	if g.Public {
		return VerdictAllow
	}
	if uc == nil || uc.UserID == "" {
		return VerdictUnauthorised
	}
	if len(g.Roles) == 0 && g.Permission == "" {
		return VerdictAllow
	}
	for _, role := range g.Roles {
		if uc.Role == role {
			return VerdictAllow
		}
	}
	if g.Permission != "" && HasPermission(uc.Permissions, g.Permission) {
		return VerdictAllow
	}
	return VerdictForbidden
}

// HasPermission reports whether any granted permission satisfies the
// required one. Grants use "service:action" form; "*" grants everything and
// "service:*" grants every action on a service.
func HasPermission(granted []string, required string) bool {
	for _, grant := range granted {
		if matchPermission(grant, required) {
			return true
		}
	}
	return false
}

func matchPermission(grant, required string) bool {
	if grant == "*" || grant == required {
		return true
	}
	if strings.HasSuffix(grant, ":*") {
		return strings.HasPrefix(required, strings.TrimSuffix(grant, "*"))
	}
	return false
}
