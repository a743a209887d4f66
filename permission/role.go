package permission

import (
	"fmt"
	"strings"
)

// Role is a coarse, totally ordered authority tier.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// rank orders roles for coarse-grained checks. Unknown roles rank zero and
// therefore meet no requirement.
var rank = map[Role]int{
	RoleAdmin:  3,
	RoleEditor: 2,
	RoleViewer: 1,
}

// roleCapabilities is the static role table, built once at init. Admin is
// intentionally absent: it resolves to the full enumeration by definition.
var roleCapabilities = map[Role]Set{
	RoleEditor: newSet(
		ViewUsers,
		ViewResources, CreateResource, EditResource,
		ViewSystemSettings,
	),
	RoleViewer: newSet(
		ViewResources,
		ViewSystemSettings,
	),
}

// ParseRole normalizes and validates a role string.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := rank[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Meets reports whether actual satisfies a requirement of required under the
// total order ADMIN > EDITOR > VIEWER.
func Meets(actual, required Role) bool {
	return rank[actual] >= rank[required]
}

// Rank exposes the role's position in the total order (0 for unknown roles).
func Rank(r Role) int {
	return rank[r]
}

// RoleCapabilities returns the static capability set a role implies. Admin
// always resolves to the full closed enumeration.
func RoleCapabilities(r Role) Set {
	if r == RoleAdmin {
		return newSet(all...)
	}

	caps, ok := roleCapabilities[r]
	if !ok {
		return Set{}
	}

	out := make(Set, len(caps))
	for c := range caps {
		out[c] = struct{}{}
	}
	return out
}

// Effective unions the role's static capabilities with per-user overrides.
// Override strings outside the closed enumeration are ignored rather than
// rejected: stale rows must not grant or break anything.
func Effective(r Role, overrides []string) Set {
	caps := RoleCapabilities(r)
	for _, o := range overrides {
		c := Capability(o)
		if Valid(c) {
			caps[c] = struct{}{}
		}
	}
	return caps
}
