package permission

// Capability is a single named permission.
type Capability string

// The closed capability enumeration. Adding an entry here is the only way a
// new capability enters the system.
const (
	// User management.
	ViewUsers      Capability = "view_users"
	CreateUser     Capability = "create_user"
	EditUser       Capability = "edit_user"
	DeleteUser     Capability = "delete_user"
	ChangeUserRole Capability = "change_user_role"

	// Resource management.
	ViewResources  Capability = "view_resources"
	CreateResource Capability = "create_resource"
	EditResource   Capability = "edit_resource"
	DeleteResource Capability = "delete_resource"

	// System management.
	ViewSystemSettings Capability = "view_system_settings"
	EditSystemSettings Capability = "edit_system_settings"

	// Audit.
	ViewAuditLogs Capability = "view_audit_logs"
)

var all = []Capability{
	ViewUsers, CreateUser, EditUser, DeleteUser, ChangeUserRole,
	ViewResources, CreateResource, EditResource, DeleteResource,
	ViewSystemSettings, EditSystemSettings,
	ViewAuditLogs,
}

var allSet = newSet(all...)

// All returns the full capability enumeration in declaration order. The
// returned slice is a copy.
func All() []Capability {
	out := make([]Capability, len(all))
	copy(out, all)
	return out
}

// Valid reports whether c is a member of the closed enumeration.
func Valid(c Capability) bool {
	_, ok := allSet[c]
	return ok
}

// Set is an immutable-by-convention capability set.
type Set map[Capability]struct{}

func newSet(caps ...Capability) Set {
	s := make(Set, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// Has reports membership of a single capability.
func (s Set) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// HasAny reports whether at least one of caps is present. An empty caps list
// is false: a check that requires nothing grants nothing.
func (s Set) HasAny(caps ...Capability) bool {
	for _, c := range caps {
		if s.Has(c) {
			return true
		}
	}
	return false
}

// HasAll reports whether every capability in caps is present.
func (s Set) HasAll(caps ...Capability) bool {
	for _, c := range caps {
		if !s.Has(c) {
			return false
		}
	}
	return true
}

// List returns the set's members in enumeration order, skipping any strings
// outside the closed enumeration.
func (s Set) List() []Capability {
	out := make([]Capability, 0, len(s))
	for _, c := range all {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}
