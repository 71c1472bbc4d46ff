package rbac

// Gate evaluates required-capability predicates before state transitions are
// attempted. It is a pure predicate over the acting user's roles: the
// effective set is recomputed on every call and never cached, so role or
// permission changes between calls take effect immediately.
type Gate struct{}

// NewGate creates a new authorization gate.
func NewGate() *Gate {
	return &Gate{}
}

// Authorize reports whether the user holds the required capability through
// any of their roles. Absence of the permission is a normal false, not a
// failure. No side effects; callers record denials in the audit trail if
// they want them.
func (g *Gate) Authorize(user *User, required Permission) bool {
	if user == nil {
		return false
	}
	for _, role := range user.Roles {
		if role.HasPermission(required) {
			return true
		}
	}
	return false
}

// EffectivePermissions returns the union, over all roles the user holds, of
// those roles' permissions. Computed fresh per call.
func (g *Gate) EffectivePermissions(user *User) []Permission {
	if user == nil {
		return nil
	}
	seen := make(map[string]Permission)
	for _, role := range user.Roles {
		for _, p := range role.Permissions {
			seen[p.String()] = p
		}
	}
	perms := make([]Permission, 0, len(seen))
	for _, p := range seen {
		perms = append(perms, p)
	}
	return perms
}
