package permission

import "sort"

// Set is a principal's effective permissions keyed by permission id, with
// each access type at the highest level any of the principal's roles grants.
type Set map[int64]RolePermission

// Aggregate merges grants per permission id, taking the maximum level for
// each access type independently. Grants that do not exist are skipped.
func Aggregate(held []RolePermission) Set {
	set := make(Set, len(held))
	for _, rp := range held {
		if !rp.Exists() {
			continue
		}
		cur, ok := set[rp.PermissionID]
		if !ok {
			set[rp.PermissionID] = RolePermission{
				PermissionID: rp.PermissionID,
				Name:         rp.Name,
				Status:       StatusActive,
				Read:         rp.Read,
				Write:        rp.Write,
				Execute:      rp.Execute,
			}
			continue
		}
		cur.Read = max(cur.Read, rp.Read)
		cur.Write = max(cur.Write, rp.Write)
		cur.Execute = max(cur.Execute, rp.Execute)
		set[rp.PermissionID] = cur
	}
	return set
}

// Get returns the effective grant for a permission.
func (s Set) Get(permissionID int64) (RolePermission, bool) {
	rp, ok := s[permissionID]
	return rp, ok
}

// Allows reports whether a single pass is satisfied.
func (s Set) Allows(pass Pass) bool {
	rp, ok := s[pass.Permission]
	return ok && HasPermission(rp, pass)
}

// CanAccess reports whether every pass is satisfied. An empty list is
// trivially satisfied.
func (s Set) CanAccess(passes ...Pass) bool {
	for _, p := range passes {
		if !s.Allows(p) {
			return false
		}
	}
	return true
}

// List returns the grants ordered by permission id.
func (s Set) List() []RolePermission {
	out := make([]RolePermission, 0, len(s))
	for _, rp := range s {
		out = append(out, rp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PermissionID < out[j].PermissionID })
	return out
}
