package client

import "context"

// StaticDirectory is a config-backed Directory for deployments without an
// identity service, and for tests. Role membership and manager edges are
// fixed at construction.
type StaticDirectory struct {
	roles    map[string][]string
	managers map[string]string
}

// NewStaticDirectory creates a StaticDirectory. Both maps may be nil.
func NewStaticDirectory(roles map[string][]string, managers map[string]string) *StaticDirectory {
	if roles == nil {
		roles = map[string][]string{}
	}
	if managers == nil {
		managers = map[string]string{}
	}
	return &StaticDirectory{roles: roles, managers: managers}
}

// UsersWithRole returns the configured members of a role.
func (d *StaticDirectory) UsersWithRole(ctx context.Context, role string) ([]string, error) {
	return append([]string(nil), d.roles[role]...), nil
}

// ManagerChain walks the configured manager edges from the principal,
// nearest first, up to levels+1 entries. A missing edge ends the chain.
func (d *StaticDirectory) ManagerChain(ctx context.Context, principalID string, levels int) ([]string, error) {
	var chain []string
	current := principalID
	for i := 0; i <= levels; i++ {
		mgr, ok := d.managers[current]
		if !ok || mgr == "" {
			break
		}
		chain = append(chain, mgr)
		current = mgr
	}
	return chain, nil
}
