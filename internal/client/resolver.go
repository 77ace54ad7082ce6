// Package client holds the production implementations of the collaborator
// contracts consumed by the services: approver resolution against a
// principal directory, and notification publishing over NATS.
package client

import (
	"context"
	"sort"

	"github.com/pesio-ai/be-plt-approvals/internal/apperr"
	"github.com/pesio-ai/be-plt-approvals/internal/approval"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

// Directory answers identity questions. The real implementation sits in
// front of the platform identity service.
type Directory interface {
	// UsersWithRole returns the principal IDs that hold the given role.
	UsersWithRole(ctx context.Context, role string) ([]string, error)
	// ManagerChain returns the principal's management chain, nearest first,
	// up to levels+1 entries (0 means the direct manager only).
	ManagerChain(ctx context.Context, principalID string, levels int) ([]string, error)
}

// DynamicResolverFunc computes an approver set for a dynamic selector.
type DynamicResolverFunc func(ctx context.Context, rctx service.ResolveContext) ([]string, error)

// DirectoryResolver resolves abstract approver selectors to concrete
// principal IDs. Dynamic resolvers are registered at construction time;
// there is no process-global registry.
type DirectoryResolver struct {
	dir     Directory
	dynamic map[string]DynamicResolverFunc
}

// NewDirectoryResolver creates a resolver over a directory. The dynamic map
// may be nil when no dynamic selectors are configured.
func NewDirectoryResolver(dir Directory, dynamic map[string]DynamicResolverFunc) *DirectoryResolver {
	return &DirectoryResolver{dir: dir, dynamic: dynamic}
}

// Resolve turns a selector into a deduplicated principal list. Order is
// stable: explicit and hierarchy selectors keep their source order, role and
// dynamic results are sorted.
func (r *DirectoryResolver) Resolve(ctx context.Context, sel approval.ApproverSelector, rctx service.ResolveContext) ([]string, error) {
	switch sel.Type {
	case approval.SelectorExplicit:
		return dedupe(sel.Principals, false), nil

	case approval.SelectorRole:
		users, err := r.dir.UsersWithRole(ctx, sel.Role)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to resolve role "+sel.Role)
		}
		return dedupe(users, true), nil

	case approval.SelectorHierarchy:
		chain, err := r.dir.ManagerChain(ctx, rctx.InitiatorID, sel.Levels)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to resolve manager chain")
		}
		return dedupe(chain, false), nil

	case approval.SelectorDynamic:
		fn, ok := r.dynamic[sel.Resolver]
		if !ok {
			return nil, apperr.InvalidInput("selector", "unknown dynamic resolver "+sel.Resolver)
		}
		users, err := fn(ctx, rctx)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "dynamic resolver "+sel.Resolver+" failed")
		}
		return dedupe(users, true), nil
	}
	return nil, apperr.InvalidInput("selector", "unknown selector type "+string(sel.Type))
}

// Matches reports whether the principal would be in the selector's resolved
// set right now. Only meaningful pre-activation; once a stage is active its
// snapshot is authoritative.
func (r *DirectoryResolver) Matches(ctx context.Context, principalID string, sel approval.ApproverSelector, rctx service.ResolveContext) (bool, error) {
	resolved, err := r.Resolve(ctx, sel, rctx)
	if err != nil {
		return false, err
	}
	for _, p := range resolved {
		if p == principalID {
			return true, nil
		}
	}
	return false, nil
}

func dedupe(in []string, sorted bool) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if sorted {
		sort.Strings(out)
	}
	return out
}
