package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/apperr"
	"github.com/pesio-ai/be-plt-approvals/internal/approval"
)

// MemoryRepository is an in-memory instance store used in tests and local
// development. It honors the same compare-and-swap version discipline as the
// Postgres implementation, so concurrency bugs show up in tests too.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[string]*approval.Instance
	refs  map[string]string // entityType + "/" + reference → instance ID
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		items: make(map[string]*approval.Instance),
		refs:  make(map[string]string),
	}
}

// Save stores the instance, failing with CONFLICT when the caller's version
// is stale. The stored copy gets version+1.
func (r *MemoryRepository) Save(ctx context.Context, in *approval.Instance) (*approval.Instance, error) {
	return r.save(in, "")
}

// SaveWithReference stores the instance and indexes it under the reference.
func (r *MemoryRepository) SaveWithReference(ctx context.Context, in *approval.Instance, ref string) (*approval.Instance, error) {
	return r.save(in, ref)
}

func (r *MemoryRepository) save(in *approval.Instance, ref string) (*approval.Instance, error) {
	if in.ID == "" {
		return nil, apperr.InvalidInput("id", "instance ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.items[in.ID]; ok && existing.Version != in.Version {
		return nil, apperr.Newf(apperr.CodeConflict,
			"approval instance %s was modified concurrently (version %d, expected %d)",
			in.ID, existing.Version, in.Version)
	}

	stored := in.Clone()
	stored.Version++
	r.items[in.ID] = stored
	if ref != "" {
		r.refs[in.EntityType+"/"+ref] = in.ID
	}
	return stored.Clone(), nil
}

// FindByID returns (nil, nil) when the instance does not exist.
func (r *MemoryRepository) FindByID(ctx context.Context, id string) (*approval.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if in, ok := r.items[id]; ok {
		return in.Clone(), nil
	}
	return nil, nil
}

// FindByReference returns (nil, nil) when no instance carries the reference.
func (r *MemoryRepository) FindByReference(ctx context.Context, entityType, ref string) (*approval.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.refs[entityType+"/"+ref]
	if !ok {
		return nil, nil
	}
	if in, ok := r.items[id]; ok {
		return in.Clone(), nil
	}
	return nil, nil
}

// FindMany returns a filtered, sorted page of instances.
func (r *MemoryRepository) FindMany(ctx context.Context, filter approval.ListFilter, page approval.Page) (*approval.ListResult, error) {
	r.mu.RLock()
	var matched []*approval.Instance
	for _, in := range r.items {
		if filter.Matches(in) {
			matched = append(matched, in.Clone())
		}
	}
	r.mu.RUnlock()

	sortInstances(matched, page.SortBy, page.SortOrder)

	total := len(matched)
	offset := page.Offset
	if offset > total {
		offset = total
	}
	end := total
	if page.Limit > 0 && offset+page.Limit < end {
		end = offset + page.Limit
	}

	return &approval.ListResult{
		Items:   matched[offset:end],
		Total:   total,
		HasMore: end < total,
	}, nil
}

// FindPendingForPrincipal returns pending instances where the principal sits
// on the active stage and has not voted yet.
func (r *MemoryRepository) FindPendingForPrincipal(ctx context.Context, principalID string) ([]*approval.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*approval.Instance
	for _, in := range r.items {
		if awaitsVoteFrom(in, principalID) {
			out = append(out, in.Clone())
		}
	}
	sortInstances(out, "created_at", "asc")
	return out, nil
}

// FindByInitiator returns all instances started by the principal.
func (r *MemoryRepository) FindByInitiator(ctx context.Context, initiatorID string) ([]*approval.Instance, error) {
	return r.findAll(approval.ListFilter{InitiatorID: initiatorID})
}

// FindByEntityType returns all instances for an entity type.
func (r *MemoryRepository) FindByEntityType(ctx context.Context, entityType string) ([]*approval.Instance, error) {
	return r.findAll(approval.ListFilter{EntityType: entityType})
}

// FindExpired returns pending instances whose deadline passed before the
// given timestamp.
func (r *MemoryRepository) FindExpired(ctx context.Context, before time.Time) ([]*approval.Instance, error) {
	return r.findAll(approval.ListFilter{
		Statuses:      []approval.InstanceStatus{approval.StatusPending},
		ExpiresBefore: &before,
	})
}

// Delete removes an instance. Missing instances fail with NOT_FOUND.
func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.items[id]
	if !ok {
		return apperr.NotFound("approval", id)
	}
	delete(r.items, id)
	if in.Reference != "" {
		delete(r.refs, in.EntityType+"/"+in.Reference)
	}
	return nil
}

// Exists reports whether an instance is stored.
func (r *MemoryRepository) Exists(ctx context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[id]
	return ok, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func (r *MemoryRepository) findAll(filter approval.ListFilter) ([]*approval.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*approval.Instance
	for _, in := range r.items {
		if filter.Matches(in) {
			out = append(out, in.Clone())
		}
	}
	sortInstances(out, "created_at", "asc")
	return out, nil
}

// awaitsVoteFrom reports whether the instance is waiting on this principal.
func awaitsVoteFrom(in *approval.Instance, principalID string) bool {
	if in.Status != approval.StatusPending {
		return false
	}
	stage, _ := in.ActiveStage()
	if stage == nil {
		return false
	}
	onStage := false
	for _, a := range stage.Approvers {
		if a == principalID {
			onStage = true
			break
		}
	}
	if !onStage {
		return false
	}
	return stage.VoteBy(principalID) == nil
}

func sortInstances(items []*approval.Instance, sortBy, sortOrder string) {
	key := func(in *approval.Instance) time.Time {
		switch sortBy {
		case "updated_at":
			return in.UpdatedAt
		case "expires_at":
			if in.ExpiresAt != nil {
				return *in.ExpiresAt
			}
			return time.Time{}
		default:
			return in.CreatedAt
		}
	}
	desc := sortOrder == "desc"
	sort.SliceStable(items, func(i, j int) bool {
		a, b := key(items[i]), key(items[j])
		if a.Equal(b) {
			// Stable tiebreak so pagination never shuffles.
			if desc {
				return items[i].ID > items[j].ID
			}
			return items[i].ID < items[j].ID
		}
		if desc {
			return a.After(b)
		}
		return a.Before(b)
	})
}
