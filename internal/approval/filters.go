package approval

import "time"

// ListFilter narrows repository listings. Zero-valued fields are ignored.
type ListFilter struct {
	Statuses      []InstanceStatus
	EntityType    string
	InitiatorID   string
	Reference     string
	PolicyID      string
	ExpiresBefore *time.Time
}

// Page controls listing pagination and ordering.
type Page struct {
	Offset    int
	Limit     int
	SortBy    string // created_at | updated_at | expires_at
	SortOrder string // asc | desc
}

// ListResult is one page of instances plus paging metadata.
type ListResult struct {
	Items   []*Instance
	Total   int
	HasMore bool
}

// Matches reports whether the instance passes every set filter field.
// Shared by the in-memory repository and the Postgres repository's
// in-Go refinement steps.
func (f ListFilter) Matches(in *Instance) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if in.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.EntityType != "" && in.EntityType != f.EntityType {
		return false
	}
	if f.InitiatorID != "" && in.InitiatorID != f.InitiatorID {
		return false
	}
	if f.Reference != "" && in.Reference != f.Reference {
		return false
	}
	if f.PolicyID != "" && in.PolicyID != f.PolicyID {
		return false
	}
	if f.ExpiresBefore != nil {
		if in.ExpiresAt == nil || !in.ExpiresAt.Before(*f.ExpiresBefore) {
			return false
		}
	}
	return true
}
