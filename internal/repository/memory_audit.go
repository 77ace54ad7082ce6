package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-plt-approvals/internal/approval"
)

// MemoryAuditLog is the in-memory audit log used in tests and local
// development.
type MemoryAuditLog struct {
	mu      sync.RWMutex
	entries []*approval.AuditEntry
}

// NewMemoryAuditLog creates an empty MemoryAuditLog.
func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{}
}

// Append stores one audit entry, stamping ID and time like the Postgres
// implementation does.
func (r *MemoryAuditLog) Append(ctx context.Context, entry *approval.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *entry
	cp.ID = uuid.NewString()
	cp.PerformedAt = time.Now()
	r.entries = append(r.entries, &cp)
	entry.ID = cp.ID
	entry.PerformedAt = cp.PerformedAt
	return nil
}

// GetByInstanceID returns the instance's audit trail oldest-first.
func (r *MemoryAuditLog) GetByInstanceID(ctx context.Context, instanceID string) ([]*approval.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*approval.AuditEntry
	for _, e := range r.entries {
		if e.InstanceID == instanceID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}
