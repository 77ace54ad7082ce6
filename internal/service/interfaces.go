package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/approval"
)

// Collaborator contracts consumed by the services. Production implementations
// live in internal/repository and internal/client; tests inject fakes.

// Repository persists approval instances. Implementations must provide
// serializable-per-instance write semantics (compare-and-swap on the
// instance version or equivalent) so concurrent votes on the same instance
// never silently lose one write.
type Repository interface {
	// Save persists the instance and returns the stored copy. A version
	// mismatch surfaces as a CONFLICT error.
	Save(ctx context.Context, in *approval.Instance) (*approval.Instance, error)
	// SaveWithReference additionally indexes the instance under an external
	// reference (e.g. a purchase-order ID) within its entity type.
	SaveWithReference(ctx context.Context, in *approval.Instance, ref string) (*approval.Instance, error)
	// FindByID returns (nil, nil) when the instance does not exist.
	FindByID(ctx context.Context, id string) (*approval.Instance, error)
	// FindByReference returns (nil, nil) when no instance carries the reference.
	FindByReference(ctx context.Context, entityType, ref string) (*approval.Instance, error)
	FindMany(ctx context.Context, filter approval.ListFilter, page approval.Page) (*approval.ListResult, error)
	// FindPendingForPrincipal returns pending instances where the principal
	// is an approver on the active stage and has not yet voted.
	FindPendingForPrincipal(ctx context.Context, principalID string) ([]*approval.Instance, error)
	FindByInitiator(ctx context.Context, initiatorID string) ([]*approval.Instance, error)
	FindByEntityType(ctx context.Context, entityType string) ([]*approval.Instance, error)
	// FindExpired returns pending instances whose deadline passed before
	// the given timestamp.
	FindExpired(ctx context.Context, before time.Time) ([]*approval.Instance, error)
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
}

// NotificationType tags outbound notification payloads.
type NotificationType string

const (
	NotifyApprovalRequested NotificationType = "approval_requested"
	NotifyApprovalReminder  NotificationType = "approval_reminder"
	NotifyVoteRecorded      NotificationType = "vote_recorded"
	NotifyApprovalComplete  NotificationType = "approval_complete"
	NotifyApprovalCancelled NotificationType = "approval_cancelled"
	NotifyApprovalExpiring  NotificationType = "approval_expiring"
	NotifyApprovalExpired   NotificationType = "approval_expired"
)

// Notification is one outbound payload. Delivery is best-effort: services
// log failures and never surface them as the operation's failure.
type Notification struct {
	Type       NotificationType       `json:"type"`
	Recipients []string               `json:"recipients"`
	Subject    string                 `json:"subject"`
	Body       string                 `json:"body"`
	ActionURL  string                 `json:"action_url,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Notifier dispatches notifications to principals.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
	SendMany(ctx context.Context, ns []Notification) error
	// IsOptedOut reports whether the principal declined this notification
	// type. Implementations should fail open (return false) on lookup errors.
	IsOptedOut(ctx context.Context, principalID string, t NotificationType) bool
}

// ResolveContext carries the request attributes a resolver may need.
type ResolveContext struct {
	EntityType  string
	Reference   string
	InitiatorID string
	Metrics     approval.MetricSnapshot
}

// ApproverResolver turns an abstract selector into concrete principal IDs.
// Resolution happens once, at stage activation; the result is snapshotted on
// the stage and never re-resolved.
type ApproverResolver interface {
	Resolve(ctx context.Context, sel approval.ApproverSelector, rctx ResolveContext) ([]string, error)
	Matches(ctx context.Context, principalID string, sel approval.ApproverSelector, rctx ResolveContext) (bool, error)
}

// PolicyProvider serves the published, immutable policy set.
type PolicyProvider interface {
	GetAllPolicies() []*approval.Policy
	GetPolicyByID(id string) (*approval.Policy, bool)
	GetPoliciesForEntityType(entityType string) []*approval.Policy
}

// AuditLog appends immutable audit entries. Writes are best-effort from the
// services' point of view: failures are logged, never propagated.
type AuditLog interface {
	Append(ctx context.Context, entry *approval.AuditEntry) error
	GetByInstanceID(ctx context.Context, instanceID string) ([]*approval.AuditEntry, error)
}
