package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-plt-approvals/internal/apperr"
	"github.com/pesio-ai/be-plt-approvals/internal/approval"
)

// ApprovalService owns the non-voting lifecycle: instance creation from a
// policy match, initiator cancellation, the expiry sweep, and queries.
type ApprovalService struct {
	repo     Repository
	policies PolicyProvider
	resolver ApproverResolver
	notifier Notifier
	audit    AuditLog
	log      zerolog.Logger
	now      func() time.Time
	newID    func() string

	// defaultPolicyID is consulted when no policy matches; empty means a
	// non-matching request fails instead of falling back.
	defaultPolicyID string
	// reminderWindow is how far before expiry the one-shot expiring-soon
	// reminder fires.
	reminderWindow time.Duration
}

// ApprovalServiceOption customizes an ApprovalService.
type ApprovalServiceOption func(*ApprovalService)

// WithDefaultPolicy sets the fallback policy used when no policy matches.
func WithDefaultPolicy(policyID string) ApprovalServiceOption {
	return func(s *ApprovalService) { s.defaultPolicyID = policyID }
}

// WithReminderWindow sets the expiring-soon reminder window.
func WithReminderWindow(d time.Duration) ApprovalServiceOption {
	return func(s *ApprovalService) { s.reminderWindow = d }
}

// NewApprovalService creates an ApprovalService.
func NewApprovalService(
	repo Repository,
	policies PolicyProvider,
	resolver ApproverResolver,
	notifier Notifier,
	audit AuditLog,
	log zerolog.Logger,
	opts ...ApprovalServiceOption,
) *ApprovalService {
	s := &ApprovalService{
		repo:           repo,
		policies:       policies,
		resolver:       resolver,
		notifier:       notifier,
		audit:          audit,
		log:            log,
		now:            time.Now,
		newID:          uuid.NewString,
		reminderWindow: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ── Creation ──────────────────────────────────────────────────────────────────

// CreateRequest describes a business request submitted for approval.
type CreateRequest struct {
	EntityType  string
	Reference   string
	InitiatorID string
	Metrics     approval.MetricSnapshot
	ExpiresAt   *time.Time
}

// CreateResult is the creation outcome. Approval is nil when the matched
// policy auto-approves the request without an instance.
type CreateResult struct {
	Approval     *approval.Instance
	Policy       *approval.Policy
	AutoApproved bool
}

// Create matches a policy against the request's metric snapshot, builds the
// instance, snapshots the first stage's approvers and persists it under the
// request's reference.
func (s *ApprovalService) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if req.EntityType == "" {
		return nil, apperr.InvalidInput("entity_type", "entity type is required")
	}
	if req.InitiatorID == "" {
		return nil, apperr.InvalidInput("initiator_id", "initiator is required")
	}

	policy := approval.MatchPolicy(s.policies.GetPoliciesForEntityType(req.EntityType), req.Metrics)
	if policy == nil && s.defaultPolicyID != "" {
		if fallback, ok := s.policies.GetPolicyByID(s.defaultPolicyID); ok {
			policy = fallback
		}
	}
	if policy == nil {
		return nil, apperr.InvalidInput("metrics", "no approval policy matches the request and no default policy is configured")
	}

	if policy.AutoApproves() {
		s.log.Info().
			Str("policy_id", policy.ID).
			Str("entity_type", req.EntityType).
			Str("reference", req.Reference).
			Msg("Policy is skippable with no required stages; request auto-approved")
		return &CreateResult{Policy: policy, AutoApproved: true}, nil
	}

	now := s.now()
	inst := approval.NewInstance(policy, req.EntityType, req.Reference, req.InitiatorID, req.ExpiresAt, now)
	inst.ID = s.newID()

	approvers, err := s.resolver.Resolve(ctx, inst.Stages[0].Selector, ResolveContext{
		EntityType:  req.EntityType,
		Reference:   req.Reference,
		InitiatorID: req.InitiatorID,
		Metrics:     req.Metrics,
	})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal,
			fmt.Sprintf("failed to resolve approvers for stage %q", inst.Stages[0].Name))
	}
	if err := inst.ActivateStage(0, approvers, now); err != nil {
		return nil, err
	}

	saved, err := s.repo.SaveWithReference(ctx, inst, req.Reference)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeSaveFailed, "failed to persist approval instance")
	}

	appendAudit(ctx, s.audit, s.log, &approval.AuditEntry{
		InstanceID:  saved.ID,
		EntityType:  saved.EntityType,
		Action:      approval.AuditCreated,
		PerformedBy: req.InitiatorID,
		Metadata:    map[string]interface{}{"policy_id": policy.ID, "total_stages": len(saved.Stages)},
	})

	recipients := filterRecipients(ctx, s.notifier, saved.Stages[0].Approvers, NotifyApprovalRequested, "")
	if len(recipients) > 0 {
		dispatchNotification(ctx, s.notifier, s.log, Notification{
			Type:       NotifyApprovalRequested,
			Recipients: recipients,
			Subject:    fmt.Sprintf("Approval requested for %s %s", saved.EntityType, saved.Reference),
			Body:       fmt.Sprintf("Your approval is required on stage %q", saved.Stages[0].Name),
			Metadata:   map[string]interface{}{"approval_id": saved.ID, "stage": saved.Stages[0].Name},
		})
	}

	s.log.Info().
		Str("approval_id", saved.ID).
		Str("policy_id", policy.ID).
		Int("total_stages", len(saved.Stages)).
		Msg("Approval instance created")

	return &CreateResult{Approval: saved, Policy: policy}, nil
}

// ── Cancellation ──────────────────────────────────────────────────────────────

// Cancel terminates a pending instance. Only the initiator may cancel.
func (s *ApprovalService) Cancel(ctx context.Context, approvalID, actorID string) (*approval.Instance, error) {
	inst, err := s.repo.FindByID(ctx, approvalID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to load approval")
	}
	if inst == nil {
		return nil, apperr.NotFound("approval", approvalID)
	}
	if inst.InitiatorID != actorID {
		return nil, apperr.NotAuthorized("only the initiator can cancel an approval")
	}

	working := inst.Clone()
	if err := working.Cancel(s.now()); err != nil {
		return nil, err
	}

	saved, err := s.repo.Save(ctx, working)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeSaveFailed, "failed to persist cancellation")
	}

	appendAudit(ctx, s.audit, s.log, &approval.AuditEntry{
		InstanceID:  saved.ID,
		EntityType:  saved.EntityType,
		Action:      approval.AuditCancelled,
		PerformedBy: actorID,
	})

	recipients := filterRecipients(ctx, s.notifier, saved.Watchers(), NotifyApprovalCancelled, actorID)
	if len(recipients) > 0 {
		dispatchNotification(ctx, s.notifier, s.log, Notification{
			Type:       NotifyApprovalCancelled,
			Recipients: recipients,
			Subject:    fmt.Sprintf("Approval cancelled for %s %s", saved.EntityType, saved.Reference),
			Body:       fmt.Sprintf("The approval was cancelled by %s", actorID),
			Metadata:   map[string]interface{}{"approval_id": saved.ID},
		})
	}

	return saved, nil
}

// ── Expiry sweep ──────────────────────────────────────────────────────────────

// SweepReport summarizes one expiry sweep pass.
type SweepReport struct {
	Expired  int
	Reminded int
}

// SweepExpired transitions pending instances past their deadline to expired
// and sends a one-shot expiring-soon reminder for instances inside the
// reminder window. Per-instance failures are logged and skipped so one bad
// record never stalls the sweep.
func (s *ApprovalService) SweepExpired(ctx context.Context) (*SweepReport, error) {
	now := s.now()
	report := &SweepReport{}

	expired, err := s.repo.FindExpired(ctx, now)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to query expired approvals")
	}
	for _, inst := range expired {
		working := inst.Clone()
		if err := working.Expire(now); err != nil {
			s.log.Warn().Err(err).Str("approval_id", inst.ID).Msg("Skipping expiry transition")
			continue
		}
		saved, err := s.repo.Save(ctx, working)
		if err != nil {
			// Likely a concurrent vote or cancellation; the next sweep
			// re-evaluates the record.
			s.log.Warn().Err(err).Str("approval_id", inst.ID).Msg("Failed to persist expiry")
			continue
		}
		report.Expired++

		appendAudit(ctx, s.audit, s.log, &approval.AuditEntry{
			InstanceID: saved.ID,
			EntityType: saved.EntityType,
			Action:     approval.AuditExpired,
		})
		recipients := filterRecipients(ctx, s.notifier, saved.Watchers(), NotifyApprovalExpired, "")
		if len(recipients) > 0 {
			dispatchNotification(ctx, s.notifier, s.log, Notification{
				Type:       NotifyApprovalExpired,
				Recipients: recipients,
				Subject:    fmt.Sprintf("Approval expired for %s %s", saved.EntityType, saved.Reference),
				Body:       "The approval passed its deadline without completing",
				Metadata:   map[string]interface{}{"approval_id": saved.ID},
			})
		}
	}

	if s.reminderWindow > 0 {
		reminded, err := s.sendExpiryReminders(ctx, now)
		if err != nil {
			return report, err
		}
		report.Reminded = reminded
	}

	if report.Expired > 0 || report.Reminded > 0 {
		s.log.Info().
			Int("expired", report.Expired).
			Int("reminded", report.Reminded).
			Msg("Expiry sweep completed")
	}
	return report, nil
}

func (s *ApprovalService) sendExpiryReminders(ctx context.Context, now time.Time) (int, error) {
	deadline := now.Add(s.reminderWindow)
	result, err := s.repo.FindMany(ctx, approval.ListFilter{
		Statuses:      []approval.InstanceStatus{approval.StatusPending},
		ExpiresBefore: &deadline,
	}, approval.Page{Limit: 500, SortBy: "expires_at", SortOrder: "asc"})
	if err != nil {
		return 0, apperr.Wrap(err, apperr.CodeInternal, "failed to query expiring approvals")
	}

	reminded := 0
	for _, inst := range result.Items {
		if inst.ReminderSentAt != nil {
			continue
		}
		working := inst.Clone()
		t := now
		working.ReminderSentAt = &t
		saved, err := s.repo.Save(ctx, working)
		if err != nil {
			s.log.Warn().Err(err).Str("approval_id", inst.ID).Msg("Failed to mark reminder sent")
			continue
		}
		reminded++

		stage, _ := saved.ActiveStage()
		recipients := saved.Watchers()
		if stage != nil {
			recipients = stage.Approvers
		}
		recipients = filterRecipients(ctx, s.notifier, recipients, NotifyApprovalExpiring, "")
		if len(recipients) > 0 {
			dispatchNotification(ctx, s.notifier, s.log, Notification{
				Type:       NotifyApprovalExpiring,
				Recipients: recipients,
				Subject:    fmt.Sprintf("Approval expiring soon for %s %s", saved.EntityType, saved.Reference),
				Body:       fmt.Sprintf("The approval expires at %s", saved.ExpiresAt.Format(time.RFC3339)),
				Metadata:   map[string]interface{}{"approval_id": saved.ID},
			})
		}
	}
	return reminded, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// GetByID returns an instance or a NOT_FOUND error.
func (s *ApprovalService) GetByID(ctx context.Context, approvalID string) (*approval.Instance, error) {
	inst, err := s.repo.FindByID(ctx, approvalID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to load approval")
	}
	if inst == nil {
		return nil, apperr.NotFound("approval", approvalID)
	}
	return inst, nil
}

// GetByReference returns the instance indexed under an external reference,
// or nil when none exists.
func (s *ApprovalService) GetByReference(ctx context.Context, entityType, ref string) (*approval.Instance, error) {
	return s.repo.FindByReference(ctx, entityType, ref)
}

// List returns a filtered page of instances.
func (s *ApprovalService) List(ctx context.Context, filter approval.ListFilter, page approval.Page) (*approval.ListResult, error) {
	return s.repo.FindMany(ctx, filter, page)
}

// GetPendingForPrincipal returns instances currently awaiting the
// principal's vote.
func (s *ApprovalService) GetPendingForPrincipal(ctx context.Context, principalID string) ([]*approval.Instance, error) {
	return s.repo.FindPendingForPrincipal(ctx, principalID)
}

// GetAuditTrail returns the instance's audit entries oldest-first.
func (s *ApprovalService) GetAuditTrail(ctx context.Context, approvalID string) ([]*approval.AuditEntry, error) {
	return s.audit.GetByInstanceID(ctx, approvalID)
}
