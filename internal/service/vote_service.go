package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-plt-approvals/internal/apperr"
	"github.com/pesio-ai/be-plt-approvals/internal/approval"
)

// VoteService is the vote-processing entry point: it loads the instance,
// gates the action through capability resolution, applies the vote via the
// state machine, persists, and notifies watchers.
type VoteService struct {
	repo     Repository
	resolver ApproverResolver
	notifier Notifier
	audit    AuditLog
	log      zerolog.Logger
	now      func() time.Time
}

// NewVoteService creates a VoteService.
func NewVoteService(
	repo Repository,
	resolver ApproverResolver,
	notifier Notifier,
	audit AuditLog,
	log zerolog.Logger,
) *VoteService {
	return &VoteService{
		repo:     repo,
		resolver: resolver,
		notifier: notifier,
		audit:    audit,
		log:      log,
		now:      time.Now,
	}
}

// VoteReceipt is the outcome summary returned alongside the updated instance.
type VoteReceipt struct {
	Approval    *approval.Instance
	IsComplete  bool
	WasApproved bool
	WasRejected bool
	Progress    approval.Progress
}

// ProcessVote records one principal's decision on an approval instance.
//
// The vote is applied to a clone of the loaded instance and only adopted
// once persistence succeeds, so a failed save leaves no partial vote behind.
// Notification dispatch is best-effort and never fails the operation.
func (s *VoteService) ProcessVote(
	ctx context.Context,
	approvalID, voterID string,
	decision approval.Decision,
	reason string,
) (*VoteReceipt, error) {
	if !decision.Valid() {
		return nil, apperr.Newf(apperr.CodeInvalidDecision, "unknown decision %q", decision)
	}

	inst, err := s.repo.FindByID(ctx, approvalID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to load approval")
	}
	if inst == nil {
		return nil, apperr.NotFound("approval", approvalID)
	}

	caps := approval.GetCapabilities(inst, voterID)
	if !caps.Allows(decision) {
		return nil, apperr.NotAuthorized(caps.DenialReason(decision))
	}

	working := inst.Clone()
	result, err := working.RecordVote(voterID, decision, reason, s.now())
	if err != nil {
		return nil, err
	}

	// Stage closed approved with stages remaining: snapshot the next
	// stage's approvers before persisting, so the saved instance never has
	// an unresolved active stage.
	if result.NextStageIndex >= 0 {
		next := working.Stages[result.NextStageIndex]
		approvers, err := s.resolver.Resolve(ctx, next.Selector, ResolveContext{
			EntityType:  working.EntityType,
			Reference:   working.Reference,
			InitiatorID: working.InitiatorID,
		})
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal,
				fmt.Sprintf("failed to resolve approvers for stage %q", next.Name))
		}
		if err := working.ActivateStage(result.NextStageIndex, approvers, s.now()); err != nil {
			return nil, err
		}
	}

	saved, err := s.repo.Save(ctx, working)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeSaveFailed, "failed to persist vote")
	}

	receipt := &VoteReceipt{
		Approval:    saved,
		IsComplete:  saved.Status != approval.StatusPending,
		WasApproved: saved.Status == approval.StatusApproved,
		WasRejected: saved.Status == approval.StatusRejected,
		Progress:    approval.ComputeProgress(saved),
	}

	stageName := saved.Stages[result.StageIndex].Name
	s.appendAudit(ctx, &approval.AuditEntry{
		InstanceID:  saved.ID,
		EntityType:  saved.EntityType,
		Action:      approval.AuditVoteRecorded,
		StageName:   stageName,
		PerformedBy: voterID,
		Metadata: map[string]interface{}{
			"decision":      string(decision),
			"stage_outcome": string(result.Outcome),
		},
	})
	if result.NextStageIndex >= 0 {
		s.appendAudit(ctx, &approval.AuditEntry{
			InstanceID: saved.ID, EntityType: saved.EntityType,
			Action:    approval.AuditStageAdvanced,
			StageName: saved.Stages[result.NextStageIndex].Name,
		})
	}
	if receipt.WasApproved {
		s.appendAudit(ctx, &approval.AuditEntry{
			InstanceID: saved.ID, EntityType: saved.EntityType,
			Action: approval.AuditApproved, PerformedBy: voterID,
		})
	}
	if receipt.WasRejected {
		s.appendAudit(ctx, &approval.AuditEntry{
			InstanceID: saved.ID, EntityType: saved.EntityType,
			Action: approval.AuditRejected, StageName: stageName, PerformedBy: voterID,
		})
	}

	s.notifyVoteRecorded(ctx, saved, voterID, decision, stageName)
	if receipt.IsComplete {
		s.notifyComplete(ctx, saved)
	}

	s.log.Info().
		Str("approval_id", saved.ID).
		Str("voter_id", voterID).
		Str("decision", string(decision)).
		Str("status", string(saved.Status)).
		Int("percent_complete", receipt.Progress.PercentComplete).
		Msg("Vote processed")

	return receipt, nil
}

// GetCapabilities exposes capability resolution for callers that need to
// render or pre-check actions without voting.
func (s *VoteService) GetCapabilities(ctx context.Context, approvalID, principalID string) (approval.Capabilities, error) {
	inst, err := s.repo.FindByID(ctx, approvalID)
	if err != nil {
		return approval.Capabilities{}, apperr.Wrap(err, apperr.CodeInternal, "failed to load approval")
	}
	if inst == nil {
		return approval.Capabilities{}, apperr.NotFound("approval", approvalID)
	}
	return approval.GetCapabilities(inst, principalID), nil
}

// ── Notifications ─────────────────────────────────────────────────────────────

// notifyVoteRecorded informs every watcher except the voter.
func (s *VoteService) notifyVoteRecorded(ctx context.Context, in *approval.Instance, voterID string, decision approval.Decision, stageName string) {
	recipients := s.eligibleRecipients(ctx, in.Watchers(), NotifyVoteRecorded, voterID)
	if len(recipients) == 0 {
		return
	}
	s.dispatch(ctx, Notification{
		Type:       NotifyVoteRecorded,
		Recipients: recipients,
		Subject:    fmt.Sprintf("Vote recorded on %s %s", in.EntityType, in.Reference),
		Body:       fmt.Sprintf("%s voted %s on stage %q", voterID, decision, stageName),
		Metadata: map[string]interface{}{
			"approval_id": in.ID,
			"decision":    string(decision),
			"stage":       stageName,
		},
	})
}

// notifyComplete informs every watcher, the voter included.
func (s *VoteService) notifyComplete(ctx context.Context, in *approval.Instance) {
	recipients := s.eligibleRecipients(ctx, in.Watchers(), NotifyApprovalComplete, "")
	if len(recipients) == 0 {
		return
	}
	s.dispatch(ctx, Notification{
		Type:       NotifyApprovalComplete,
		Recipients: recipients,
		Subject:    fmt.Sprintf("Approval %s for %s %s", in.Status, in.EntityType, in.Reference),
		Body:       fmt.Sprintf("The approval finished with status %s", in.Status),
		Metadata:   map[string]interface{}{"approval_id": in.ID, "status": string(in.Status)},
	})
}

func (s *VoteService) eligibleRecipients(ctx context.Context, watchers []string, t NotificationType, exclude string) []string {
	return filterRecipients(ctx, s.notifier, watchers, t, exclude)
}

func (s *VoteService) dispatch(ctx context.Context, n Notification) {
	dispatchNotification(ctx, s.notifier, s.log, n)
}

func (s *VoteService) appendAudit(ctx context.Context, entry *approval.AuditEntry) {
	appendAudit(ctx, s.audit, s.log, entry)
}
