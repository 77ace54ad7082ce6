package approval

import (
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/apperr"
)

// NewInstance builds a pending instance from a policy's stage templates.
// All stages start pending; the service layer resolves and activates the
// first stage before the instance is persisted. The caller assigns the ID.
func NewInstance(policy *Policy, entityType, reference, initiatorID string, expiresAt *time.Time, now time.Time) *Instance {
	stages := make([]Stage, 0, len(policy.RequiredStages))
	for _, tpl := range policy.RequiredStages {
		stages = append(stages, Stage{
			Name:     tpl.Name,
			Selector: tpl.Selector,
			Rule:     tpl.Rule,
			Status:   StagePending,
		})
	}
	return &Instance{
		PolicyID:    policy.ID,
		EntityType:  entityType,
		Reference:   reference,
		InitiatorID: initiatorID,
		Status:      StatusPending,
		Stages:      stages,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   expiresAt,
	}
}

// ActiveStage returns the currently active stage and its index, or (nil, -1)
// when no stage is active. By construction at most one stage is ever active
// and it is the earliest stage that is not yet closed.
func (in *Instance) ActiveStage() (*Stage, int) {
	for i := range in.Stages {
		if in.Stages[i].Status == StageActive {
			return &in.Stages[i], i
		}
	}
	return nil, -1
}

// ActivateStage marks the stage at idx active with the given approver
// snapshot. The stage must be pending and must be the earliest non-closed
// stage, which keeps the single-active-stage invariant.
func (in *Instance) ActivateStage(idx int, approvers []string, now time.Time) error {
	if in.Status != StatusPending {
		return apperr.Newf(apperr.CodeConflict, "instance is %s, no stage can activate", in.Status)
	}
	if idx < 0 || idx >= len(in.Stages) {
		return apperr.Newf(apperr.CodeConflict, "stage index %d out of range", idx)
	}
	if in.Stages[idx].Status != StagePending {
		return apperr.Newf(apperr.CodeConflict, "stage %q is %s, not pending", in.Stages[idx].Name, in.Stages[idx].Status)
	}
	for i := 0; i < idx; i++ {
		if !in.Stages[i].Status.Closed() {
			return apperr.Newf(apperr.CodeConflict, "stage %q cannot activate before stage %q closes", in.Stages[idx].Name, in.Stages[i].Name)
		}
	}
	if len(approvers) == 0 {
		return apperr.InvalidInput("approvers", "stage activation requires at least one approver")
	}
	in.Stages[idx].Approvers = append([]string(nil), approvers...)
	in.Stages[idx].Status = StageActive
	in.UpdatedAt = now
	return nil
}

// VoteResult summarizes what a recorded vote did to the instance.
type VoteResult struct {
	// StageIndex is the stage the vote landed on.
	StageIndex int
	// Outcome is the evaluator's verdict for that stage after the vote.
	Outcome StageOutcome
	// NextStageIndex is the stage awaiting activation when the voted stage
	// closed approved and more stages remain; -1 otherwise. The caller must
	// resolve approvers and call ActivateStage before persisting.
	NextStageIndex int
	// InstanceComplete is true when the vote closed the final stage approved.
	InstanceComplete bool
}

// RecordVote applies one principal's decision to the active stage.
//
// A re-vote by the same principal replaces the earlier entry rather than
// appending a duplicate, so casting the same decision twice is an idempotent
// no-op. Closed stages are never mutated again: a rejection marks the stage
// and the instance rejected and leaves every later stage pending forever.
func (in *Instance) RecordVote(voterID string, decision Decision, reason string, now time.Time) (*VoteResult, error) {
	if !decision.Valid() {
		return nil, apperr.Newf(apperr.CodeInvalidDecision, "unknown decision %q", decision)
	}

	stage, idx := in.ActiveStage()
	if stage == nil {
		return nil, apperr.Newf(apperr.CodeNotFound, "no active stage: instance is %s", in.Status)
	}
	if !stage.hasApprover(voterID) {
		return nil, apperr.NotAuthorized("not an approver on the active stage")
	}

	stage.upsertVote(Vote{
		PrincipalID: voterID,
		Decision:    decision,
		Reason:      reason,
		Timestamp:   now,
	})

	result := &VoteResult{StageIndex: idx, NextStageIndex: -1}
	result.Outcome = EvaluateRule(stage.Rule, stage.Approvers, stage.Votes)

	switch result.Outcome {
	case OutcomeApproved:
		stage.Status = StageApproved
		if idx+1 < len(in.Stages) {
			result.NextStageIndex = idx + 1
		} else {
			in.Status = StatusApproved
			result.InstanceComplete = true
		}
	case OutcomeRejected:
		stage.Status = StageRejected
		in.Status = StatusRejected
	}

	in.UpdatedAt = now
	return result, nil
}

// Cancel terminates a pending instance on explicit actor action. The active
// stage, if any, is short-circuited to skipped; later stages stay pending.
func (in *Instance) Cancel(now time.Time) error {
	return in.terminate(StatusCancelled, now)
}

// Expire terminates a pending instance past its deadline. Same stage
// disposition as Cancel.
func (in *Instance) Expire(now time.Time) error {
	return in.terminate(StatusExpired, now)
}

func (in *Instance) terminate(status InstanceStatus, now time.Time) error {
	if in.Status != StatusPending {
		return apperr.Newf(apperr.CodeConflict, "instance is already %s", in.Status)
	}
	if stage, _ := in.ActiveStage(); stage != nil {
		stage.Status = StageSkipped
	}
	in.Status = status
	in.UpdatedAt = now
	return nil
}

// ── Stage helpers ─────────────────────────────────────────────────────────────

func (s *Stage) hasApprover(principalID string) bool {
	for _, a := range s.Approvers {
		if a == principalID {
			return true
		}
	}
	return false
}

// VoteBy returns the principal's recorded vote on this stage, if any.
func (s *Stage) VoteBy(principalID string) *Vote {
	for i := range s.Votes {
		if s.Votes[i].PrincipalID == principalID {
			return &s.Votes[i]
		}
	}
	return nil
}

func (s *Stage) upsertVote(v Vote) {
	for i := range s.Votes {
		if s.Votes[i].PrincipalID == v.PrincipalID {
			s.Votes[i] = v
			return
		}
	}
	s.Votes = append(s.Votes, v)
}
