package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func vote(principal string, d Decision) Vote {
	return Vote{PrincipalID: principal, Decision: d, Timestamp: time.Now()}
}

func TestEvaluateRuleAny(t *testing.T) {
	rule := VotingRule{Type: RuleAny}
	approvers := []string{"alice", "bob", "carol"}

	tests := []struct {
		name  string
		votes []Vote
		want  StageOutcome
	}{
		{"no votes", nil, OutcomeOpen},
		{"single approve closes", []Vote{vote("alice", DecisionApprove)}, OutcomeApproved},
		{"single reject closes", []Vote{vote("bob", DecisionReject)}, OutcomeRejected},
		{"request_changes stays open", []Vote{vote("alice", DecisionRequestChanges)}, OutcomeOpen},
		{"non-approver vote ignored", []Vote{vote("mallory", DecisionApprove)}, OutcomeOpen},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, EvaluateRule(rule, approvers, tc.votes))
		})
	}
}

func TestEvaluateRuleThreshold(t *testing.T) {
	rule := VotingRule{Type: RuleThreshold, Threshold: 2}
	approvers := []string{"alice", "bob", "carol"}

	tests := []struct {
		name  string
		votes []Vote
		want  StageOutcome
	}{
		{"one approval stays open", []Vote{vote("alice", DecisionApprove)}, OutcomeOpen},
		{"second distinct approval closes", []Vote{
			vote("alice", DecisionApprove), vote("bob", DecisionApprove),
		}, OutcomeApproved},
		{"reject vetoes with zero approvals", []Vote{vote("carol", DecisionReject)}, OutcomeRejected},
		{"reject vetoes despite approvals", []Vote{
			vote("alice", DecisionApprove), vote("bob", DecisionReject),
		}, OutcomeRejected},
		{"request_changes does not count", []Vote{
			vote("alice", DecisionApprove), vote("bob", DecisionRequestChanges),
		}, OutcomeOpen},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, EvaluateRule(rule, approvers, tc.votes))
		})
	}
}

func TestEvaluateRuleUnanimous(t *testing.T) {
	rule := VotingRule{Type: RuleUnanimous}
	approvers := []string{"alice", "bob", "carol"}

	assert.Equal(t, OutcomeOpen, EvaluateRule(rule, approvers, []Vote{
		vote("alice", DecisionApprove),
		vote("bob", DecisionApprove),
	}))
	assert.Equal(t, OutcomeApproved, EvaluateRule(rule, approvers, []Vote{
		vote("alice", DecisionApprove),
		vote("bob", DecisionApprove),
		vote("carol", DecisionApprove),
	}))
	assert.Equal(t, OutcomeRejected, EvaluateRule(rule, approvers, []Vote{
		vote("alice", DecisionApprove),
		vote("bob", DecisionReject),
	}))
}

func TestEvaluateRuleCountsDistinctPrincipals(t *testing.T) {
	// Duplicate entries for the same principal must count once even though
	// the state machine normally prevents them.
	rule := VotingRule{Type: RuleThreshold, Threshold: 2}
	votes := []Vote{vote("alice", DecisionApprove), vote("alice", DecisionApprove)}
	assert.Equal(t, OutcomeOpen, EvaluateRule(rule, []string{"alice", "bob"}, votes))
}

func TestEvaluateRuleEmptyApprovers(t *testing.T) {
	// Unanimous over zero approvers must not auto-approve.
	assert.Equal(t, OutcomeOpen, EvaluateRule(VotingRule{Type: RuleUnanimous}, nil, nil))
}
