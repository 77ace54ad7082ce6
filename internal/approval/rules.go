package approval

// EvaluateRule answers whether a stage's current vote set is sufficient to
// close the stage, and with what outcome. Pure function over the snapshotted
// approver list and the vote list.
//
// Rejection is asymmetric on purpose: a single reject from any approver
// closes the stage rejected under every rule, so a blocking concern is never
// diluted by a quorum requirement. request_changes never closes a stage.
func EvaluateRule(rule VotingRule, approvers []string, votes []Vote) StageOutcome {
	inSet := make(map[string]struct{}, len(approvers))
	for _, a := range approvers {
		inSet[a] = struct{}{}
	}

	// Votes carry at most one entry per principal (re-votes overwrite), but
	// count distinct principals anyway so the evaluator is safe on any input.
	approvals := make(map[string]struct{})
	for _, v := range votes {
		if _, ok := inSet[v.PrincipalID]; !ok {
			continue
		}
		switch v.Decision {
		case DecisionReject:
			return OutcomeRejected
		case DecisionApprove:
			approvals[v.PrincipalID] = struct{}{}
		}
	}

	switch rule.Type {
	case RuleAny:
		if len(approvals) >= 1 {
			return OutcomeApproved
		}
	case RuleThreshold:
		if rule.Threshold > 0 && len(approvals) >= rule.Threshold {
			return OutcomeApproved
		}
	case RuleUnanimous:
		if len(approvers) > 0 && len(approvals) == len(approvers) {
			return OutcomeApproved
		}
	}
	return OutcomeOpen
}
