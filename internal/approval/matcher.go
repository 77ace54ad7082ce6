package approval

// MatchPolicy evaluates each candidate policy's predicates against the
// snapshot and returns the winner, or nil when nothing matches. Among
// matching policies the highest Priority wins; ties go to the
// first-declared policy so matching stays deterministic. The matcher never
// invents a policy; fallback behavior belongs to the caller.
func MatchPolicy(policies []*Policy, metrics MetricSnapshot) *Policy {
	var winner *Policy
	for _, p := range policies {
		if !policyMatches(p, metrics) {
			continue
		}
		if winner == nil || p.Priority > winner.Priority {
			winner = p
		}
	}
	return winner
}

func policyMatches(p *Policy, metrics MetricSnapshot) bool {
	if len(p.Predicates) == 0 {
		// A predicate-free policy matches everything; priority decides
		// whether it ever wins.
		return true
	}

	logic := p.PredicateLogic
	if logic == "" {
		logic = LogicAll
	}

	for _, pred := range p.Predicates {
		holds := predicateHolds(pred, metrics)
		if logic == LogicAll && !holds {
			return false
		}
		if logic == LogicAny && holds {
			return true
		}
	}
	return logic == LogicAll
}

func predicateHolds(pred Predicate, metrics MetricSnapshot) bool {
	switch pred.Kind {
	case PredicateThreshold:
		value, ok := metrics.Numbers[pred.Metric]
		if !ok {
			return false
		}
		switch pred.Op {
		case OpGT:
			return value > pred.Number
		case OpGTE:
			return value >= pred.Number
		case OpLT:
			return value < pred.Number
		case OpLTE:
			return value <= pred.Number
		case OpEQ:
			return value == pred.Number
		}
		return false

	case PredicateEquality:
		value, ok := metrics.Labels[pred.Metric]
		if !ok {
			return false
		}
		return pred.Op == OpEQ && value == pred.Label
	}
	return false
}
