// Package approval holds the decision core of the platform approvals service:
// policy matching, voting-rule evaluation, the per-instance state machine and
// capability resolution. The package performs no I/O; persistence and
// notification are collaborator contracts consumed by the service layer.
package approval

import "time"

// ── Decisions ─────────────────────────────────────────────────────────────────

// Decision is a single approver's verdict on the active stage.
type Decision string

const (
	DecisionApprove        Decision = "approve"
	DecisionReject         Decision = "reject"
	DecisionRequestChanges Decision = "request_changes"
)

// Valid reports whether d is one of the known decisions.
func (d Decision) Valid() bool {
	switch d {
	case DecisionApprove, DecisionReject, DecisionRequestChanges:
		return true
	}
	return false
}

// ── Voting rules ──────────────────────────────────────────────────────────────

// RuleType selects how a stage's votes are combined into an outcome.
type RuleType string

const (
	RuleAny       RuleType = "any"
	RuleThreshold RuleType = "threshold"
	RuleUnanimous RuleType = "unanimous"
)

// VotingRule gates a stage. Threshold is only meaningful for RuleThreshold.
type VotingRule struct {
	Type      RuleType `json:"type" yaml:"type"`
	Threshold int      `json:"threshold,omitempty" yaml:"threshold,omitempty"`
}

// StageOutcome is the evaluator's answer for a stage's current vote set.
type StageOutcome string

const (
	OutcomeOpen     StageOutcome = "open"
	OutcomeApproved StageOutcome = "approved"
	OutcomeRejected StageOutcome = "rejected"
)

// ── Approver selectors ────────────────────────────────────────────────────────

// SelectorType tags the variants of an ApproverSelector.
type SelectorType string

const (
	SelectorExplicit  SelectorType = "explicit"
	SelectorRole      SelectorType = "role"
	SelectorHierarchy SelectorType = "hierarchy"
	SelectorDynamic   SelectorType = "dynamic"
)

// ApproverSelector abstractly names who may vote on a stage. It is resolved
// to concrete principal IDs exactly once, at stage activation, and the result
// is snapshotted on the Stage.
type ApproverSelector struct {
	Type SelectorType `json:"type" yaml:"type"`
	// Principals lists concrete IDs for SelectorExplicit.
	Principals []string `json:"principals,omitempty" yaml:"principals,omitempty"`
	// Role names the role for SelectorRole.
	Role string `json:"role,omitempty" yaml:"role,omitempty"`
	// Levels is how far up the initiator's management chain to walk for
	// SelectorHierarchy (0 means the direct manager only).
	Levels int `json:"levels,omitempty" yaml:"levels,omitempty"`
	// Resolver names a registered dynamic resolver for SelectorDynamic.
	Resolver string `json:"resolver,omitempty" yaml:"resolver,omitempty"`
}

// ── Policies ──────────────────────────────────────────────────────────────────

// PredicateKind tags the variants of a policy predicate.
type PredicateKind string

const (
	PredicateThreshold PredicateKind = "threshold"
	PredicateEquality  PredicateKind = "equality"
)

// Operator is a predicate comparison operator.
type Operator string

const (
	OpGT  Operator = "gt"
	OpGTE Operator = "gte"
	OpLT  Operator = "lt"
	OpLTE Operator = "lte"
	OpEQ  Operator = "eq"
)

// Predicate is one condition over a request's metric snapshot. Threshold
// predicates compare a numeric metric; equality predicates match a label.
type Predicate struct {
	Kind   PredicateKind `json:"kind" yaml:"kind"`
	Metric string        `json:"metric" yaml:"metric"`
	Op     Operator      `json:"op" yaml:"op"`
	Number float64       `json:"number,omitempty" yaml:"number,omitempty"`
	Label  string        `json:"label,omitempty" yaml:"label,omitempty"`
}

// PredicateLogic combines a policy's predicates.
type PredicateLogic string

const (
	LogicAll PredicateLogic = "all"
	LogicAny PredicateLogic = "any"
)

// StageTemplate is a stage blueprint inside a policy. Immutable once the
// policy is published.
type StageTemplate struct {
	Name     string           `json:"name" yaml:"name"`
	Selector ApproverSelector `json:"selector" yaml:"selector"`
	Rule     VotingRule       `json:"rule" yaml:"rule"`
}

// Policy selects which stage templates apply to a request based on its
// metrics. Policies are configuration: created at load time, never mutated.
type Policy struct {
	ID             string          `json:"id" yaml:"id"`
	Name           string          `json:"name" yaml:"name"`
	EntityType     string          `json:"entity_type" yaml:"entity_type"`
	Priority       int             `json:"priority" yaml:"priority"`
	Predicates     []Predicate     `json:"predicates" yaml:"predicates"`
	PredicateLogic PredicateLogic  `json:"predicate_logic" yaml:"predicate_logic"`
	RequiredStages []StageTemplate `json:"required_stages" yaml:"required_stages"`
	Skippable      bool            `json:"skippable" yaml:"skippable"`
}

// AutoApproves reports the documented edge case where a matched policy means
// the request needs no approval instance at all.
func (p *Policy) AutoApproves() bool {
	return p.Skippable && len(p.RequiredStages) == 0
}

// MetricSnapshot is the request's attributes at submission time, split into
// numeric metrics and string labels.
type MetricSnapshot struct {
	Numbers map[string]float64 `json:"numbers,omitempty"`
	Labels  map[string]string  `json:"labels,omitempty"`
}

// ── Instances ─────────────────────────────────────────────────────────────────

// InstanceStatus is the lifecycle state of an approval instance.
type InstanceStatus string

const (
	StatusPending   InstanceStatus = "pending"
	StatusApproved  InstanceStatus = "approved"
	StatusRejected  InstanceStatus = "rejected"
	StatusCancelled InstanceStatus = "cancelled"
	StatusExpired   InstanceStatus = "expired"
)

// Terminal reports whether the status permits no further transitions.
func (s InstanceStatus) Terminal() bool { return s != StatusPending }

// StageStatus is the lifecycle state of a single stage.
type StageStatus string

const (
	StagePending  StageStatus = "pending"
	StageActive   StageStatus = "active"
	StageApproved StageStatus = "approved"
	StageRejected StageStatus = "rejected"
	StageSkipped  StageStatus = "skipped"
)

// Closed reports whether the stage has reached a terminal status.
func (s StageStatus) Closed() bool {
	return s == StageApproved || s == StageRejected || s == StageSkipped
}

// Vote is one approver's recorded verdict. Append-only per stage, except that
// a re-vote by the same principal overwrites that principal's earlier entry.
type Vote struct {
	PrincipalID string    `json:"principal_id"`
	Decision    Decision  `json:"decision"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Stage is one sequential step of an instance. Approvers is the selector
// resolution snapshotted at activation; later directory changes do not alter
// who may vote.
type Stage struct {
	Name      string           `json:"name"`
	Selector  ApproverSelector `json:"selector"`
	Approvers []string         `json:"approvers,omitempty"`
	Rule      VotingRule       `json:"rule"`
	Status    StageStatus      `json:"status"`
	Votes     []Vote           `json:"votes,omitempty"`
}

// Instance is one live run of an approval workflow against a request.
type Instance struct {
	ID          string         `json:"id"`
	PolicyID    string         `json:"policy_id"`
	EntityType  string         `json:"entity_type"`
	Reference   string         `json:"reference,omitempty"`
	InitiatorID string         `json:"initiator_id"`
	Status      InstanceStatus `json:"status"`
	Stages      []Stage        `json:"stages"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
	// ReminderSentAt records the one-shot expiring-soon reminder.
	ReminderSentAt *time.Time `json:"reminder_sent_at,omitempty"`
	// Version backs the repository's compare-and-swap discipline. It is
	// opaque to the state machine.
	Version int64 `json:"version"`
}

// Watchers returns the deduplicated set of principals interested in state
// changes: the initiator plus every approver across every stage. Order is
// deterministic (initiator first, then stage order).
func (in *Instance) Watchers() []string {
	seen := map[string]struct{}{in.InitiatorID: {}}
	watchers := []string{in.InitiatorID}
	for _, st := range in.Stages {
		for _, a := range st.Approvers {
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			watchers = append(watchers, a)
		}
	}
	return watchers
}

// Clone returns a deep copy. The service layer mutates a clone and only
// adopts it once persistence succeeds, so a failed save leaves the loaded
// instance untouched.
func (in *Instance) Clone() *Instance {
	out := *in
	if in.ExpiresAt != nil {
		t := *in.ExpiresAt
		out.ExpiresAt = &t
	}
	if in.ReminderSentAt != nil {
		t := *in.ReminderSentAt
		out.ReminderSentAt = &t
	}
	out.Stages = make([]Stage, len(in.Stages))
	for i, st := range in.Stages {
		cp := st
		cp.Approvers = append([]string(nil), st.Approvers...)
		cp.Votes = append([]Vote(nil), st.Votes...)
		cp.Selector.Principals = append([]string(nil), st.Selector.Principals...)
		out.Stages[i] = cp
	}
	return &out
}
