package approval

// Capability is one action a principal may or may not currently take.
type Capability string

const (
	CapApprove        Capability = "approve"
	CapReject         Capability = "reject"
	CapRequestChanges Capability = "request_changes"
)

// CapabilityForDecision maps a vote decision to the capability that gates it.
func CapabilityForDecision(d Decision) Capability {
	switch d {
	case DecisionApprove:
		return CapApprove
	case DecisionReject:
		return CapReject
	default:
		return CapRequestChanges
	}
}

// Capabilities answers "what may this principal do right now", with a
// per-capability denial reason so callers can explain refusals without
// guessing.
type Capabilities struct {
	CanApprove        bool                  `json:"can_approve"`
	CanReject         bool                  `json:"can_reject"`
	CanRequestChanges bool                  `json:"can_request_changes"`
	DenialReasons     map[Capability]string `json:"denial_reasons,omitempty"`
}

// Allows reports whether the capability gating the decision is granted.
func (c Capabilities) Allows(d Decision) bool {
	switch CapabilityForDecision(d) {
	case CapApprove:
		return c.CanApprove
	case CapReject:
		return c.CanReject
	default:
		return c.CanRequestChanges
	}
}

// DenialReason returns the reason attached to the decision's capability.
func (c Capabilities) DenialReason(d Decision) string {
	return c.DenialReasons[CapabilityForDecision(d)]
}

// GetCapabilities computes the allowed actions for a principal on an
// instance. A capability is granted only while the instance is pending, a
// stage is active, and the principal is among that stage's snapshotted
// approvers. While the stage is open an approver may change a previously
// cast vote, so an existing vote does not revoke anything.
func GetCapabilities(in *Instance, principalID string) Capabilities {
	if in.Status != StatusPending {
		return denyAll("approval is not in a votable state")
	}

	stage, _ := in.ActiveStage()
	if stage == nil {
		return denyAll("approval has no active stage")
	}
	if !stage.hasApprover(principalID) {
		return denyAll("not an approver on the active stage")
	}

	return Capabilities{
		CanApprove:        true,
		CanReject:         true,
		CanRequestChanges: true,
	}
}

func denyAll(reason string) Capabilities {
	return Capabilities{
		DenialReasons: map[Capability]string{
			CapApprove:        reason,
			CapReject:         reason,
			CapRequestChanges: reason,
		},
	}
}
