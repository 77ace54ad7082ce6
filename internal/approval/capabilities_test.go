package approval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilitiesGrantedForActiveApprover(t *testing.T) {
	in := activeInstance(t)

	caps := GetCapabilities(in, "manager")
	assert.True(t, caps.CanApprove)
	assert.True(t, caps.CanReject)
	assert.True(t, caps.CanRequestChanges)
	assert.Empty(t, caps.DenialReasons)
}

func TestCapabilitiesDeniedForNonApprover(t *testing.T) {
	in := activeInstance(t)

	// vp sits on the second stage, which is not active yet.
	for _, principal := range []string{"mallory", "vp", "dave"} {
		caps := GetCapabilities(in, principal)
		assert.False(t, caps.CanApprove, principal)
		assert.False(t, caps.CanReject, principal)
		assert.False(t, caps.CanRequestChanges, principal)
		for _, c := range []Capability{CapApprove, CapReject, CapRequestChanges} {
			assert.NotEmpty(t, caps.DenialReasons[c], "%s/%s needs a denial reason", principal, c)
		}
	}
}

func TestCapabilitiesDeniedOnTerminalInstance(t *testing.T) {
	in := activeInstance(t)
	_, err := in.RecordVote("manager", DecisionReject, "no", testTime)
	require.NoError(t, err)

	caps := GetCapabilities(in, "manager")
	assert.False(t, caps.CanApprove)
	assert.Equal(t, "approval is not in a votable state", caps.DenialReasons[CapApprove])
}

func TestCapabilitiesAllowsMapsDecisions(t *testing.T) {
	in := activeInstance(t)
	caps := GetCapabilities(in, "manager")
	assert.True(t, caps.Allows(DecisionApprove))
	assert.True(t, caps.Allows(DecisionReject))
	assert.True(t, caps.Allows(DecisionRequestChanges))

	denied := GetCapabilities(in, "mallory")
	assert.False(t, denied.Allows(DecisionApprove))
	assert.Equal(t, "not an approver on the active stage", denied.DenialReason(DecisionApprove))
}
