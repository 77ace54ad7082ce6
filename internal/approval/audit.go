package approval

import "time"

// Audit actions recorded against an instance.
const (
	AuditCreated       = "created"
	AuditVoteRecorded  = "vote_recorded"
	AuditStageAdvanced = "stage_advanced"
	AuditApproved      = "approved"
	AuditRejected      = "rejected"
	AuditCancelled     = "cancelled"
	AuditExpired       = "expired"
)

// AuditEntry is one immutable record in the approval audit log.
type AuditEntry struct {
	ID          string
	InstanceID  string
	EntityType  string
	Action      string
	StageName   string
	PerformedBy string
	PerformedAt time.Time
	Metadata    map[string]interface{}
}
