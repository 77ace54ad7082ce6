package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pesio-ai/be-plt-approvals/internal/apperr"
	"github.com/pesio-ai/be-plt-approvals/internal/approval"
)

// PostgresAuditLog appends and reads immutable approval audit log entries.
// The table has a delete-prevention trigger so append is the only mutation
// operation exposed.
type PostgresAuditLog struct {
	db *pgxpool.Pool
}

// NewPostgresAuditLog creates a PostgresAuditLog.
func NewPostgresAuditLog(db *pgxpool.Pool) *PostgresAuditLog {
	return &PostgresAuditLog{db: db}
}

// Append inserts one audit entry.
func (r *PostgresAuditLog) Append(ctx context.Context, entry *approval.AuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO approval_audit_log
		    (instance_id, entity_type, action, stage_name, performed_by, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, performed_at
	`

	return r.db.QueryRow(ctx, query,
		entry.InstanceID,
		entry.EntityType,
		entry.Action,
		nullable(entry.StageName),
		nullable(entry.PerformedBy),
		metadataJSON,
	).Scan(&entry.ID, &entry.PerformedAt)
}

// GetByInstanceID returns the full audit trail for an instance oldest-first.
func (r *PostgresAuditLog) GetByInstanceID(ctx context.Context, instanceID string) ([]*approval.AuditEntry, error) {
	query := `
		SELECT id, instance_id, entity_type, action, stage_name,
		       performed_by, performed_at, metadata
		FROM approval_audit_log
		WHERE instance_id = $1
		ORDER BY performed_at ASC
	`

	rows, err := r.db.Query(ctx, query, instanceID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *PostgresAuditLog) scanRows(rows pgx.Rows) ([]*approval.AuditEntry, error) {
	var entries []*approval.AuditEntry
	for rows.Next() {
		entry := &approval.AuditEntry{}
		var stageName, performedBy *string
		var metadataJSON []byte

		err := rows.Scan(
			&entry.ID,
			&entry.InstanceID,
			&entry.EntityType,
			&entry.Action,
			&stageName,
			&performedBy,
			&entry.PerformedAt,
			&metadataJSON,
		)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan audit entry")
		}
		if stageName != nil {
			entry.StageName = *stageName
		}
		if performedBy != nil {
			entry.PerformedBy = *performedBy
		}
		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to unmarshal audit metadata")
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
