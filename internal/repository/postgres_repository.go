package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pesio-ai/be-plt-approvals/internal/apperr"
	"github.com/pesio-ai/be-plt-approvals/internal/approval"
)

// PostgresRepository stores approval instances in the approval_instances
// table with the stage/vote history as a JSONB document.
//
// Writes use optimistic concurrency: every UPDATE is conditioned on the
// version the caller loaded and bumps it by one, so two concurrent
// read-modify-write cycles on the same instance cannot silently lose one
// vote. The loser gets a CONFLICT and must reload.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a PostgresRepository on the given pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const instanceColumns = `
	id, entity_type, reference, policy_id, initiator_id, status,
	stages, created_at, updated_at, expires_at, reminder_sent_at, version`

// Save persists the instance under the compare-and-swap discipline.
func (r *PostgresRepository) Save(ctx context.Context, in *approval.Instance) (*approval.Instance, error) {
	return r.save(ctx, in, in.Reference)
}

// SaveWithReference persists the instance indexed under an external reference.
func (r *PostgresRepository) SaveWithReference(ctx context.Context, in *approval.Instance, ref string) (*approval.Instance, error) {
	return r.save(ctx, in, ref)
}

func (r *PostgresRepository) save(ctx context.Context, in *approval.Instance, ref string) (*approval.Instance, error) {
	if in.ID == "" {
		return nil, apperr.InvalidInput("id", "instance ID is required")
	}
	stagesJSON, err := json.Marshal(in.Stages)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to marshal stages")
	}

	stored := in.Clone()
	stored.Reference = ref

	if in.Version == 0 {
		query := `
			INSERT INTO approval_instances
			    (id, entity_type, reference, policy_id, initiator_id, status,
			     stages, created_at, updated_at, expires_at, reminder_sent_at, version)
			VALUES ($1, $2, $3, $4, $5, $6,
			        $7, $8, $9, $10, $11, 1)
			RETURNING version
		`
		err = r.db.QueryRow(ctx, query,
			in.ID, in.EntityType, ref, in.PolicyID, in.InitiatorID, in.Status,
			stagesJSON, in.CreatedAt, in.UpdatedAt, in.ExpiresAt, in.ReminderSentAt,
		).Scan(&stored.Version)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to insert approval instance")
		}
		return stored, nil
	}

	query := `
		UPDATE approval_instances
		SET entity_type      = $3,
		    reference        = $4,
		    policy_id        = $5,
		    initiator_id     = $6,
		    status           = $7,
		    stages           = $8,
		    updated_at       = $9,
		    expires_at       = $10,
		    reminder_sent_at = $11,
		    version          = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version
	`
	err = r.db.QueryRow(ctx, query,
		in.ID, in.Version, in.EntityType, ref, in.PolicyID, in.InitiatorID, in.Status,
		stagesJSON, in.UpdatedAt, in.ExpiresAt, in.ReminderSentAt,
	).Scan(&stored.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.CodeConflict,
			"approval instance %s was modified concurrently", in.ID)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to update approval instance")
	}
	return stored, nil
}

// FindByID returns (nil, nil) when the instance does not exist.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*approval.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM approval_instances WHERE id = $1`
	in, err := r.scanInstance(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return in, err
}

// FindByReference returns the most recent instance for an external
// reference, or (nil, nil) when none exists.
func (r *PostgresRepository) FindByReference(ctx context.Context, entityType, ref string) (*approval.Instance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM approval_instances
		WHERE entity_type = $1 AND reference = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	in, err := r.scanInstance(r.db.QueryRow(ctx, query, entityType, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return in, err
}

// FindMany returns a filtered, sorted page plus the unpaged total.
func (r *PostgresRepository) FindMany(ctx context.Context, filter approval.ListFilter, page approval.Page) (*approval.ListResult, error) {
	where, args := buildWhere(filter)

	var total int
	countQuery := `SELECT COUNT(*) FROM approval_instances` + where
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to count approval instances")
	}

	query := `SELECT ` + instanceColumns + ` FROM approval_instances` + where +
		orderClause(page.SortBy, page.SortOrder)
	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, page.Offset)
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	items, err := r.queryInstances(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &approval.ListResult{
		Items:   items,
		Total:   total,
		HasMore: page.Offset+len(items) < total,
	}, nil
}

// FindPendingForPrincipal returns pending instances awaiting the principal's
// vote. The JSONB containment predicate narrows to instances where any stage
// lists the principal; the active-stage and not-yet-voted checks are
// evaluated in Go to keep the SQL simple.
func (r *PostgresRepository) FindPendingForPrincipal(ctx context.Context, principalID string) ([]*approval.Instance, error) {
	probe, err := json.Marshal([]map[string][]string{{"approvers": {principalID}}})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to build approver probe")
	}

	query := `
		SELECT ` + instanceColumns + `
		FROM approval_instances
		WHERE status = 'pending'
		  AND stages @> $1
		ORDER BY created_at ASC
	`
	candidates, err := r.queryInstances(ctx, query, probe)
	if err != nil {
		return nil, err
	}

	var out []*approval.Instance
	for _, in := range candidates {
		if awaitsVoteFrom(in, principalID) {
			out = append(out, in)
		}
	}
	return out, nil
}

// FindByInitiator returns all instances started by the principal.
func (r *PostgresRepository) FindByInitiator(ctx context.Context, initiatorID string) ([]*approval.Instance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM approval_instances
		WHERE initiator_id = $1
		ORDER BY created_at DESC
	`
	return r.queryInstances(ctx, query, initiatorID)
}

// FindByEntityType returns all instances for an entity type.
func (r *PostgresRepository) FindByEntityType(ctx context.Context, entityType string) ([]*approval.Instance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM approval_instances
		WHERE entity_type = $1
		ORDER BY created_at DESC
	`
	return r.queryInstances(ctx, query, entityType)
}

// FindExpired returns pending instances whose deadline passed before the
// given timestamp.
func (r *PostgresRepository) FindExpired(ctx context.Context, before time.Time) ([]*approval.Instance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM approval_instances
		WHERE status = 'pending'
		  AND expires_at IS NOT NULL
		  AND expires_at < $1
		ORDER BY expires_at ASC
	`
	return r.queryInstances(ctx, query, before)
}

// Delete removes an instance (administrative action only).
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM approval_instances WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeDeleteFailed, "failed to delete approval instance")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("approval", id)
	}
	return nil
}

// Exists reports whether an instance is stored.
func (r *PostgresRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM approval_instances WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, apperr.Wrap(err, apperr.CodeInternal, "failed to check approval existence")
	}
	return exists, nil
}

// ── query building ────────────────────────────────────────────────────────────

func buildWhere(filter approval.ListFilter) (string, []any) {
	var clauses []string
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		clauses = append(clauses, "status = ANY("+arg(statuses)+")")
	}
	if filter.EntityType != "" {
		clauses = append(clauses, "entity_type = "+arg(filter.EntityType))
	}
	if filter.InitiatorID != "" {
		clauses = append(clauses, "initiator_id = "+arg(filter.InitiatorID))
	}
	if filter.Reference != "" {
		clauses = append(clauses, "reference = "+arg(filter.Reference))
	}
	if filter.PolicyID != "" {
		clauses = append(clauses, "policy_id = "+arg(filter.PolicyID))
	}
	if filter.ExpiresBefore != nil {
		clauses = append(clauses, "expires_at IS NOT NULL AND expires_at < "+arg(*filter.ExpiresBefore))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// orderClause whitelists sortable columns so user input never reaches SQL.
func orderClause(sortBy, sortOrder string) string {
	column := "created_at"
	switch sortBy {
	case "updated_at", "expires_at":
		column = sortBy
	}
	direction := "ASC"
	if strings.EqualFold(sortOrder, "desc") {
		direction = "DESC"
	}
	return fmt.Sprintf(" ORDER BY %s %s, id %s", column, direction, direction)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type instanceScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepository) scanInstance(row instanceScanner) (*approval.Instance, error) {
	in := &approval.Instance{}
	var stagesJSON []byte

	err := row.Scan(
		&in.ID,
		&in.EntityType,
		&in.Reference,
		&in.PolicyID,
		&in.InitiatorID,
		&in.Status,
		&stagesJSON,
		&in.CreatedAt,
		&in.UpdatedAt,
		&in.ExpiresAt,
		&in.ReminderSentAt,
		&in.Version,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stagesJSON, &in.Stages); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to unmarshal stages")
	}
	return in, nil
}

func (r *PostgresRepository) queryInstances(ctx context.Context, query string, args ...any) ([]*approval.Instance, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to query approval instances")
	}
	defer rows.Close()

	var out []*approval.Instance
	for rows.Next() {
		in, err := r.scanInstance(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan approval instance")
		}
		out = append(out, in)
	}
	return out, rows.Err()
}
