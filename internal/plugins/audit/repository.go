package audit

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// AuditRepository is the audit_logs store. It can only append and read;
// rows are never updated or deleted.
type AuditRepository interface {
	// Append inserts e and sets e.ID to the generated id.
	Append(ctx context.Context, e *Entry) error

	// ListByRecord returns up to limit rows for one record, newest first.
	ListByRecord(ctx context.Context, table, recordID string, limit int) ([]Entry, error)
}

// auditRepository implements AuditRepository with MariaDB queries.
type auditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new repository backed by the given DB pool.
func NewAuditRepository(db *sql.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Append(ctx context.Context, e *Entry) error {
	query, args, err := sq.Insert("audit_logs").
		Columns("user_id", "table_name", "record_id", "action", "field_name",
			"old_value", "new_value", "ip_address", "user_agent", "created_at").
		Values(e.UserID, e.TableName, e.RecordID, string(e.Action), e.FieldName,
			e.OldValue, e.NewValue, e.IPAddress, e.UserAgent, e.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("building audit insert: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

func (r *auditRepository) ListByRecord(ctx context.Context, table, recordID string, limit int) ([]Entry, error) {
	query, args, err := sq.Select("id", "user_id", "table_name", "record_id", "action",
		"field_name", "old_value", "new_value", "ip_address", "user_agent", "created_at").
		From("audit_logs").
		Where(sq.Eq{"table_name": table, "record_id": recordID}).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building audit query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e      Entry
			action string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.TableName, &e.RecordID, &action,
			&e.FieldName, &e.OldValue, &e.NewValue, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.Action = Action(action)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return entries, nil
}
