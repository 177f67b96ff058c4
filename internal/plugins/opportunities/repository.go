package opportunities

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jainabhi1607/loanease/internal/apperror"
)

// mysqlErrNoReferencedRow is ER_NO_REFERENCED_ROW_2, raised when a foreign
// key points at a missing row.
const mysqlErrNoReferencedRow = 1452

// tableAliases are the aliases used in the merged read query.
var tableAliases = map[string]string{
	tableOpportunities: "o",
	tableDetails:       "d",
	tableClients:       "c",
}

// OpportunityRepository defines the data access contract for opportunities.
type OpportunityRepository interface {
	// Create inserts the opportunity and any client or details rows its
	// values need, all in one transaction, and assigns o.Code.
	Create(ctx context.Context, o *Opportunity) error

	// FindByID returns the merged record. Soft-deleted rows are not found.
	FindByID(ctx context.Context, id string) (*Opportunity, error)

	// Apply writes changes (registry key -> normalised value) in one
	// transaction, creating the details or client row on first use. o's
	// DetailsID and ClientID are updated when rows are created.
	Apply(ctx context.Context, o *Opportunity, changes map[string]any, at time.Time) error

	// SoftDelete stamps deleted_at.
	SoftDelete(ctx context.Context, id string, at time.Time) error
}

// opportunityRepository implements OpportunityRepository with MariaDB queries.
type opportunityRepository struct {
	db *sql.DB
}

// NewOpportunityRepository creates a new repository backed by the given DB pool.
func NewOpportunityRepository(db *sql.DB) OpportunityRepository {
	return &opportunityRepository{db: db}
}

// splitByTable groups changes into column -> query argument per table.
func splitByTable(changes map[string]any) (map[string]map[string]any, error) {
	groups := map[string]map[string]any{
		tableOpportunities: {},
		tableDetails:       {},
		tableClients:       {},
	}
	for key, v := range changes {
		f, ok := LookupField(key)
		if !ok {
			return nil, fmt.Errorf("unknown field %q", key)
		}
		groups[f.Table][f.Column] = f.dbValue(v)
	}
	return groups, nil
}

func (r *opportunityRepository) Create(ctx context.Context, o *Opportunity) error {
	nonNil := make(map[string]any, len(o.Values))
	for k, v := range o.Values {
		if v != nil {
			nonNil[k] = v
		}
	}
	groups, err := splitByTable(nonNil)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning create tx: %w", err)
	}
	defer tx.Rollback()

	if cols := groups[tableClients]; len(cols) > 0 {
		clientID := uuid.NewString()
		cols["id"] = clientID
		cols["organisation_id"] = o.OrganisationID
		cols["created_at"] = o.CreatedAt
		cols["updated_at"] = o.CreatedAt
		if err := execInsert(ctx, tx, tableClients, cols); err != nil {
			return mapWriteError(err)
		}
		o.ClientID = &clientID
	}

	cols := groups[tableOpportunities]
	cols["id"] = o.ID
	cols["organisation_id"] = o.OrganisationID
	cols["client_id"] = o.ClientID
	cols["created_by"] = o.CreatedBy
	cols["created_at"] = o.CreatedAt
	cols["updated_at"] = o.CreatedAt
	query, args, err := sq.Insert(tableOpportunities).SetMap(cols).ToSql()
	if err != nil {
		return fmt.Errorf("building opportunity insert: %w", err)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return mapWriteError(err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading opportunity sequence: %w", err)
	}
	code := formatCode(seq)
	if _, err := tx.ExecContext(ctx,
		`UPDATE opportunities SET opportunity_code = ? WHERE id = ?`, code, o.ID,
	); err != nil {
		return fmt.Errorf("assigning opportunity code: %w", err)
	}

	if cols := groups[tableDetails]; len(cols) > 0 {
		detailsID := uuid.NewString()
		cols["id"] = detailsID
		cols["opportunity_id"] = o.ID
		cols["created_at"] = o.CreatedAt
		cols["updated_at"] = o.CreatedAt
		if err := execInsert(ctx, tx, tableDetails, cols); err != nil {
			return mapWriteError(err)
		}
		o.DetailsID = &detailsID
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing create tx: %w", err)
	}
	o.Code = code
	return nil
}

func (r *opportunityRepository) FindByID(ctx context.Context, id string) (*Opportunity, error) {
	cols := []string{
		"o.id", "o.opportunity_code", "o.organisation_id", "o.client_id",
		"o.created_by", "o.created_at", "o.updated_at", "d.id",
	}
	for _, f := range registry {
		cols = append(cols, tableAliases[f.Table]+"."+f.Column)
	}

	query, args, err := sq.Select(cols...).
		From("opportunities o").
		LeftJoin("opportunity_details d ON d.opportunity_id = o.id").
		LeftJoin("clients c ON c.id = o.client_id").
		Where(sq.Eq{"o.id": id, "o.deleted_at": nil}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building opportunity query: %w", err)
	}

	var (
		o         = &Opportunity{}
		code      sql.NullString
		scanners  = make([]fieldScanner, len(registry))
		detailsID sql.NullString
	)
	dest := []any{&o.ID, &code, &o.OrganisationID, &o.ClientID, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt, &detailsID}
	for i, f := range registry {
		scanners[i] = newFieldScanner(f.Kind)
		dest = append(dest, scanners[i].dest())
	}

	err = r.db.QueryRowContext(ctx, query, args...).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("opportunity not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying opportunity: %w", err)
	}

	o.Code = code.String
	if detailsID.Valid {
		o.DetailsID = &detailsID.String
	}
	o.Values = make(map[string]any, len(registry))
	for i, f := range registry {
		o.Values[f.Key] = scanners[i].value()
	}
	return o, nil
}

func (r *opportunityRepository) Apply(ctx context.Context, o *Opportunity, changes map[string]any, at time.Time) error {
	groups, err := splitByTable(changes)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning update tx: %w", err)
	}
	defer tx.Rollback()

	var newClientID, newDetailsID *string

	if cols := groups[tableClients]; len(cols) > 0 {
		cols["updated_at"] = at
		if o.ClientID == nil {
			id := uuid.NewString()
			cols["id"] = id
			cols["organisation_id"] = o.OrganisationID
			cols["created_at"] = at
			if err := execInsert(ctx, tx, tableClients, cols); err != nil {
				return mapWriteError(err)
			}
			groups[tableOpportunities]["client_id"] = id
			newClientID = &id
		} else if _, err := execUpdate(ctx, tx, tableClients, cols, sq.Eq{"id": *o.ClientID}); err != nil {
			return err
		}
	}

	if cols := groups[tableDetails]; len(cols) > 0 {
		cols["updated_at"] = at
		if o.DetailsID == nil {
			id := uuid.NewString()
			cols["id"] = id
			cols["opportunity_id"] = o.ID
			cols["created_at"] = at
			if err := execInsert(ctx, tx, tableDetails, cols); err != nil {
				return mapWriteError(err)
			}
			newDetailsID = &id
		} else if _, err := execUpdate(ctx, tx, tableDetails, cols, sq.Eq{"id": *o.DetailsID}); err != nil {
			return err
		}
	}

	cols := groups[tableOpportunities]
	cols["updated_at"] = at
	rows, err := execUpdate(ctx, tx, tableOpportunities, cols, sq.Eq{"id": o.ID, "deleted_at": nil})
	if err != nil {
		return err
	}
	// Deleted between load and write; the rollback discards the child rows too.
	if rows == 0 {
		return apperror.NewNotFound("opportunity not found")
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing update tx: %w", err)
	}
	if newClientID != nil {
		o.ClientID = newClientID
	}
	if newDetailsID != nil {
		o.DetailsID = newDetailsID
	}
	return nil
}

func (r *opportunityRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	query, args, err := sq.Update(tableOpportunities).
		Set("deleted_at", at).
		Set("updated_at", at).
		Where(sq.Eq{"id": id, "deleted_at": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting opportunity: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperror.NewNotFound("opportunity not found")
	}
	return nil
}

func execInsert(ctx context.Context, tx *sql.Tx, table string, cols map[string]any) error {
	query, args, err := sq.Insert(table).SetMap(cols).ToSql()
	if err != nil {
		return fmt.Errorf("building %s insert: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting %s: %w", table, err)
	}
	return nil
}

// execUpdate returns the number of rows the WHERE clause matched. The DSN
// sets clientFoundRows so an update that changes nothing still counts.
func execUpdate(ctx context.Context, tx *sql.Tx, table string, cols map[string]any, where sq.Eq) (int64, error) {
	query, args, err := sq.Update(table).SetMap(cols).Where(where).ToSql()
	if err != nil {
		return 0, fmt.Errorf("building %s update: %w", table, err)
	}
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("updating %s: %w", table, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting %s rows: %w", table, err)
	}
	return rows, nil
}

// mapWriteError turns foreign key violations into a validation error.
func mapWriteError(err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlErrNoReferencedRow {
		return apperror.NewValidation("organisation does not exist")
	}
	return err
}

// fieldScanner holds one nullable column of the merged read.
type fieldScanner struct {
	str  sql.NullString
	dec  decimal.NullDecimal
	tm   sql.NullTime
	flag sql.NullBool
	kind Kind
}

func newFieldScanner(k Kind) fieldScanner {
	return fieldScanner{kind: k}
}

func (s *fieldScanner) dest() any {
	switch s.kind {
	case KindDecimal:
		return &s.dec
	case KindDate, KindDateTime:
		return &s.tm
	case KindBool:
		return &s.flag
	default:
		return &s.str
	}
}

// value returns the scanned column in normalised form.
func (s *fieldScanner) value() any {
	switch s.kind {
	case KindDecimal:
		if s.dec.Valid {
			return s.dec.Decimal.StringFixed(2)
		}
	case KindDate:
		if s.tm.Valid {
			return s.tm.Time.Format(dateLayout)
		}
	case KindDateTime:
		if s.tm.Valid {
			return s.tm.Time.UTC().Format(dateTimeLayout)
		}
	case KindBool:
		if s.flag.Valid {
			return s.flag.Bool
		}
	default:
		if s.str.Valid {
			return s.str.String
		}
	}
	return nil
}
