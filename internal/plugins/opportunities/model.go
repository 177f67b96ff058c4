// Package opportunities owns the loan opportunity record: creation, partial
// updates under role and stage rules, explicit status transitions, the
// unqualified flag, deal finalisation and soft deletion. Every successful
// mutation is followed by one best-effort audit row.
package opportunities

import (
	"context"
	"fmt"
	"time"

	"github.com/jainabhi1607/loanease/internal/plugins/audit"
)

// codePrefix and codeOffset form the human-facing code: the first
// opportunity is CF10001.
const (
	codePrefix = "CF"
	codeOffset = 10000
)

// FinalisationCompleted is stored in deal_finalisation_status by Finalise.
const FinalisationCompleted = "completed"

// Opportunity is an opportunity row merged with its details and client rows.
type Opportunity struct {
	ID             string
	Code           string
	OrganisationID string
	ClientID       *string
	CreatedBy      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// DetailsID is nil until the first details field is written.
	DetailsID *string

	// Values holds every registry field by key in normalised form.
	Values map[string]any
}

// newValues returns a value set with every registry field cleared.
func newValues() map[string]any {
	values := make(map[string]any, len(registry))
	for _, f := range registry {
		values[f.Key] = nil
	}
	values["status"] = string(StatusDraft)
	values["is_unqualified"] = false
	return values
}

// Status returns the stored status, which may be a legacy value.
func (o *Opportunity) Status() Status {
	s, _ := o.Values["status"].(string)
	return Status(s)
}

// IsUnqualified reports whether the unqualified flag is set.
func (o *Opportunity) IsUnqualified() bool {
	b, _ := o.Values["is_unqualified"].(bool)
	return b
}

// View is the JSON representation: the merged fields at the top level plus
// identity, status label and progress.
func (o *Opportunity) View() map[string]any {
	out := make(map[string]any, len(o.Values)+10)
	for k, v := range o.Values {
		out[k] = v
	}
	status := o.Status()
	out["id"] = o.ID
	out["opportunity_code"] = o.Code
	out["organisation_id"] = o.OrganisationID
	out["client_id"] = o.ClientID
	out["created_by"] = o.CreatedBy
	out["created_at"] = o.CreatedAt
	out["updated_at"] = o.UpdatedAt
	out["status_label"] = status.Label()
	out["progress"] = ProgressFor(status)
	return out
}

func formatCode(seq int64) string {
	return fmt.Sprintf("%s%d", codePrefix, codeOffset+seq)
}

// Actor is the caller of a service operation.
type Actor struct {
	UserID         string
	OrganisationID string
	Admin          bool
	Meta           audit.RequestMeta
}

// actorID returns the audit user id, nil for system callers.
func (a Actor) actorID() *string {
	if a.UserID == "" {
		return nil
	}
	id := a.UserID
	return &id
}

// MutationRecorder appends the audit row for a committed mutation. It never
// fails the caller.
type MutationRecorder interface {
	Record(ctx context.Context, m audit.Mutation) *audit.Entry
}
