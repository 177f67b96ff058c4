// Package audit keeps the append-only trail of opportunity mutations and
// turns it back into a readable history feed.
//
// Writes go through the Recorder, which classifies each mutation into one
// coarse category tag and appends exactly one row. Appends are best-effort:
// the business write has already committed, so a failed append is logged
// and counted, never surfaced to the caller. Reads go through the
// HistoryService, which renders every row with Describe. Rows written
// before category tags existed (field_name NULL) are described from their
// payload keys instead.
package audit

import (
	"encoding/json"
	"time"
)

// Action is the kind of mutation an audit row records.
type Action string

const (
	ActionCreate           Action = "create"
	ActionUpdate           Action = "update"
	ActionDelete           Action = "delete"
	ActionFinaliseComplete Action = "finalise_complete"
)

// FieldTag is the coarse category stored in audit_logs.field_name. It labels
// the whole mutation; the payload keeps the field-level diff.
type FieldTag string

const (
	TagStatusChange            FieldTag = "status_change"
	TagUnqualifiedStatus       FieldTag = "unqualified_status"
	TagExternalRef             FieldTag = "external_ref"
	TagTeamMember              FieldTag = "team_member"
	TagClientDetails           FieldTag = "client_details"
	TagLoanDetails             FieldTag = "loan_details"
	TagFinancialDetails        FieldTag = "financial_details"
	TagICRLVR                  FieldTag = "icr_lvr"
	TagPaymentInfo             FieldTag = "payment_info"
	TagLoanReference           FieldTag = "loan_reference"
	TagDeclinedWithdrawnReason FieldTag = "declined_withdrawn_reason"
	TagNotes                   FieldTag = "notes"
	TagAddress                 FieldTag = "address"

	// TagOpportunityDetails is used when no category matches any changed key.
	TagOpportunityDetails FieldTag = "opportunity_details"
)

// Entry is one row of audit_logs. Rows are inserted once and never updated
// or deleted.
type Entry struct {
	ID        int64     `json:"id"`
	UserID    *string   `json:"user_id"`
	TableName string    `json:"table_name"`
	RecordID  string    `json:"record_id"`
	Action    Action    `json:"action"`
	FieldName *string   `json:"field_name"`
	OldValue  *string   `json:"old_value"`
	NewValue  *string   `json:"new_value"`
	IPAddress *string   `json:"ip_address"`
	UserAgent *string   `json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
}

// Tag returns the entry's category tag, or "" for legacy untagged rows.
func (e Entry) Tag() FieldTag {
	if e.FieldName == nil {
		return ""
	}
	return FieldTag(*e.FieldName)
}

// RequestMeta identifies where a mutation came from.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// Mutation describes one logical change to a tracked record. Changed holds
// only the fields whose value actually changed (new values); Previous holds
// the prior values of the same keys.
type Mutation struct {
	Table    string
	RecordID string
	Action   Action
	Changed  map[string]any
	Previous map[string]any

	// ActorID is nil for system and import originated writes.
	ActorID *string
	Meta    RequestMeta
}

// HistoryEntry is one line of the rendered history feed.
type HistoryEntry struct {
	Date        string          `json:"date"`
	Time        string          `json:"time"`
	Action      Action          `json:"action"`
	FieldName   *string         `json:"field_name"`
	OldValue    json.RawMessage `json:"old_value"`
	NewValue    json.RawMessage `json:"new_value"`
	Description string          `json:"description"`
	UserName    string          `json:"user_name"`
	IPAddress   *string         `json:"ip_address"`
	CreatedAt   time.Time       `json:"created_at"`
}
