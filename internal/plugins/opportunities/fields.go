package opportunities

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jainabhi1607/loanease/internal/apperror"
	"github.com/jainabhi1607/loanease/internal/sanitize"
)

// Table names owning registry fields.
const (
	tableOpportunities = "opportunities"
	tableDetails       = "opportunity_details"
	tableClients       = "clients"
)

// Kind is how a field's value is parsed, compared and stored.
type Kind int

const (
	KindText Kind = iota
	KindDecimal
	KindDate
	KindDateTime
	KindBool
	KindUser
	KindStatus
)

// Access says who may set a field through a partial update.
type Access int

const (
	// AccessSystem fields are only written by dedicated operations.
	AccessSystem Access = iota
	// AccessAdmin fields are writable by admins only.
	AccessAdmin
	// AccessReferrerDraft fields are writable by referrers while the
	// opportunity is a draft.
	AccessReferrerDraft
	// AccessReferrerAlways fields are writable by referrers at any status.
	AccessReferrerAlways
)

// Layouts of the normalised date and datetime values.
const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = time.RFC3339
)

// Field declares one mutable opportunity attribute.
//
// Values are held in a normalised form used for diffs, audit payloads and
// JSON output: text, user and status fields are strings; decimals are
// strings with two places; dates are YYYY-MM-DD; datetimes are RFC 3339 in
// UTC; bools are bools. A cleared field is nil.
type Field struct {
	Key    string
	Table  string
	Column string
	Kind   Kind
	Access Access
	// MaxLen bounds text values in characters. Zero means unbounded.
	MaxLen int
	// IntDigits bounds the integer part of decimals. Zero means
	// defaultIntDigits.
	IntDigits int
}

// defaultIntDigits fits DECIMAL(15,2).
const defaultIntDigits = 13

// registry lists every mutable field once, in display order.
var registry = []Field{
	{Key: "status", Table: tableOpportunities, Column: "status", Kind: KindStatus, Access: AccessAdmin},
	{Key: "external_ref", Table: tableOpportunities, Column: "external_ref", Kind: KindText, Access: AccessAdmin, MaxLen: 100},
	{Key: "assigned_to", Table: tableOpportunities, Column: "assigned_to", Kind: KindUser, Access: AccessAdmin},

	{Key: "client_entity_name", Table: tableClients, Column: "entity_name", Kind: KindText, Access: AccessReferrerDraft, MaxLen: 255},
	{Key: "client_contact_first_name", Table: tableClients, Column: "contact_first_name", Kind: KindText, Access: AccessReferrerAlways, MaxLen: 100},
	{Key: "client_contact_last_name", Table: tableClients, Column: "contact_last_name", Kind: KindText, Access: AccessReferrerAlways, MaxLen: 100},
	{Key: "client_mobile", Table: tableClients, Column: "mobile", Kind: KindText, Access: AccessReferrerAlways, MaxLen: 50},
	{Key: "client_email", Table: tableClients, Column: "email", Kind: KindText, Access: AccessReferrerAlways, MaxLen: 255},
	{Key: "client_abn", Table: tableClients, Column: "abn", Kind: KindText, Access: AccessReferrerDraft, MaxLen: 20},
	{Key: "client_industry", Table: tableClients, Column: "industry", Kind: KindText, Access: AccessReferrerDraft, MaxLen: 100},

	{Key: "loan_amount", Table: tableOpportunities, Column: "loan_amount", Kind: KindDecimal, Access: AccessReferrerDraft},
	{Key: "loan_type", Table: tableOpportunities, Column: "loan_type", Kind: KindText, Access: AccessReferrerDraft, MaxLen: 100},
	{Key: "loan_purpose", Table: tableOpportunities, Column: "loan_purpose", Kind: KindText, Access: AccessReferrerDraft, MaxLen: 255},
	{Key: "asset_type", Table: tableOpportunities, Column: "asset_type", Kind: KindText, Access: AccessReferrerDraft, MaxLen: 100},
	{Key: "asset_address", Table: tableOpportunities, Column: "asset_address", Kind: KindText, Access: AccessReferrerDraft, MaxLen: 255},
	{Key: "property_value", Table: tableOpportunities, Column: "property_value", Kind: KindDecimal, Access: AccessReferrerDraft},
	{Key: "lender", Table: tableOpportunities, Column: "lender", Kind: KindText, Access: AccessReferrerDraft, MaxLen: 100},
	{Key: "target_settlement_date", Table: tableOpportunities, Column: "target_settlement_date", Kind: KindDate, Access: AccessReferrerDraft},
	{Key: "date_settled", Table: tableOpportunities, Column: "date_settled", Kind: KindDate, Access: AccessAdmin},

	{Key: "annual_revenue", Table: tableDetails, Column: "annual_revenue", Kind: KindDecimal, Access: AccessReferrerDraft},
	{Key: "net_profit_before_tax", Table: tableDetails, Column: "net_profit_before_tax", Kind: KindDecimal, Access: AccessReferrerDraft},
	{Key: "amortisation", Table: tableDetails, Column: "amortisation", Kind: KindDecimal, Access: AccessReferrerDraft},
	{Key: "depreciation", Table: tableDetails, Column: "depreciation", Kind: KindDecimal, Access: AccessReferrerDraft},
	{Key: "existing_interest_costs", Table: tableDetails, Column: "existing_interest_costs", Kind: KindDecimal, Access: AccessReferrerDraft},
	{Key: "rental_expense", Table: tableDetails, Column: "rental_expense", Kind: KindDecimal, Access: AccessReferrerDraft},
	{Key: "proposed_rental_income", Table: tableDetails, Column: "proposed_rental_income", Kind: KindDecimal, Access: AccessReferrerDraft},
	{Key: "existing_liabilities", Table: tableDetails, Column: "existing_liabilities", Kind: KindText, Access: AccessReferrerDraft},
	{Key: "additional_security", Table: tableDetails, Column: "additional_security", Kind: KindText, Access: AccessReferrerDraft},

	{Key: "icr", Table: tableOpportunities, Column: "icr", Kind: KindDecimal, Access: AccessAdmin, IntDigits: 6},
	{Key: "lvr", Table: tableOpportunities, Column: "lvr", Kind: KindDecimal, Access: AccessAdmin, IntDigits: 6},

	{Key: "payment_received_date", Table: tableDetails, Column: "payment_received_date", Kind: KindDate, Access: AccessAdmin},
	{Key: "payment_amount", Table: tableDetails, Column: "payment_amount", Kind: KindDecimal, Access: AccessAdmin},
	{Key: "invoice_number", Table: tableDetails, Column: "invoice_number", Kind: KindText, Access: AccessAdmin, MaxLen: 100},

	{Key: "loan_acc_ref_no", Table: tableDetails, Column: "loan_acc_ref_no", Kind: KindText, Access: AccessAdmin, MaxLen: 100},
	{Key: "flex_id", Table: tableDetails, Column: "flex_id", Kind: KindText, Access: AccessAdmin, MaxLen: 100},

	{Key: "declined_reason", Table: tableOpportunities, Column: "declined_reason", Kind: KindText, Access: AccessAdmin},
	{Key: "withdrawn_reason", Table: tableOpportunities, Column: "withdrawn_reason", Kind: KindText, Access: AccessAdmin},

	{Key: "notes", Table: tableOpportunities, Column: "notes", Kind: KindText, Access: AccessReferrerAlways},

	{Key: "street_address", Table: tableDetails, Column: "street_address", Kind: KindText, Access: AccessReferrerDraft, MaxLen: 255},
	{Key: "city", Table: tableDetails, Column: "city", Kind: KindText, Access: AccessReferrerDraft, MaxLen: 100},
	{Key: "state", Table: tableDetails, Column: "state", Kind: KindText, Access: AccessReferrerDraft, MaxLen: 50},
	{Key: "postcode", Table: tableDetails, Column: "postcode", Kind: KindText, Access: AccessReferrerDraft, MaxLen: 10},

	{Key: "term1", Table: tableDetails, Column: "term1", Kind: KindBool, Access: AccessReferrerDraft},
	{Key: "term2", Table: tableDetails, Column: "term2", Kind: KindBool, Access: AccessReferrerDraft},
	{Key: "term3", Table: tableDetails, Column: "term3", Kind: KindBool, Access: AccessReferrerDraft},
	{Key: "term4", Table: tableDetails, Column: "term4", Kind: KindBool, Access: AccessReferrerDraft},

	{Key: "is_unqualified", Table: tableOpportunities, Column: "is_unqualified", Kind: KindBool, Access: AccessSystem},
	{Key: "unqualified_reason", Table: tableOpportunities, Column: "unqualified_reason", Kind: KindText, Access: AccessSystem},
	{Key: "unqualified_date", Table: tableOpportunities, Column: "unqualified_date", Kind: KindDateTime, Access: AccessSystem},
	{Key: "deal_finalisation_status", Table: tableOpportunities, Column: "deal_finalisation_status", Kind: KindText, Access: AccessSystem, MaxLen: 50},
}

var fieldsByKey = func() map[string]Field {
	m := make(map[string]Field, len(registry))
	for _, f := range registry {
		m[f.Key] = f
	}
	return m
}()

// LookupField returns the registry entry for key.
func LookupField(key string) (Field, bool) {
	f, ok := fieldsByKey[key]
	return f, ok
}

// Parse decodes a JSON request value into the field's normalised form.
// JSON null clears the field.
func (f Field) Parse(raw json.RawMessage) (any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		if f.Kind == KindStatus {
			return nil, apperror.NewValidation("status cannot be empty")
		}
		return nil, nil
	}

	switch f.Kind {
	case KindBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, f.invalid("must be true or false")
		}
		return b, nil
	case KindDecimal:
		s := string(raw)
		if raw[0] == '"' {
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, f.invalid("must be a number")
			}
		}
		return f.parseDecimal(s)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, f.invalid("must be a string")
	}
	return f.ParseString(s)
}

// ParseString normalises a string value. Empty text clears the field.
func (f Field) ParseString(s string) (any, error) {
	switch f.Kind {
	case KindText:
		s = sanitize.Text(s)
		if s == "" {
			return nil, nil
		}
		if f.MaxLen > 0 && utf8.RuneCountInString(s) > f.MaxLen {
			return nil, f.invalid(fmt.Sprintf("must be at most %d characters", f.MaxLen))
		}
		return s, nil

	case KindDecimal:
		return f.parseDecimal(s)

	case KindDate:
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return nil, f.invalid("must be a date in YYYY-MM-DD format")
		}
		return t.Format(dateLayout), nil

	case KindDateTime:
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		t, err := time.Parse(dateTimeLayout, s)
		if err != nil {
			return nil, f.invalid("must be an RFC 3339 timestamp")
		}
		return t.UTC().Format(dateTimeLayout), nil

	case KindUser:
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, f.invalid("must be a user id")
		}
		return id.String(), nil

	case KindStatus:
		st := Status(strings.TrimSpace(s))
		if !st.IsValid() {
			return nil, apperror.NewBadRequest(fmt.Sprintf("unknown status %q", s))
		}
		return string(st), nil

	case KindBool:
		return nil, f.invalid("must be true or false")
	}
	return nil, f.invalid("is not supported")
}

func (f Field) parseDecimal(s string) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, f.invalid("must be a number")
	}
	if d.IsNegative() {
		return nil, f.invalid("must not be negative")
	}
	digits := f.IntDigits
	if digits == 0 {
		digits = defaultIntDigits
	}
	if d.Round(2).GreaterThanOrEqual(decimal.New(1, int32(digits))) {
		return nil, f.invalid("is too large")
	}
	return d.StringFixed(2), nil
}

func (f Field) invalid(msg string) error {
	return apperror.NewValidation(f.Key + " " + msg)
}

// dbValue converts a normalised value into a query argument.
func (f Field) dbValue(v any) any {
	if v == nil {
		return nil
	}
	if f.Kind == KindDateTime {
		if s, ok := v.(string); ok {
			if t, err := time.Parse(dateTimeLayout, s); err == nil {
				return t.UTC()
			}
		}
	}
	return v
}
