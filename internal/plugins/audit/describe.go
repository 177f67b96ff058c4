package audit

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// maxLegacySummaryParts caps how many categories a legacy summary names
// before collapsing the rest into "+N more".
const maxLegacySummaryParts = 3

// legacyCategories is the key-inspection order for rows with no field_name.
// It mirrors liveCategories today but is kept separate: legacy rows must
// keep rendering the way they always have even if live classification
// changes.
var legacyCategories = []category{
	{TagStatusChange, "Status", []string{"status"}},
	{TagUnqualifiedStatus, "Unqualified Status", []string{"is_unqualified"}},
	{TagExternalRef, "External Ref", []string{"external_ref"}},
	{TagTeamMember, "Team Member", []string{"assigned_to"}},
	{TagClientDetails, "Client Details", []string{
		"client_entity_name", "client_contact_first_name", "client_contact_last_name",
		"client_mobile", "client_email", "client_abn", "client_industry",
	}},
	{TagLoanDetails, "Loan Details", []string{
		"loan_amount", "loan_type", "loan_purpose", "asset_type", "asset_address",
		"property_value", "lender", "target_settlement_date", "date_settled",
	}},
	{TagFinancialDetails, "Financial Details", []string{
		"annual_revenue", "net_profit_before_tax", "amortisation", "depreciation",
		"existing_interest_costs", "rental_expense", "proposed_rental_income",
		"existing_liabilities", "additional_security",
	}},
	{TagICRLVR, "ICR/LVR", []string{"icr", "lvr"}},
	{TagPaymentInfo, "Payment Info", []string{"payment_received_date", "payment_amount", "invoice_number"}},
	{TagLoanReference, "Loan Reference", []string{"loan_acc_ref_no", "flex_id"}},
	{TagDeclinedWithdrawnReason, "Declined/Withdrawn Reason", []string{"declined_reason", "withdrawn_reason"}},
	{TagNotes, "Notes", []string{"notes"}},
	{TagAddress, "Address", []string{"street_address", "city", "state", "postcode"}},
}

// Describe renders an audit row as a one-line description. It performs no
// I/O and never panics, whatever the stored payload contains.
func Describe(e Entry) string {
	switch e.Action {
	case ActionCreate:
		return "Opportunity Created"
	case ActionDelete:
		return "Opportunity Deleted"
	case ActionFinaliseComplete:
		return "Deal Finalisation Info completed."
	case ActionUpdate:
		if tag := e.Tag(); tag != "" {
			return describeTagged(tag, e.NewValue)
		}
		return describeLegacy(decodePayload(e.NewValue))
	}

	if e.Action == "" {
		return "Unknown"
	}
	return capitalize(string(e.Action))
}

func describeTagged(tag FieldTag, raw *string) string {
	switch v := ParsePayload(tag, raw).(type) {
	case StatusChangePayload:
		return describeStatus(v)
	case UnqualifiedPayload:
		return describeUnqualified(v)
	}

	switch tag {
	case TagStatusChange:
		return "Status changed"
	case TagUnqualifiedStatus:
		return "Unqualified Status updated"
	case TagExternalRef:
		return "External Ref updated"
	case TagTeamMember:
		return "Team Member changed"
	}

	if label, ok := tagLabels[tag]; ok {
		return label + " updated"
	}
	return TitleCase(string(tag)) + " updated"
}

func describeStatus(sc StatusChangePayload) string {
	if sc.Status == "" {
		return "Status changed"
	}
	out := "Status changed to " + TitleCase(sc.Status)
	if reasonKeyFor(sc.Status) != "" && sc.Reason != "" {
		out += ": " + sc.Reason
	}
	return out
}

func describeUnqualified(u UnqualifiedPayload) string {
	switch {
	case !u.IsUnqualified:
		return "Removed Unqualified Status"
	case u.Reason != "":
		return "Marked as Unqualified: " + u.Reason
	default:
		return "Marked as Unqualified"
	}
}

// describeLegacy summarises an untagged row from its payload keys.
func describeLegacy(p payload) string {
	if len(p.fields) == 0 {
		return "Opportunity Updated"
	}

	var parts []string
	reasonShown := false
	for _, c := range legacyCategories {
		if !c.matches(p.fields) {
			continue
		}
		switch c.tag {
		case TagStatusChange:
			sc := statusChangeFrom(p.fields)
			reasonShown = reasonKeyFor(sc.Status) != "" && sc.Reason != ""
			parts = append(parts, describeStatus(sc))
		case TagDeclinedWithdrawnReason:
			// Already part of the status phrase.
			if !reasonShown {
				parts = append(parts, c.label+" updated")
			}
		case TagUnqualifiedStatus:
			if u, ok := unqualifiedFrom(p.fields); ok {
				parts = append(parts, describeUnqualified(u))
			} else {
				parts = append(parts, "Unqualified Status updated")
			}
		case TagTeamMember:
			parts = append(parts, "Team Member changed")
		default:
			parts = append(parts, c.label+" updated")
		}
	}

	if len(parts) == 0 {
		keys := make([]string, 0, len(p.fields))
		for k := range p.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			keys[i] = TitleCase(k)
		}
		shown, more := truncate(keys)
		return "Updated: " + strings.Join(shown, ", ") + more
	}

	shown, more := truncate(parts)
	return strings.Join(shown, ", ") + more
}

func truncate(items []string) ([]string, string) {
	if len(items) <= maxLegacySummaryParts {
		return items, ""
	}
	return items[:maxLegacySummaryParts], fmt.Sprintf(" (+%d more)", len(items)-maxLegacySummaryParts)
}

// TitleCase turns a snake_case identifier into words with leading capitals:
// "conditionally_approved" becomes "Conditionally Approved".
func TitleCase(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "_", " "))
	if s == "" {
		return ""
	}
	return cases.Title(language.English).String(strings.Join(strings.Fields(s), " "))
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

// FormatDate renders t as a short Australian date (17/10/2026) in loc.
func FormatDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("02/01/2006")
}

// FormatTime renders t as a 12-hour clock time (3:04 PM) in loc.
func FormatTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("3:04 PM")
}
