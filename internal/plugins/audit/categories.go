package audit

// category groups the payload keys that map to one FieldTag.
type category struct {
	tag   FieldTag
	label string
	keys  []string
}

// liveCategories is the classification order applied to new mutations. The
// first category with any key present in the changed fields wins.
//
// The legacy reader in describe.go keeps its own list on purpose; see
// legacyCategories before changing either.
var liveCategories = []category{
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

// tagLabels maps each known tag to its display label.
var tagLabels = func() map[FieldTag]string {
	labels := make(map[FieldTag]string, len(liveCategories)+1)
	for _, c := range liveCategories {
		labels[c.tag] = c.label
	}
	labels[TagOpportunityDetails] = "Opportunity Details"
	return labels
}()

// Classify picks the single category tag for a set of changed fields.
// Exactly one tag is returned even when fields from several categories are
// present; an empty or unrecognised set yields TagOpportunityDetails.
func Classify(changed map[string]any) FieldTag {
	for _, c := range liveCategories {
		if c.matches(changed) {
			return c.tag
		}
	}
	return TagOpportunityDetails
}

func (c category) matches(fields map[string]any) bool {
	for _, k := range c.keys {
		if _, ok := fields[k]; ok {
			return true
		}
	}
	return false
}
