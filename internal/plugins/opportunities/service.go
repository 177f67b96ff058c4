package opportunities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jainabhi1607/loanease/internal/apperror"
	"github.com/jainabhi1607/loanease/internal/plugins/audit"
	"github.com/jainabhi1607/loanease/internal/sanitize"
)

// finaliseKeys are the fields a deal finalisation may carry.
var finaliseKeys = []string{
	"date_settled",
	"payment_received_date",
	"payment_amount",
	"invoice_number",
	"loan_acc_ref_no",
	"flex_id",
}

// OpportunityService handles business logic for opportunities. Mutating
// methods take the record already resolved by RequireOpportunityAccess.
type OpportunityService interface {
	// Create inserts a new opportunity in draft or opportunity status.
	Create(ctx context.Context, actor Actor, fields map[string]json.RawMessage) (*Opportunity, error)

	// Get returns the merged record if actor may see it.
	Get(ctx context.Context, actor Actor, id string) (*Opportunity, error)

	// Update applies a partial update under the role and stage rules.
	Update(ctx context.Context, actor Actor, o *Opportunity, fields map[string]json.RawMessage) (*Opportunity, error)

	// ChangeStatus sets the status. reason is kept for declined and
	// withdrawn only.
	ChangeStatus(ctx context.Context, actor Actor, o *Opportunity, status, reason string) (*Opportunity, error)

	// MarkUnqualified sets the unqualified flag with a reason.
	MarkUnqualified(ctx context.Context, actor Actor, o *Opportunity, reason string) (*Opportunity, error)

	// ClearUnqualified removes the unqualified flag and its reason.
	ClearUnqualified(ctx context.Context, actor Actor, o *Opportunity) (*Opportunity, error)

	// Finalise records deal finalisation info and marks it completed.
	Finalise(ctx context.Context, actor Actor, o *Opportunity, fields map[string]json.RawMessage) (*Opportunity, error)

	// Delete soft-deletes the opportunity.
	Delete(ctx context.Context, actor Actor, o *Opportunity) error
}

// opportunityService implements OpportunityService.
type opportunityService struct {
	repo     OpportunityRepository
	recorder MutationRecorder
	loc      *time.Location
	now      func() time.Time
}

// NewOpportunityService creates a new opportunity service. loc is the
// business timezone used for dates set automatically; nil means UTC.
func NewOpportunityService(repo OpportunityRepository, recorder MutationRecorder, loc *time.Location) OpportunityService {
	if loc == nil {
		loc = time.UTC
	}
	return &opportunityService{
		repo:     repo,
		recorder: recorder,
		loc:      loc,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}
}

func (s *opportunityService) Create(ctx context.Context, actor Actor, fields map[string]json.RawMessage) (*Opportunity, error) {
	rest := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		rest[k] = v
	}

	orgID := actor.OrganisationID
	if raw, ok := rest["organisation_id"]; ok {
		delete(rest, "organisation_id")
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return nil, apperror.NewValidation("organisation_id must be a string")
		}
		if !actor.Admin && id != actor.OrganisationID {
			return nil, apperror.NewForbidden("you cannot create opportunities for another organisation")
		}
		orgID = id
	}
	if orgID == "" {
		return nil, apperror.NewValidation("organisation_id is required")
	}
	if _, err := uuid.Parse(orgID); err != nil {
		return nil, apperror.NewValidation("organisation_id must be a valid id")
	}

	status := StatusDraft
	if raw, ok := rest["status"]; ok {
		delete(rest, "status")
		f, _ := LookupField("status")
		v, err := f.Parse(raw)
		if err != nil {
			return nil, err
		}
		status = Status(v.(string))
		if status != StatusDraft && status != StatusOpportunity {
			return nil, apperror.NewValidation("new opportunities start as draft or opportunity")
		}
	}

	changes, err := parseChanges(actor, StatusDraft, rest)
	if err != nil {
		return nil, err
	}

	now := s.now()
	o := &Opportunity{
		ID:             uuid.NewString(),
		OrganisationID: orgID,
		CreatedBy:      actor.actorID(),
		CreatedAt:      now,
		UpdatedAt:      now,
		Values:         newValues(),
	}
	for k, v := range changes {
		o.Values[k] = v
	}
	o.Values["status"] = string(status)

	if err := s.repo.Create(ctx, o); err != nil {
		return nil, asAppError(err, "creating opportunity")
	}

	initial := map[string]any{"opportunity_code": o.Code}
	for k, v := range o.Values {
		if v != nil {
			initial[k] = v
		}
	}
	s.recorder.Record(ctx, audit.Mutation{
		Table:    audit.OpportunitiesTable,
		RecordID: o.ID,
		Action:   audit.ActionCreate,
		Changed:  initial,
		ActorID:  actor.actorID(),
		Meta:     actor.Meta,
	})
	return o, nil
}

func (s *opportunityService) Get(ctx context.Context, actor Actor, id string) (*Opportunity, error) {
	if id == "" {
		return nil, apperror.NewBadRequest("opportunity ID is required")
	}

	o, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, asAppError(err, "loading opportunity")
	}

	// Other organisations' records answer exactly like missing ones.
	if !actor.Admin && o.OrganisationID != actor.OrganisationID {
		return nil, apperror.NewNotFound("opportunity not found")
	}
	return o, nil
}

func (s *opportunityService) Update(ctx context.Context, actor Actor, o *Opportunity, fields map[string]json.RawMessage) (*Opportunity, error) {
	changes, err := parseChanges(actor, o.Status(), fields)
	if err != nil {
		return nil, err
	}
	var pinned []string
	if _, ok := changes["status"]; ok {
		s.statusSideEffects(o, changes)
		pinned = append(pinned, "status")
	}
	return s.commit(ctx, actor, o, changes, audit.ActionUpdate, pinned)
}

func (s *opportunityService) ChangeStatus(ctx context.Context, actor Actor, o *Opportunity, status, reason string) (*Opportunity, error) {
	if !actor.Admin {
		return nil, apperror.NewForbidden("admin access required")
	}

	f, _ := LookupField("status")
	v, err := f.ParseString(status)
	if err != nil {
		return nil, err
	}

	changes := audit.StatusChangePayload{Status: v.(string), Reason: sanitize.Text(reason)}.Fields()
	s.statusSideEffects(o, changes)
	return s.commit(ctx, actor, o, changes, audit.ActionUpdate, []string{"status"})
}

// statusSideEffects adds the fields a status change implies: settling
// stamps date_settled unless it is already set or being set.
func (s *opportunityService) statusSideEffects(o *Opportunity, changes map[string]any) {
	if Status(fmt.Sprint(changes["status"])) != StatusSettled {
		return
	}
	if _, explicit := changes["date_settled"]; explicit || o.Values["date_settled"] != nil {
		return
	}
	changes["date_settled"] = s.now().In(s.loc).Format(dateLayout)
}

func (s *opportunityService) MarkUnqualified(ctx context.Context, actor Actor, o *Opportunity, reason string) (*Opportunity, error) {
	if !actor.Admin {
		return nil, apperror.NewForbidden("admin access required")
	}

	reason = sanitize.Text(reason)
	if reason == "" {
		return nil, apperror.NewValidation("reason is required")
	}
	if o.IsUnqualified() && o.Values["unqualified_reason"] == reason {
		return o, nil
	}

	changes := audit.UnqualifiedPayload{IsUnqualified: true, Reason: reason}.Fields()
	changes["unqualified_date"] = s.now().Format(dateTimeLayout)
	return s.commit(ctx, actor, o, changes, audit.ActionUpdate, []string{"is_unqualified"})
}

func (s *opportunityService) ClearUnqualified(ctx context.Context, actor Actor, o *Opportunity) (*Opportunity, error) {
	if !actor.Admin {
		return nil, apperror.NewForbidden("admin access required")
	}
	if !o.IsUnqualified() {
		return o, nil
	}

	changes := audit.UnqualifiedPayload{IsUnqualified: false}.Fields()
	changes["unqualified_date"] = nil
	return s.commit(ctx, actor, o, changes, audit.ActionUpdate, []string{"is_unqualified"})
}

func (s *opportunityService) Finalise(ctx context.Context, actor Actor, o *Opportunity, fields map[string]json.RawMessage) (*Opportunity, error) {
	if !actor.Admin {
		return nil, apperror.NewForbidden("admin access required")
	}

	for key := range fields {
		if !slices.Contains(finaliseKeys, key) {
			return nil, apperror.NewBadRequest(key + " is not part of deal finalisation")
		}
	}
	changes, err := parseChanges(actor, o.Status(), fields)
	if err != nil {
		return nil, err
	}
	changes["deal_finalisation_status"] = FinalisationCompleted

	pinned := make([]string, 0, len(changes))
	for k := range changes {
		pinned = append(pinned, k)
	}
	return s.commit(ctx, actor, o, changes, audit.ActionFinaliseComplete, pinned)
}

func (s *opportunityService) Delete(ctx context.Context, actor Actor, o *Opportunity) error {
	if !actor.Admin {
		return apperror.NewForbidden("admin access required")
	}

	now := s.now()
	if err := s.repo.SoftDelete(ctx, o.ID, now); err != nil {
		return asAppError(err, "deleting opportunity")
	}

	s.recorder.Record(ctx, audit.Mutation{
		Table:    audit.OpportunitiesTable,
		RecordID: o.ID,
		Action:   audit.ActionDelete,
		Changed:  map[string]any{"deleted_at": now.Format(dateTimeLayout)},
		Previous: map[string]any{"deleted_at": nil},
		ActorID:  actor.actorID(),
		Meta:     actor.Meta,
	})
	return nil
}

// commit writes the fields of changes that differ from o, then records one
// audit row. Keys in pinned are reported in the audit payload whenever a
// row is written, changed or not. An update with no differences writes
// nothing; other actions are always written and recorded.
func (s *opportunityService) commit(ctx context.Context, actor Actor, o *Opportunity, changes map[string]any, action audit.Action, pinned []string) (*Opportunity, error) {
	changed := make(map[string]any, len(changes))
	previous := make(map[string]any, len(changes))
	for k, v := range changes {
		if old := o.Values[k]; old != v {
			changed[k] = v
			previous[k] = old
		}
	}
	if len(changed) == 0 && action == audit.ActionUpdate {
		return o, nil
	}
	for _, k := range pinned {
		if _, ok := changed[k]; !ok {
			changed[k] = changes[k]
			previous[k] = o.Values[k]
		}
	}

	now := s.now()
	if err := s.repo.Apply(ctx, o, changed, now); err != nil {
		return nil, asAppError(err, "updating opportunity")
	}
	for k, v := range changed {
		o.Values[k] = v
	}
	o.UpdatedAt = now

	s.recorder.Record(ctx, audit.Mutation{
		Table:    audit.OpportunitiesTable,
		RecordID: o.ID,
		Action:   action,
		Changed:  changed,
		Previous: previous,
		ActorID:  actor.actorID(),
		Meta:     actor.Meta,
	})
	return o, nil
}

// parseChanges validates a partial update body against the registry and
// the actor's permissions at the given status. Keys are checked in sorted
// order so the first error is stable.
func parseChanges(actor Actor, current Status, fields map[string]json.RawMessage) (map[string]any, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	changes := make(map[string]any, len(fields))
	for _, key := range keys {
		f, ok := LookupField(key)
		if !ok {
			return nil, apperror.NewBadRequest("unknown field: " + key)
		}
		if err := checkAccess(actor, current, f); err != nil {
			return nil, err
		}
		v, err := f.Parse(fields[key])
		if err != nil {
			return nil, err
		}
		changes[key] = v
	}
	return changes, nil
}

func checkAccess(actor Actor, current Status, f Field) error {
	if f.Access == AccessSystem {
		return apperror.NewBadRequest(f.Key + " cannot be set directly")
	}
	if actor.Admin {
		return nil
	}
	switch f.Access {
	case AccessAdmin:
		return apperror.NewForbidden("you are not allowed to change " + f.Key)
	case AccessReferrerDraft:
		if current != StatusDraft {
			return apperror.NewForbidden(f.Key + " can only be changed while the opportunity is a draft")
		}
	}
	return nil
}

// asAppError passes AppErrors through and hides everything else behind an
// internal error.
func asAppError(err error, op string) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperror.NewInternal(fmt.Errorf("%s: %w", op, err))
}
