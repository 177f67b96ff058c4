package opportunities

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/jainabhi1607/loanease/internal/apperror"
	"github.com/jainabhi1607/loanease/internal/plugins/audit"
	"github.com/jainabhi1607/loanease/internal/plugins/auth"
)

// --- In-memory collaborators ---

type stubAuth struct {
	sessions map[string]*auth.Session
	names    map[string]string
}

func (s *stubAuth) ValidateSession(ctx context.Context, token string) (*auth.Session, error) {
	if sess, ok := s.sessions[token]; ok {
		return sess, nil
	}
	return nil, apperror.NewUnauthorized("invalid or expired session")
}

func (s *stubAuth) DisplayNames(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if n, ok := s.names[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

type memOpportunityRepo struct {
	mu   sync.Mutex
	seq  int64
	rows map[string]*Opportunity
}

func cloneOpportunity(o *Opportunity) *Opportunity {
	c := *o
	c.Values = make(map[string]any, len(o.Values))
	for k, v := range o.Values {
		c.Values[k] = v
	}
	return &c
}

func (r *memOpportunityRepo) Create(_ context.Context, o *Opportunity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	o.Code = formatCode(r.seq)
	r.rows[o.ID] = cloneOpportunity(o)
	return nil
}

func (r *memOpportunityRepo) FindByID(_ context.Context, id string) (*Opportunity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.rows[id]
	if !ok {
		return nil, apperror.NewNotFound("opportunity not found")
	}
	return cloneOpportunity(o), nil
}

func (r *memOpportunityRepo) Apply(_ context.Context, o *Opportunity, changes map[string]any, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[o.ID]
	if !ok {
		return apperror.NewNotFound("opportunity not found")
	}
	for k, v := range changes {
		row.Values[k] = v
	}
	row.UpdatedAt = at
	return nil
}

func (r *memOpportunityRepo) SoftDelete(_ context.Context, id string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return apperror.NewNotFound("opportunity not found")
	}
	delete(r.rows, id)
	return nil
}

type memAuditRepo struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memAuditRepo) Append(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memAuditRepo) ListByRecord(_ context.Context, table, recordID string, limit int) ([]audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []audit.Entry
	for _, e := range m.entries {
		if e.TableName == table && e.RecordID == recordID {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- Harness ---

const (
	adminToken    = "tok-admin"
	referrerToken = "tok-ref"
	outsiderToken = "tok-out"
)

type apiHarness struct {
	e     *echo.Echo
	audit *memAuditRepo
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	authSvc := &stubAuth{
		sessions: map[string]*auth.Session{
			adminToken:    {UserID: adminUserID, Role: auth.RoleAdmin},
			referrerToken: {UserID: refUserID, OrganisationID: testOrgID, Role: auth.RoleReferrer},
			outsiderToken: {UserID: "c0000000-0000-4000-8000-000000000003", OrganisationID: otherOrgID, Role: auth.RoleReferrer},
		},
		names: map[string]string{adminUserID: "Ada Admin", refUserID: "Rita Referrer"},
	}
	auditRepo := &memAuditRepo{}
	svc := NewOpportunityService(&memOpportunityRepo{rows: map[string]*Opportunity{}}, audit.NewRecorder(auditRepo, nil), time.UTC)

	e := echo.New()
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := apperror.SafeCode(err)
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		}
		_ = c.JSON(code, map[string]string{"error": http.StatusText(code), "message": apperror.SafeMessage(err)})
	}

	g := e.Group("/api/v1", auth.RequireAuth(authSvc))
	RegisterRoutes(g, NewHandler(svc), svc)
	history := audit.NewHistoryService(auditRepo, authSvc, time.UTC)
	audit.RegisterRoutes(g, audit.NewHandler(history), RequireOpportunityAccess(svc))

	return &apiHarness{e: e, audit: auditRepo}
}

func (h *apiHarness) do(t *testing.T, method, path, token, payload string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.e.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decoding %s %s response: %v (%s)", method, path, err, rec.Body.String())
		}
	}
	return rec.Code, out
}

func progressOf(t *testing.T, view map[string]any) float64 {
	t.Helper()
	p, ok := view["progress"].(map[string]any)
	if !ok {
		t.Fatalf("missing progress in %v", view)
	}
	return p["percentage"].(float64)
}

// --- Tests ---

func TestAPI_RequiresSession(t *testing.T) {
	h := newAPIHarness(t)

	code, _ := h.do(t, http.MethodPost, "/api/v1/opportunities", "", `{}`)
	if code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", code)
	}
}

func TestAPI_LifecycleAndHistory(t *testing.T) {
	h := newAPIHarness(t)

	code, view := h.do(t, http.MethodPost, "/api/v1/opportunities", referrerToken,
		`{"client_entity_name": "Acme Pty Ltd", "loan_amount": 250000}`)
	if code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %v", code, view)
	}
	if view["opportunity_code"] != "CF10001" || view["status"] != "draft" || view["loan_amount"] != "250000.00" {
		t.Errorf("unexpected created view: %v", view)
	}
	if progressOf(t, view) != 14 {
		t.Errorf("draft progress should be 14, got %v", progressOf(t, view))
	}
	path := "/api/v1/opportunities/" + view["id"].(string)

	code, view = h.do(t, http.MethodPatch, path, referrerToken, `{"loan_amount": "300000", "city": "Sydney"}`)
	if code != http.StatusOK || view["loan_amount"] != "300000.00" {
		t.Fatalf("update: got %d %v", code, view)
	}

	code, _ = h.do(t, http.MethodPost, path+"/status", referrerToken, `{"status": "application_created"}`)
	if code != http.StatusForbidden {
		t.Errorf("referrer status change: expected 403, got %d", code)
	}

	code, view = h.do(t, http.MethodPost, path+"/status", adminToken, `{"status": "application_created"}`)
	if code != http.StatusOK {
		t.Fatalf("status change: got %d %v", code, view)
	}
	if progressOf(t, view) != 43 || view["status_label"] != "Application Created" {
		t.Errorf("unexpected view after status change: %v", view)
	}

	code, _ = h.do(t, http.MethodPatch, path, referrerToken, `{"loan_amount": "1"}`)
	if code != http.StatusForbidden {
		t.Errorf("loan fields lock after draft: expected 403, got %d", code)
	}

	code, _ = h.do(t, http.MethodGet, path+"/history", outsiderToken, "")
	if code != http.StatusNotFound {
		t.Errorf("other organisation: expected 404, got %d", code)
	}

	code, resp := h.do(t, http.MethodGet, path+"/history", referrerToken, "")
	if code != http.StatusOK {
		t.Fatalf("history: got %d %v", code, resp)
	}
	feed := resp["history"].([]any)
	want := []struct{ description, user string }{
		{"Status changed to Application Created", "Ada Admin"},
		{"Loan Details updated", "Rita Referrer"},
		{"Opportunity Created", "Rita Referrer"},
	}
	if len(feed) != len(want) {
		t.Fatalf("expected %d history entries, got %d: %v", len(want), len(feed), feed)
	}
	for i, w := range want {
		entry := feed[i].(map[string]any)
		if entry["description"] != w.description || entry["user_name"] != w.user {
			t.Errorf("entry %d: got %q by %q, want %q by %q",
				i, entry["description"], entry["user_name"], w.description, w.user)
		}
	}
}

func TestAPI_RejectedRequestsLeaveNoAudit(t *testing.T) {
	h := newAPIHarness(t)

	code, view := h.do(t, http.MethodPost, "/api/v1/opportunities", referrerToken, `{}`)
	if code != http.StatusCreated {
		t.Fatalf("create: got %d %v", code, view)
	}
	path := "/api/v1/opportunities/" + view["id"].(string)

	for _, tc := range []struct {
		method, suffix, token, payload string
		code                           int
	}{
		{http.MethodPatch, "", referrerToken, `{"icr": 2}`, http.StatusForbidden},
		{http.MethodPatch, "", referrerToken, `{"bogus": 1}`, http.StatusBadRequest},
		{http.MethodPatch, "", referrerToken, `[1, 2]`, http.StatusBadRequest},
		{http.MethodPost, "/status", adminToken, `{"status": "application_completed"}`, http.StatusBadRequest},
		{http.MethodPost, "/unqualify", adminToken, `{"reason": ""}`, http.StatusUnprocessableEntity},
		{http.MethodDelete, "", referrerToken, "", http.StatusForbidden},
		{http.MethodGet, "/history", adminToken, "", http.StatusOK},
	} {
		code, _ := h.do(t, tc.method, path+tc.suffix, tc.token, tc.payload)
		if code != tc.code {
			t.Errorf("%s %s: expected %d, got %d", tc.method, tc.suffix, tc.code, code)
		}
	}

	if n := len(h.audit.entries); n != 1 {
		t.Errorf("only the create should be audited, got %d entries", n)
	}
}

func TestAPI_DeleteHidesRecord(t *testing.T) {
	h := newAPIHarness(t)

	_, view := h.do(t, http.MethodPost, "/api/v1/opportunities", adminToken,
		`{"organisation_id": "`+testOrgID+`", "status": "opportunity"}`)
	path := "/api/v1/opportunities/" + view["id"].(string)

	req := httptest.NewRequest(http.MethodDelete, path, nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+adminToken)
	rec := httptest.NewRecorder()
	h.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	if code, _ := h.do(t, http.MethodGet, path, adminToken, ""); code != http.StatusNotFound {
		t.Errorf("deleted record: expected 404, got %d", code)
	}
	last := h.audit.entries[len(h.audit.entries)-1]
	if last.Action != audit.ActionDelete {
		t.Errorf("expected delete to be audited, got %s", last.Action)
	}
}
