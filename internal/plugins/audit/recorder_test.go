package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jainabhi1607/loanease/internal/metrics"
)

// --- Mocks ---

type mockAuditRepo struct {
	appendFn       func(ctx context.Context, e *Entry) error
	listByRecordFn func(ctx context.Context, table, recordID string, limit int) ([]Entry, error)
}

func (m *mockAuditRepo) Append(ctx context.Context, e *Entry) error {
	if m.appendFn != nil {
		return m.appendFn(ctx, e)
	}
	return nil
}

func (m *mockAuditRepo) ListByRecord(ctx context.Context, table, recordID string, limit int) ([]Entry, error) {
	if m.listByRecordFn != nil {
		return m.listByRecordFn(ctx, table, recordID, limit)
	}
	return nil, nil
}

// memAuditRepo is an append-only in-memory store used by end-to-end tests.
type memAuditRepo struct {
	mu      sync.Mutex
	entries []Entry
}

func (m *memAuditRepo) Append(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memAuditRepo) ListByRecord(_ context.Context, table, recordID string, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if e.TableName == table && e.RecordID == recordID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func decodeFields(t *testing.T, raw *string) map[string]any {
	t.Helper()
	if raw == nil {
		t.Fatal("expected a payload, got nil")
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(*raw), &fields); err != nil {
		t.Fatalf("payload is not a JSON object: %v (%s)", err, *raw)
	}
	return fields
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

// --- Record ---

func TestRecord_UpdateBundlesFieldsUnderOneTag(t *testing.T) {
	var appended []*Entry
	repo := &mockAuditRepo{appendFn: func(ctx context.Context, e *Entry) error {
		appended = append(appended, e)
		return nil
	}}
	actor := "u-1"

	entry := NewRecorder(repo, nil).Record(context.Background(), Mutation{
		Table:    OpportunitiesTable,
		RecordID: "opp-1",
		Action:   ActionUpdate,
		Changed:  map[string]any{"loan_amount": "250000.00", "loan_type": "Commercial"},
		Previous: map[string]any{"loan_amount": "200000.00", "loan_type": nil},
		ActorID:  &actor,
		Meta:     RequestMeta{IPAddress: "203.0.113.9", UserAgent: "portal/1.0"},
	})

	if entry == nil {
		t.Fatal("expected entry")
	}
	if len(appended) != 1 {
		t.Fatalf("expected exactly one append, got %d", len(appended))
	}
	if entry.Tag() != TagLoanDetails {
		t.Errorf("expected loan_details, got %q", entry.Tag())
	}
	fields := decodeFields(t, entry.NewValue)
	if fields["loan_amount"] != "250000.00" || fields["loan_type"] != "Commercial" {
		t.Errorf("unexpected new_value: %v", fields)
	}
	old := decodeFields(t, entry.OldValue)
	if old["loan_amount"] != "200000.00" {
		t.Errorf("unexpected old_value: %v", old)
	}
	if *entry.UserID != "u-1" || *entry.IPAddress != "203.0.113.9" || *entry.UserAgent != "portal/1.0" {
		t.Errorf("request metadata not recorded: %+v", entry)
	}
	if entry.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
}

func TestRecord_StatusWinsOverOtherFields(t *testing.T) {
	entry := NewRecorder(&mockAuditRepo{}, nil).Record(context.Background(), Mutation{
		Table:    OpportunitiesTable,
		RecordID: "opp-1",
		Action:   ActionUpdate,
		Changed:  StatusChangePayload{Status: "declined", Reason: "Low credit score"}.Fields(),
	})

	if entry.Tag() != TagStatusChange {
		t.Fatalf("expected status_change, got %q", entry.Tag())
	}
	if got := Describe(*entry); got != "Status changed to Declined: Low credit score" {
		t.Errorf("round trip description: %q", got)
	}
}

func TestRecord_NonUpdateActionsAreUntagged(t *testing.T) {
	for _, action := range []Action{ActionCreate, ActionDelete, ActionFinaliseComplete} {
		entry := NewRecorder(&mockAuditRepo{}, nil).Record(context.Background(), Mutation{
			Table:    OpportunitiesTable,
			RecordID: "opp-1",
			Action:   action,
			Changed:  map[string]any{"status": "draft"},
		})
		if entry == nil {
			t.Fatalf("%s: expected entry", action)
		}
		if entry.FieldName != nil {
			t.Errorf("%s: expected nil field_name, got %q", action, *entry.FieldName)
		}
	}
}

func TestRecord_EmptyUpdateIsSkipped(t *testing.T) {
	called := false
	repo := &mockAuditRepo{appendFn: func(ctx context.Context, e *Entry) error {
		called = true
		return nil
	}}

	if entry := NewRecorder(repo, nil).Record(context.Background(), Mutation{
		Table: OpportunitiesTable, RecordID: "opp-1", Action: ActionUpdate,
	}); entry != nil {
		t.Errorf("expected nil entry, got %+v", entry)
	}
	if called {
		t.Error("repository must not be called for an empty update")
	}
}

func TestRecord_DeleteWithoutPayloadStoresEmptyObject(t *testing.T) {
	entry := NewRecorder(&mockAuditRepo{}, nil).Record(context.Background(), Mutation{
		Table: OpportunitiesTable, RecordID: "opp-1", Action: ActionDelete,
	})
	if entry == nil || entry.NewValue == nil || *entry.NewValue != "{}" {
		t.Fatalf("expected {} payload, got %+v", entry)
	}
	if entry.OldValue != nil {
		t.Errorf("expected nil old_value, got %q", *entry.OldValue)
	}
}

func TestRecord_FailureIsSwallowedAndCounted(t *testing.T) {
	repo := &mockAuditRepo{appendFn: func(ctx context.Context, e *Entry) error {
		return errors.New("connection refused")
	}}
	m := metrics.New("test")

	var entry *Entry
	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("Record panicked: %v", r)
			}
		}()
		entry = NewRecorder(repo, m).Record(context.Background(), Mutation{
			Table:    OpportunitiesTable,
			RecordID: "opp-1",
			Action:   ActionUpdate,
			Changed:  map[string]any{"notes": "called client"},
		})
	}()

	if entry != nil {
		t.Errorf("expected nil entry on failure, got %+v", entry)
	}
	if !strings.Contains(scrape(t, m), `test_audit_failures_total{action="update"} 1`) {
		t.Error("expected failure counter to be incremented")
	}
}

func TestRecord_CountsAppends(t *testing.T) {
	m := metrics.New("test")
	NewRecorder(&mockAuditRepo{}, m).Record(context.Background(), Mutation{
		Table: OpportunitiesTable, RecordID: "opp-1", Action: ActionUpdate,
		Changed: map[string]any{"city": "Sydney"},
	})

	if !strings.Contains(scrape(t, m), `test_audit_entries_total{action="update",field_name="address"} 1`) {
		t.Error("expected append counter to be incremented")
	}
}

func TestRecord_SurvivesCancelledRequest(t *testing.T) {
	repo := &mockAuditRepo{appendFn: func(ctx context.Context, e *Entry) error {
		return ctx.Err()
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	entry := NewRecorder(repo, nil).Record(ctx, Mutation{
		Table: OpportunitiesTable, RecordID: "opp-1", Action: ActionUpdate,
		Changed: map[string]any{"notes": "late"},
	})
	if entry == nil {
		t.Fatal("expected the append to run on a detached context")
	}
}

func TestRecord_UnencodableValueIsDropped(t *testing.T) {
	called := false
	repo := &mockAuditRepo{appendFn: func(ctx context.Context, e *Entry) error {
		called = true
		return nil
	}}

	entry := NewRecorder(repo, nil).Record(context.Background(), Mutation{
		Table: OpportunitiesTable, RecordID: "opp-1", Action: ActionUpdate,
		Changed: map[string]any{"notes": make(chan int)},
	})
	if entry != nil || called {
		t.Error("expected the entry to be dropped before reaching the repository")
	}
}

func TestRecord_ClipsUserAgent(t *testing.T) {
	ua := strings.Repeat("é", 400)
	entry := NewRecorder(&mockAuditRepo{}, nil).Record(context.Background(), Mutation{
		Table: OpportunitiesTable, RecordID: "opp-1", Action: ActionCreate,
		Meta: RequestMeta{UserAgent: ua},
	})
	if got := len(*entry.UserAgent); got > maxUserAgentLen {
		t.Errorf("user agent is %d bytes", got)
	}
	if !strings.HasPrefix(ua, *entry.UserAgent) {
		t.Error("clipped user agent must be a prefix of the original")
	}
}

func TestRecord_StampsCreatedAt(t *testing.T) {
	r := NewRecorder(&mockAuditRepo{}, nil)
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	entry := r.Record(context.Background(), Mutation{
		Table: OpportunitiesTable, RecordID: "opp-1", Action: ActionCreate,
	})
	if !entry.CreatedAt.Equal(fixed) {
		t.Errorf("expected %s, got %s", fixed, entry.CreatedAt)
	}
}
