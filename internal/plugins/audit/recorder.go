package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/jainabhi1607/loanease/internal/metrics"
)

// appendTimeout bounds the audit insert. It runs on a context detached from
// the request, so a client disconnect after the business write committed
// does not also cancel the audit row.
const appendTimeout = 5 * time.Second

// maxUserAgentLen matches audit_logs.user_agent.
const maxUserAgentLen = 512

// Recorder appends one audit row per mutation.
type Recorder struct {
	repo    AuditRepository
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewRecorder creates a recorder writing through repo. m may be nil.
func NewRecorder(repo AuditRepository, m *metrics.Metrics) *Recorder {
	return &Recorder{
		repo:    repo,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Record classifies m and appends it. Call it after the primary write has
// committed. Failures are logged and counted, and the returned entry is nil;
// the caller's operation is still reported as successful.
func (r *Recorder) Record(ctx context.Context, m Mutation) *Entry {
	if m.Action == ActionUpdate && len(m.Changed) == 0 {
		slog.Debug("skipping audit entry for update with no changes",
			slog.String("record_id", m.RecordID),
		)
		return nil
	}

	entry, err := r.build(m)
	if err != nil {
		r.fail(m, nil, err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()

	if err := r.repo.Append(ctx, entry); err != nil {
		r.fail(m, entry.FieldName, err)
		return nil
	}

	r.metrics.AuditAppended(string(entry.Action), string(entry.Tag()))
	return entry
}

// build turns a mutation into the row to insert. Only updates carry a
// category tag; create, delete and finalise rows are identified by action.
func (r *Recorder) build(m Mutation) (*Entry, error) {
	e := &Entry{
		UserID:    m.ActorID,
		TableName: m.Table,
		RecordID:  m.RecordID,
		Action:    m.Action,
		IPAddress: optional(m.Meta.IPAddress),
		UserAgent: optional(clip(m.Meta.UserAgent, maxUserAgentLen)),
		CreatedAt: r.now(),
	}

	if m.Action == ActionUpdate {
		tag := string(Classify(m.Changed))
		e.FieldName = &tag
	}

	newValue, err := encode(m.Changed)
	if err != nil {
		return nil, err
	}
	if newValue == nil {
		empty := "{}"
		newValue = &empty
	}
	e.NewValue = newValue

	if e.OldValue, err = encode(m.Previous); err != nil {
		return nil, err
	}
	return e, nil
}

func (r *Recorder) fail(m Mutation, fieldName *string, err error) {
	attrs := []any{
		slog.String("table_name", m.Table),
		slog.String("record_id", m.RecordID),
		slog.String("action", string(m.Action)),
		slog.Any("error", err),
	}
	if fieldName != nil {
		attrs = append(attrs, slog.String("field_name", *fieldName))
	}
	slog.Warn("audit entry dropped after primary write", attrs...)
	r.metrics.AuditFailed(string(m.Action))
}

func encode(fields map[string]any) (*string, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

// clip shortens s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
