package audit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jainabhi1607/loanease/internal/apperror"
)

// maxHistoryEntries caps one history feed. Opportunities rarely exceed a
// few dozen rows; the cap only guards against runaway imports.
const maxHistoryEntries = 500

// Display names for rows whose actor cannot be shown.
const (
	systemUserName  = "System"
	unknownUserName = "Unknown User"
)

// NameResolver maps user ids to display names with one batched lookup.
// Unknown ids are absent from the result.
type NameResolver interface {
	DisplayNames(ctx context.Context, ids []string) (map[string]string, error)
}

// HistoryService renders the audit trail of a record as a history feed.
type HistoryService interface {
	// GetHistory returns the record's entries newest first, each with its
	// description, formatted timestamp and actor name.
	GetHistory(ctx context.Context, table, recordID string) ([]HistoryEntry, error)
}

// historyService implements HistoryService.
type historyService struct {
	repo  AuditRepository
	names NameResolver
	loc   *time.Location
}

// NewHistoryService creates a history service. Timestamps are rendered in
// loc; a nil loc means UTC.
func NewHistoryService(repo AuditRepository, names NameResolver, loc *time.Location) HistoryService {
	if loc == nil {
		loc = time.UTC
	}
	return &historyService{repo: repo, names: names, loc: loc}
}

func (s *historyService) GetHistory(ctx context.Context, table, recordID string) ([]HistoryEntry, error) {
	if table == "" || recordID == "" {
		return nil, apperror.NewBadRequest("record is required")
	}

	entries, err := s.repo.ListByRecord(ctx, table, recordID, maxHistoryEntries)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("listing audit entries: %w", err))
	}

	// The query already orders by created_at; sorting again keeps the feed
	// correct for any repository implementation.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID > entries[j].ID
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	var ids []string
	for _, e := range entries {
		if e.UserID != nil {
			ids = append(ids, *e.UserID)
		}
	}
	names := map[string]string{}
	if len(ids) > 0 {
		if names, err = s.names.DisplayNames(ctx, ids); err != nil {
			return nil, err
		}
	}

	feed := make([]HistoryEntry, 0, len(entries))
	for _, e := range entries {
		feed = append(feed, HistoryEntry{
			Date:        FormatDate(e.CreatedAt, s.loc),
			Time:        FormatTime(e.CreatedAt, s.loc),
			Action:      e.Action,
			FieldName:   e.FieldName,
			OldValue:    rawJSON(e.OldValue),
			NewValue:    rawJSON(e.NewValue),
			Description: Describe(e),
			UserName:    userName(e.UserID, names),
			IPAddress:   e.IPAddress,
			CreatedAt:   e.CreatedAt,
		})
	}
	return feed, nil
}

func userName(id *string, names map[string]string) string {
	if id == nil || *id == "" {
		return systemUserName
	}
	if name, ok := names[*id]; ok && name != "" {
		return name
	}
	return unknownUserName
}
