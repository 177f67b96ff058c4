package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jainabhi1607/loanease/internal/apperror"
)

// AuthService defines the business logic contract for session checks and
// user name resolution. Handlers and other plugins call these methods; they
// never touch the stores directly.
type AuthService interface {
	// ValidateSession returns the session for token and slides its expiry.
	ValidateSession(ctx context.Context, token string) (*Session, error)

	// DisplayNames maps each given user id to a display name with one
	// batched lookup. Unknown ids are absent from the result.
	DisplayNames(ctx context.Context, ids []string) (map[string]string, error)
}

// authService implements AuthService.
type authService struct {
	users      UserRepository
	sessions   SessionStore
	sessionTTL time.Duration
}

// NewAuthService creates a new auth service with the given dependencies.
func NewAuthService(users UserRepository, sessions SessionStore, sessionTTL time.Duration) AuthService {
	return &authService{
		users:      users,
		sessions:   sessions,
		sessionTTL: sessionTTL,
	}
}

// ValidateSession looks up the token and rejects sessions with no user or an
// unknown role. A failed expiry refresh is logged but does not fail the
// request.
func (s *authService) ValidateSession(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, apperror.NewUnauthorized("authentication required")
	}

	sess, err := s.sessions.Get(ctx, token)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, apperror.NewUnauthorized("session expired or invalid")
	}
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("validating session: %w", err))
	}

	if sess.UserID == "" || !sess.Role.Valid() {
		return nil, apperror.NewUnauthorized("session expired or invalid")
	}
	if sess.Role == RoleReferrer && sess.OrganisationID == "" {
		return nil, apperror.NewForbidden("referrer account is not linked to an organisation")
	}

	if err := s.sessions.Touch(ctx, token, s.sessionTTL); err != nil {
		slog.Warn("failed to refresh session expiry",
			slog.String("user_id", sess.UserID),
			slog.Any("error", err),
		)
	}

	return sess, nil
}

// DisplayNames deduplicates ids and resolves them in one query.
func (s *authService) DisplayNames(ctx context.Context, ids []string) (map[string]string, error) {
	seen := make(map[string]bool, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}

	names := make(map[string]string, len(unique))
	if len(unique) == 0 {
		return names, nil
	}

	users, err := s.users.FindByIDs(ctx, unique)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("resolving user names: %w", err))
	}
	for _, u := range users {
		names[u.ID] = u.DisplayName()
	}
	return names, nil
}
