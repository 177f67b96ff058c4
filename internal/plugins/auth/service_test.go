package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jainabhi1607/loanease/internal/apperror"
)

// --- Mocks ---

type mockUserRepo struct {
	findByIDsFn func(ctx context.Context, ids []string) ([]User, error)
}

func (m *mockUserRepo) FindByIDs(ctx context.Context, ids []string) ([]User, error) {
	if m.findByIDsFn != nil {
		return m.findByIDsFn(ctx, ids)
	}
	return nil, nil
}

type mockSessionStore struct {
	getFn   func(ctx context.Context, token string) (*Session, error)
	touchFn func(ctx context.Context, token string, ttl time.Duration) error
}

func (m *mockSessionStore) Get(ctx context.Context, token string) (*Session, error) {
	if m.getFn != nil {
		return m.getFn(ctx, token)
	}
	return nil, ErrSessionNotFound
}

func (m *mockSessionStore) Touch(ctx context.Context, token string, ttl time.Duration) error {
	if m.touchFn != nil {
		return m.touchFn(ctx, token, ttl)
	}
	return nil
}

// assertAppError checks that err is an *apperror.AppError with the expected code.
func assertAppError(t *testing.T, err error, expectedCode int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %d, got nil", expectedCode)
	}
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperror.AppError, got %T: %v", err, err)
	}
	if appErr.Code != expectedCode {
		t.Errorf("expected status %d, got %d (message: %s)", expectedCode, appErr.Code, appErr.Message)
	}
}

// --- ValidateSession ---

func TestValidateSession_Success(t *testing.T) {
	var touchedTTL time.Duration
	store := &mockSessionStore{
		getFn: func(ctx context.Context, token string) (*Session, error) {
			return &Session{UserID: "u-1", OrganisationID: "org-1", Role: RoleReferrer}, nil
		},
		touchFn: func(ctx context.Context, token string, ttl time.Duration) error {
			touchedTTL = ttl
			return nil
		},
	}

	svc := NewAuthService(&mockUserRepo{}, store, 2*time.Hour)
	sess, err := svc.ValidateSession(context.Background(), "tok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.UserID != "u-1" {
		t.Errorf("expected u-1, got %s", sess.UserID)
	}
	if touchedTTL != 2*time.Hour {
		t.Errorf("expected session expiry slid by 2h, got %s", touchedTTL)
	}
}

func TestValidateSession_EmptyToken(t *testing.T) {
	svc := NewAuthService(&mockUserRepo{}, &mockSessionStore{}, time.Hour)
	_, err := svc.ValidateSession(context.Background(), "")
	assertAppError(t, err, http.StatusUnauthorized)
}

func TestValidateSession_Unknown(t *testing.T) {
	svc := NewAuthService(&mockUserRepo{}, &mockSessionStore{}, time.Hour)
	_, err := svc.ValidateSession(context.Background(), "nope")
	assertAppError(t, err, http.StatusUnauthorized)
}

func TestValidateSession_StoreFailure(t *testing.T) {
	store := &mockSessionStore{
		getFn: func(ctx context.Context, token string) (*Session, error) {
			return nil, errors.New("redis down")
		},
	}
	svc := NewAuthService(&mockUserRepo{}, store, time.Hour)
	_, err := svc.ValidateSession(context.Background(), "tok")
	assertAppError(t, err, http.StatusInternalServerError)
}

func TestValidateSession_UnknownRole(t *testing.T) {
	store := &mockSessionStore{
		getFn: func(ctx context.Context, token string) (*Session, error) {
			return &Session{UserID: "u-1", Role: "superuser"}, nil
		},
	}
	svc := NewAuthService(&mockUserRepo{}, store, time.Hour)
	_, err := svc.ValidateSession(context.Background(), "tok")
	assertAppError(t, err, http.StatusUnauthorized)
}

func TestValidateSession_ReferrerWithoutOrganisation(t *testing.T) {
	store := &mockSessionStore{
		getFn: func(ctx context.Context, token string) (*Session, error) {
			return &Session{UserID: "u-1", Role: RoleReferrer}, nil
		},
	}
	svc := NewAuthService(&mockUserRepo{}, store, time.Hour)
	_, err := svc.ValidateSession(context.Background(), "tok")
	assertAppError(t, err, http.StatusForbidden)
}

func TestValidateSession_TouchFailureIsNotFatal(t *testing.T) {
	store := &mockSessionStore{
		getFn: func(ctx context.Context, token string) (*Session, error) {
			return &Session{UserID: "admin-1", Role: RoleAdmin}, nil
		},
		touchFn: func(ctx context.Context, token string, ttl time.Duration) error {
			return errors.New("timeout")
		},
	}
	svc := NewAuthService(&mockUserRepo{}, store, time.Hour)
	if _, err := svc.ValidateSession(context.Background(), "tok"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// --- DisplayNames ---

func TestDisplayNames_BatchesAndDeduplicates(t *testing.T) {
	calls := 0
	var gotIDs []string
	repo := &mockUserRepo{
		findByIDsFn: func(ctx context.Context, ids []string) ([]User, error) {
			calls++
			gotIDs = ids
			return []User{
				{ID: "u-1", FirstName: "Jane", LastName: "Citizen"},
				{ID: "u-2", FirstName: "Sam"},
			}, nil
		},
	}

	svc := NewAuthService(repo, &mockSessionStore{}, time.Hour)
	names, err := svc.DisplayNames(context.Background(), []string{"u-1", "u-2", "u-1", "", "u-3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected one batched lookup, got %d", calls)
	}
	if len(gotIDs) != 3 {
		t.Errorf("expected 3 unique ids, got %v", gotIDs)
	}
	if names["u-1"] != "Jane Citizen" || names["u-2"] != "Sam" {
		t.Errorf("unexpected names: %v", names)
	}
	if _, ok := names["u-3"]; ok {
		t.Error("unknown ids must be absent")
	}
}

func TestDisplayNames_NoIDsSkipsQuery(t *testing.T) {
	repo := &mockUserRepo{
		findByIDsFn: func(ctx context.Context, ids []string) ([]User, error) {
			t.Fatal("repository must not be called without ids")
			return nil, nil
		},
	}
	svc := NewAuthService(repo, &mockSessionStore{}, time.Hour)
	names, err := svc.DisplayNames(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("expected empty map, got %v", names)
	}
}

func TestDisplayNames_RepoError(t *testing.T) {
	repo := &mockUserRepo{
		findByIDsFn: func(ctx context.Context, ids []string) ([]User, error) {
			return nil, errors.New("db down")
		},
	}
	svc := NewAuthService(repo, &mockSessionStore{}, time.Hour)
	_, err := svc.DisplayNames(context.Background(), []string{"u-1"})
	assertAppError(t, err, http.StatusInternalServerError)
}
