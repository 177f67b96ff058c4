package auth

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestUserRepository_FindByIDs(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("creating sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT id, first_name, last_name FROM users WHERE id IN \(\?,\?\)`).
		WithArgs("u-1", "u-2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "first_name", "last_name"}).
			AddRow("u-1", "Jane", "Citizen"))

	users, err := NewUserRepository(db).FindByIDs(context.Background(), []string{"u-1", "u-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(users) != 1 || users[0].DisplayName() != "Jane Citizen" {
		t.Errorf("unexpected users: %+v", users)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestRedisSessionStore_GetAndTouch(t *testing.T) {
	mr, rdb := newTestRedis(t)

	raw, _ := json.Marshal(Session{UserID: "u-1", Role: RoleAdmin, Name: "Admin"})
	if err := mr.Set(sessionKeyPrefix+"tok", string(raw)); err != nil {
		t.Fatalf("seeding session: %v", err)
	}

	store := NewRedisSessionStore(rdb)
	sess, err := store.Get(context.Background(), "tok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.UserID != "u-1" || !sess.IsAdmin() {
		t.Errorf("unexpected session: %+v", sess)
	}

	if err := store.Touch(context.Background(), "tok", time.Hour); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ttl := mr.TTL(sessionKeyPrefix + "tok"); ttl != time.Hour {
		t.Errorf("expected ttl 1h, got %s", ttl)
	}
}

func TestRedisSessionStore_Missing(t *testing.T) {
	_, rdb := newTestRedis(t)

	_, err := NewRedisSessionStore(rdb).Get(context.Background(), "missing")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRedisSessionStore_CorruptValue(t *testing.T) {
	mr, rdb := newTestRedis(t)
	mr.Set(sessionKeyPrefix+"tok", "{not json")

	_, err := NewRedisSessionStore(rdb).Get(context.Background(), "tok")
	if err == nil || errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected decode error, got %v", err)
	}
}
