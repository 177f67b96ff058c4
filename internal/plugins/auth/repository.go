package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/redis/go-redis/v9"
)

// sessionKeyPrefix is the Redis key prefix shared with the login service.
const sessionKeyPrefix = "session:"

// UserRepository defines the data access contract for user lookups.
type UserRepository interface {
	// FindByIDs returns the users whose id is in ids. Missing ids are
	// silently absent from the result. One query regardless of len(ids).
	FindByIDs(ctx context.Context, ids []string) ([]User, error)
}

// userRepository implements UserRepository with MariaDB queries.
type userRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new repository backed by the given DB pool.
func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

// FindByIDs loads users with a single IN query.
func (r *userRepository) FindByIDs(ctx context.Context, ids []string) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sq.Select("id", "first_name", "last_name").
		From("users").
		Where(sq.Eq{"id": ids}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building user query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

// SessionStore reads and refreshes sessions.
type SessionStore interface {
	// Get returns the session for token, or ErrSessionNotFound.
	Get(ctx context.Context, token string) (*Session, error)

	// Touch extends the session's expiry to ttl from now.
	Touch(ctx context.Context, token string, ttl time.Duration) error
}

// ErrSessionNotFound is returned by SessionStore.Get for unknown or expired tokens.
var ErrSessionNotFound = errors.New("session not found")

// redisSessionStore implements SessionStore on Redis.
type redisSessionStore struct {
	rdb *redis.Client
}

// NewRedisSessionStore creates a session store on the given client.
func NewRedisSessionStore(rdb *redis.Client) SessionStore {
	return &redisSessionStore{rdb: rdb}
}

func (s *redisSessionStore) Get(ctx context.Context, token string) (*Session, error) {
	raw, err := s.rdb.Get(ctx, sessionKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &sess, nil
}

func (s *redisSessionStore) Touch(ctx context.Context, token string, ttl time.Duration) error {
	if err := s.rdb.Expire(ctx, sessionKeyPrefix+token, ttl).Err(); err != nil {
		return fmt.Errorf("refreshing session expiry: %w", err)
	}
	return nil
}
