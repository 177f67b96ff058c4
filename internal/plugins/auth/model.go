// Package auth validates portal sessions and resolves user display names.
// Sessions are issued by the portal's login service and stored in Redis;
// this plugin never creates them, it only checks them on every API request
// and slides their expiry.
package auth

import "time"

// Role is the portal-wide permission level carried in a session.
type Role string

const (
	// RoleAdmin staff can see every organisation and set any field.
	RoleAdmin Role = "admin"

	// RoleReferrer users belong to one organisation and see only its
	// opportunities.
	RoleReferrer Role = "referrer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleReferrer
}

// Session is the JSON value stored under session:<token> in Redis.
type Session struct {
	UserID         string    `json:"user_id"`
	OrganisationID string    `json:"organisation_id,omitempty"`
	Role           Role      `json:"role"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
}

// IsAdmin reports whether the session belongs to portal staff.
func (s *Session) IsAdmin() bool {
	return s != nil && s.Role == RoleAdmin
}

// User is the subset of the users table needed to label audit history.
type User struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// DisplayName joins first and last name, falling back to whichever is set.
func (u User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.LastName
	}
}
