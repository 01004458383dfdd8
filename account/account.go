// Package account holds the identity records the login flow reads and
// mutates: users, their profiles and their registrations.
package account

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by stores when no record matches the lookup.
	ErrNotFound = errors.New("account: not found")
	// ErrDuplicate is returned by stores when a unique field is already taken.
	ErrDuplicate = errors.New("account: duplicate")
)

// ProfileMetaSessionID is the profile meta key holding the single allowed session id.
const ProfileMetaSessionID = "session_id"

// User is the authentication identity.
type User struct {
	ID           int64      `db:"id"`
	Username     string     `db:"username"`
	Email        string     `db:"email"`
	PasswordHash string     `db:"password_hash"`
	IsActive     bool       `db:"is_active"`
	IsStaff      bool       `db:"is_staff"`
	IsSuperuser  bool       `db:"is_superuser"`
	LastLogin    *time.Time `db:"last_login"`
	DateJoined   time.Time  `db:"date_joined"`
}

// Profile carries per-user metadata. Meta is a free-form string map; the
// login flow only uses ProfileMetaSessionID.
type Profile struct {
	UserID int64
	Name   string
	Meta   map[string]string
}

// SessionID returns the session id recorded for single-session enforcement.
func (p *Profile) SessionID() string {
	if p == nil || p.Meta == nil {
		return ""
	}
	return p.Meta[ProfileMetaSessionID]
}

// SetSessionID records sid as the only session allowed for the user.
func (p *Profile) SetSessionID(sid string) {
	if p.Meta == nil {
		p.Meta = make(map[string]string, 1)
	}
	p.Meta[ProfileMetaSessionID] = sid
}

// Registration links a user to the key mailed for account activation.
type Registration struct {
	UserID        int64  `db:"user_id"`
	ActivationKey string `db:"activation_key"`
}
