// Package userstore persists users, profiles and registrations.
//
// [Postgres] is the production store (sqlx over lib/pq with embedded goose
// migrations). [Memory] backs tests and the server's development mode.
// Both return account.ErrNotFound for missing rows and account.ErrDuplicate
// for unique-key clashes.
package userstore

import (
	"context"
	"time"

	"github.com/learnkit/authn/account"
)

// Store is the persistence the login flow depends on.
type Store interface {
	CreateUser(ctx context.Context, u *account.User) error
	UserByEmail(ctx context.Context, email string) (*account.User, error)
	UserByID(ctx context.Context, id int64) (*account.User, error)
	UpdateLastLogin(ctx context.Context, id int64, at time.Time) error
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
	SetActive(ctx context.Context, id int64, active bool) error

	Profile(ctx context.Context, userID int64) (*account.Profile, error)
	SaveProfile(ctx context.Context, p *account.Profile) error

	CreateRegistration(ctx context.Context, r *account.Registration) error
	Registration(ctx context.Context, userID int64) (*account.Registration, error)
	RegistrationByKey(ctx context.Context, key string) (*account.Registration, error)
}
