// Package factories builds users, profiles and registrations for tests.
package factories

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/learnkit/authn/account"
	"github.com/learnkit/authn/userstore"
)

// DefaultPassword is the password of every factory user unless overridden.
const DefaultPassword = "test"

var seq atomic.Int64

// UserOption customises a factory user.
type UserOption func(*userParams)

type userParams struct {
	user     account.User
	password string
	hash     string
}

func WithUsername(username string) UserOption {
	return func(s *userParams) { s.user.Username = username }
}

func WithEmail(email string) UserOption {
	return func(s *userParams) { s.user.Email = email }
}

// WithPassword hashes password exactly as given, without normalisation.
func WithPassword(password string) UserOption {
	return func(s *userParams) { s.password = password }
}

// WithPasswordHash stores hash verbatim.
func WithPasswordHash(hash string) UserOption {
	return func(s *userParams) { s.hash = hash }
}

func Inactive() UserOption {
	return func(s *userParams) { s.user.IsActive = false }
}

func Staff() UserOption {
	return func(s *userParams) { s.user.IsStaff = true }
}

func Superuser() UserOption {
	return func(s *userParams) { s.user.IsSuperuser = true }
}

// User creates an active user in store. The password hash is bcrypt at
// minimum cost, a legacy format the hasher still verifies.
func User(t testing.TB, store userstore.Store, opts ...UserOption) *account.User {
	t.Helper()

	n := seq.Add(1)
	up := userParams{
		user: account.User{
			Username: fmt.Sprintf("robot%d", n),
			IsActive: true,
		},
		password: DefaultPassword,
	}
	for _, opt := range opts {
		opt(&up)
	}
	if up.user.Email == "" {
		up.user.Email = strings.ToLower(up.user.Username) + "@example.com"
	}

	up.user.PasswordHash = up.hash
	if up.user.PasswordHash == "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(up.password), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("hash password: %v", err)
		}
		up.user.PasswordHash = string(hash)
	}

	if err := store.CreateUser(context.Background(), &up.user); err != nil {
		t.Fatalf("create user %s: %v", up.user.Username, err)
	}
	u := up.user
	return &u
}

// Profile saves an empty profile for user.
func Profile(t testing.TB, store userstore.Store, user *account.User) *account.Profile {
	t.Helper()

	p := &account.Profile{UserID: user.ID, Name: user.Username, Meta: map[string]string{}}
	if err := store.SaveProfile(context.Background(), p); err != nil {
		t.Fatalf("save profile: %v", err)
	}
	return p
}

// Registration creates an activation registration for user.
func Registration(t testing.TB, store userstore.Store, user *account.User) *account.Registration {
	t.Helper()

	r := &account.Registration{
		UserID:        user.ID,
		ActivationKey: strings.ReplaceAll(uuid.NewString(), "-", ""),
	}
	if err := store.CreateRegistration(context.Background(), r); err != nil {
		t.Fatalf("create registration: %v", err)
	}
	return r
}
