package userstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/learnkit/authn/account"
)

// Memory is a mutex-guarded in-process Store. Records are copied on the
// way in and out.
type Memory struct {
	mu            sync.RWMutex
	node          *snowflake.Node
	users         map[int64]*account.User
	byEmail       map[string]int64
	byUsername    map[string]int64
	profiles      map[int64]*account.Profile
	registrations map[int64]*account.Registration
	byKey         map[string]int64
}

// NewMemory returns an empty store. IDs are snowflakes drawn from node 1.
func NewMemory() *Memory {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return &Memory{
		node:          node,
		users:         make(map[int64]*account.User),
		byEmail:       make(map[string]int64),
		byUsername:    make(map[string]int64),
		profiles:      make(map[int64]*account.Profile),
		registrations: make(map[int64]*account.Registration),
		byKey:         make(map[string]int64),
	}
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (m *Memory) CreateUser(_ context.Context, u *account.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEmail[emailKey(u.Email)]; ok {
		return account.ErrDuplicate
	}
	if _, ok := m.byUsername[u.Username]; ok {
		return account.ErrDuplicate
	}
	if u.ID == 0 {
		u.ID = m.node.Generate().Int64()
	}
	if u.DateJoined.IsZero() {
		u.DateJoined = time.Now().UTC()
	}
	cp := *u
	m.users[u.ID] = &cp
	m.byEmail[emailKey(u.Email)] = u.ID
	m.byUsername[u.Username] = u.ID
	return nil
}

func (m *Memory) UserByEmail(_ context.Context, email string) (*account.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[emailKey(email)]
	if !ok {
		return nil, account.ErrNotFound
	}
	cp := *m.users[id]
	return &cp, nil
}

func (m *Memory) UserByID(_ context.Context, id int64) (*account.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, account.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) UpdateLastLogin(_ context.Context, id int64, at time.Time) error {
	return m.mutateUser(id, func(u *account.User) {
		t := at
		u.LastLogin = &t
	})
}

func (m *Memory) UpdatePasswordHash(_ context.Context, id int64, hash string) error {
	return m.mutateUser(id, func(u *account.User) { u.PasswordHash = hash })
}

func (m *Memory) SetActive(_ context.Context, id int64, active bool) error {
	return m.mutateUser(id, func(u *account.User) { u.IsActive = active })
}

func (m *Memory) mutateUser(id int64, fn func(*account.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return account.ErrNotFound
	}
	fn(u)
	return nil
}

func (m *Memory) Profile(_ context.Context, userID int64) (*account.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[userID]
	if !ok {
		return nil, account.ErrNotFound
	}
	return copyProfile(p), nil
}

// SaveProfile inserts or replaces the profile of p.UserID.
func (m *Memory) SaveProfile(_ context.Context, p *account.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[p.UserID]; !ok {
		return account.ErrNotFound
	}
	m.profiles[p.UserID] = copyProfile(p)
	return nil
}

func copyProfile(p *account.Profile) *account.Profile {
	cp := &account.Profile{UserID: p.UserID, Name: p.Name}
	if p.Meta != nil {
		cp.Meta = make(map[string]string, len(p.Meta))
		for k, v := range p.Meta {
			cp.Meta[k] = v
		}
	}
	return cp
}

func (m *Memory) CreateRegistration(_ context.Context, r *account.Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[r.UserID]; !ok {
		return account.ErrNotFound
	}
	if _, ok := m.byKey[r.ActivationKey]; ok {
		return account.ErrDuplicate
	}
	if _, ok := m.registrations[r.UserID]; ok {
		return account.ErrDuplicate
	}
	cp := *r
	m.registrations[r.UserID] = &cp
	m.byKey[r.ActivationKey] = r.UserID
	return nil
}

func (m *Memory) Registration(_ context.Context, userID int64) (*account.Registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.registrations[userID]
	if !ok {
		return nil, account.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) RegistrationByKey(_ context.Context, key string) (*account.Registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byKey[key]
	if !ok {
		return nil, account.ErrNotFound
	}
	cp := *m.registrations[id]
	return &cp, nil
}
