package userstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/learnkit/authn/account"
	"github.com/learnkit/authn/userstore/migrations"
)

const uniqueViolation = "23505"

// Postgres is a Store over the users, user_profiles and registrations tables.
type Postgres struct {
	db *sqlx.DB
}

func NewPostgres(db *sqlx.DB) *Postgres { return &Postgres{db: db} }

// Open connects with lib/pq and pings the server.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return db, nil
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate applies the embedded migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

const userColumns = `id, username, email, password_hash, is_active, is_staff, is_superuser, last_login, date_joined`

func (p *Postgres) CreateUser(ctx context.Context, u *account.User) error {
	const q = `INSERT INTO users (username, email, password_hash, is_active, is_staff, is_superuser)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, date_joined`

	err := p.db.QueryRowxContext(ctx, q, u.Username, u.Email, u.PasswordHash, u.IsActive, u.IsStaff, u.IsSuperuser).
		Scan(&u.ID, &u.DateJoined)
	return mapErr(err)
}

func (p *Postgres) UserByEmail(ctx context.Context, email string) (*account.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	var u account.User
	if err := p.db.GetContext(ctx, &u, q, email); err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (p *Postgres) UserByID(ctx context.Context, id int64) (*account.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	var u account.User
	if err := p.db.GetContext(ctx, &u, q, id); err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (p *Postgres) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	return p.execOne(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at)
}

func (p *Postgres) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	return p.execOne(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, hash)
}

func (p *Postgres) SetActive(ctx context.Context, id int64, active bool) error {
	return p.execOne(ctx, `UPDATE users SET is_active = $2 WHERE id = $1`, id, active)
}

type profileRow struct {
	UserID int64  `db:"user_id"`
	Name   string `db:"name"`
	Meta   []byte `db:"meta"`
}

func (p *Postgres) Profile(ctx context.Context, userID int64) (*account.Profile, error) {
	const q = `SELECT user_id, name, meta FROM user_profiles WHERE user_id = $1`
	var row profileRow
	if err := p.db.GetContext(ctx, &row, q, userID); err != nil {
		return nil, mapErr(err)
	}

	prof := &account.Profile{UserID: row.UserID, Name: row.Name}
	if len(row.Meta) > 0 {
		if err := json.Unmarshal(row.Meta, &prof.Meta); err != nil {
			return nil, fmt.Errorf("profile meta: %w", err)
		}
	}
	return prof, nil
}

// SaveProfile upserts the profile row.
func (p *Postgres) SaveProfile(ctx context.Context, prof *account.Profile) error {
	meta := prof.Meta
	if meta == nil {
		meta = map[string]string{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	const q = `INSERT INTO user_profiles (user_id, name, meta) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET name = EXCLUDED.name, meta = EXCLUDED.meta`
	if _, err := p.db.ExecContext(ctx, q, prof.UserID, prof.Name, raw); err != nil {
		return mapErr(err)
	}
	return nil
}

func (p *Postgres) CreateRegistration(ctx context.Context, r *account.Registration) error {
	const q = `INSERT INTO registrations (user_id, activation_key) VALUES ($1, $2)`
	if _, err := p.db.ExecContext(ctx, q, r.UserID, r.ActivationKey); err != nil {
		return mapErr(err)
	}
	return nil
}

func (p *Postgres) Registration(ctx context.Context, userID int64) (*account.Registration, error) {
	const q = `SELECT user_id, activation_key FROM registrations WHERE user_id = $1`
	var r account.Registration
	if err := p.db.GetContext(ctx, &r, q, userID); err != nil {
		return nil, mapErr(err)
	}
	return &r, nil
}

func (p *Postgres) RegistrationByKey(ctx context.Context, key string) (*account.Registration, error) {
	const q = `SELECT user_id, activation_key FROM registrations WHERE activation_key = $1`
	var r account.Registration
	if err := p.db.GetContext(ctx, &r, q, key); err != nil {
		return nil, mapErr(err)
	}
	return &r, nil
}

func (p *Postgres) execOne(ctx context.Context, q string, args ...any) error {
	res, err := p.db.ExecContext(ctx, q, args...)
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return account.ErrNotFound
	}
	return nil
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return account.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return account.ErrDuplicate
	}
	return fmt.Errorf("db error: %w", err)
}
