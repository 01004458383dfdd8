package flows

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/learnkit/authn/account"
	"github.com/learnkit/authn/password"
	"github.com/learnkit/authn/session"
)

// LoginInput is one login attempt.
type LoginInput struct {
	Email     string
	Password  string
	IP        string
	SessionID string // session presented by the client, rotated on success
}

// LoginOutput is a successful login.
type LoginOutput struct {
	User    *account.User
	Session *session.Session
	Warning *password.ComplianceError
}

// LoginAudit identifies which audit line the engine should write.
type LoginAudit int

const (
	AuditLoginSuccess LoginAudit = iota
	AuditUnknownEmail
	AuditBadPassword
	AuditInactive
	AuditRateLimited
	AuditComplianceException
)

// LoginMetrics carries metric IDs used by the login flow.
type LoginMetrics struct {
	LoginSuccess         int
	LoginFailure         int
	LoginRateLimited     int
	LoginInactive        int
	ComplianceException  int
	ComplianceWarning    int
	PasswordHashUpgraded int
	SessionCreated       int
	SessionInvalidated   int
}

// LoginErrors carries the engine's sentinel errors.
type LoginErrors struct {
	EngineNotReady       error
	InvalidCredentials   error
	LoginRateLimited     error
	AccountInactive      error
	SessionCreation      error
	UserStoreUnavailable error
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	PreventConcurrentLogins bool
	PreventAuthUserWrites   bool
	PasswordUpgradeOnLogin  bool

	Now func() time.Time

	CheckLoginRate     func(ctx context.Context, email, ip string) error
	RecordLoginFailure func(ctx context.Context, email, ip string) error
	ResetLoginRate     func(ctx context.Context, email, ip string) error

	UserByEmail        func(ctx context.Context, email string) (*account.User, error)
	UpdateLastLogin    func(ctx context.Context, userID int64, at time.Time) error
	UpdatePasswordHash func(ctx context.Context, userID int64, hash string) error
	Profile            func(ctx context.Context, userID int64) (*account.Profile, error)
	SaveProfile        func(ctx context.Context, p *account.Profile) error

	NormalizePassword    func(string) string
	VerifyPassword       func(password, hash string) (bool, error)
	PasswordNeedsUpgrade func(hash string) (bool, error)
	HashPassword         func(string) (string, error)
	CheckCompliance      func(ctx context.Context, user *account.User, password string) error

	CreateSession      func(ctx context.Context, user *account.User, messages []session.Message) (*session.Session, error)
	DeleteSession      func(ctx context.Context, sessionID string) error
	DeleteUserSessions func(ctx context.Context, userID int64) (int, error)

	// Side effects; failures are logged by the engine and never fail the login.
	SendActivation    func(ctx context.Context, user *account.User)
	SendPasswordReset func(ctx context.Context, user *account.User)

	MetricInc func(int)
	EmitAudit func(ctx context.Context, kind LoginAudit, email string, user *account.User, sessionID string)
	Warn      func(string, ...any)

	Metrics LoginMetrics
	Errors  LoginErrors
}

func (d *LoginDeps) defaults() {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.MetricInc == nil {
		d.MetricInc = func(int) {}
	}
	if d.EmitAudit == nil {
		d.EmitAudit = func(context.Context, LoginAudit, string, *account.User, string) {}
	}
	if d.Warn == nil {
		d.Warn = func(string, ...any) {}
	}
	if d.NormalizePassword == nil {
		d.NormalizePassword = password.Normalize
	}
	if d.SendActivation == nil {
		d.SendActivation = func(context.Context, *account.User) {}
	}
	if d.SendPasswordReset == nil {
		d.SendPasswordReset = func(context.Context, *account.User) {}
	}
}

// RunLogin authenticates in.Email / in.Password and creates a session.
//
// Order: failure budget, user lookup, password, active flag, password
// policy compliance, then the session. Only unknown emails and wrong
// passwords spend the failure budget.
func RunLogin(ctx context.Context, in LoginInput, deps LoginDeps) (*LoginOutput, error) {
	deps.defaults()
	if deps.UserByEmail == nil ||
		deps.VerifyPassword == nil ||
		deps.CreateSession == nil ||
		deps.DeleteSession == nil {
		return nil, deps.Errors.EngineNotReady
	}

	email := strings.TrimSpace(in.Email)
	credential := strings.ToLower(email)

	if deps.CheckLoginRate != nil {
		if err := deps.CheckLoginRate(ctx, credential, in.IP); err != nil {
			if !errors.Is(err, deps.Errors.LoginRateLimited) {
				return nil, err
			}
			deps.MetricInc(deps.Metrics.LoginRateLimited)
			deps.EmitAudit(ctx, AuditRateLimited, email, nil, "")
			return nil, deps.Errors.LoginRateLimited
		}
	}

	user, err := deps.UserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, account.ErrNotFound) {
			return nil, errors.Join(deps.Errors.UserStoreUnavailable, err)
		}
		recordFailure(ctx, credential, in.IP, &deps)
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, AuditUnknownEmail, email, nil, "")
		return nil, deps.Errors.InvalidCredentials
	}

	entered := deps.NormalizePassword(in.Password)
	ok, err := deps.VerifyPassword(entered, user.PasswordHash)
	if err != nil || !ok {
		recordFailure(ctx, credential, in.IP, &deps)
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, AuditBadPassword, email, user, "")
		return nil, deps.Errors.InvalidCredentials
	}

	if !user.IsActive {
		deps.SendActivation(ctx, user)
		deps.MetricInc(deps.Metrics.LoginInactive)
		deps.EmitAudit(ctx, AuditInactive, email, user, "")
		return nil, deps.Errors.AccountInactive
	}

	var warning *password.ComplianceError
	if deps.CheckCompliance != nil {
		if err := deps.CheckCompliance(ctx, user, entered); err != nil {
			ce, isCompliance := password.AsComplianceError(err)
			if !isCompliance {
				return nil, err
			}
			if ce.Kind == password.ComplianceException {
				deps.SendPasswordReset(ctx, user)
				deps.MetricInc(deps.Metrics.ComplianceException)
				deps.EmitAudit(ctx, AuditComplianceException, email, user, "")
				return nil, ce
			}
			deps.MetricInc(deps.Metrics.ComplianceWarning)
			warning = ce
		}
	}

	if deps.PasswordUpgradeOnLogin && !deps.PreventAuthUserWrites {
		upgradePasswordHash(ctx, user, entered, &deps)
	}
	entered = ""

	if deps.PreventConcurrentLogins && deps.DeleteUserSessions != nil {
		n, err := deps.DeleteUserSessions(ctx, user.ID)
		if err != nil {
			return nil, errors.Join(deps.Errors.SessionCreation, err)
		}
		for i := 0; i < n; i++ {
			deps.MetricInc(deps.Metrics.SessionInvalidated)
		}
	}

	if in.SessionID != "" {
		if err := deps.DeleteSession(ctx, in.SessionID); err != nil {
			deps.Warn("authn: rotating previous session failed", "error", err)
		}
	}

	var messages []session.Message
	if warning != nil {
		messages = append(messages, session.Message{Level: session.LevelWarning, Text: warning.Message})
	}
	sess, err := deps.CreateSession(ctx, user, messages)
	if err != nil {
		return nil, errors.Join(deps.Errors.SessionCreation, err)
	}
	deps.MetricInc(deps.Metrics.SessionCreated)

	if deps.PreventConcurrentLogins {
		if err := recordSingleSession(ctx, user.ID, sess.ID, &deps); err != nil {
			_ = deps.DeleteSession(ctx, sess.ID)
			return nil, errors.Join(deps.Errors.SessionCreation, err)
		}
	}

	if !deps.PreventAuthUserWrites && deps.UpdateLastLogin != nil {
		now := deps.Now().UTC()
		if err := deps.UpdateLastLogin(ctx, user.ID, now); err != nil {
			deps.Warn("authn: last_login update failed", "user_id", user.ID, "error", err)
		} else {
			user.LastLogin = &now
		}
	}

	if deps.ResetLoginRate != nil {
		if err := deps.ResetLoginRate(ctx, credential, in.IP); err != nil {
			deps.Warn("authn: rate limit reset failed", "error", err)
		}
	}

	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, AuditLoginSuccess, email, user, sess.ID)

	return &LoginOutput{User: user, Session: sess, Warning: warning}, nil
}

func recordFailure(ctx context.Context, credential, ip string, deps *LoginDeps) {
	if deps.RecordLoginFailure == nil {
		return
	}
	if err := deps.RecordLoginFailure(ctx, credential, ip); err != nil {
		deps.Warn("authn: recording login failure failed", "error", err)
	}
}

func upgradePasswordHash(ctx context.Context, user *account.User, entered string, deps *LoginDeps) {
	if deps.PasswordNeedsUpgrade == nil || deps.HashPassword == nil || deps.UpdatePasswordHash == nil {
		return
	}
	needs, err := deps.PasswordNeedsUpgrade(user.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := deps.HashPassword(entered)
	if err != nil {
		deps.Warn("authn: password hash upgrade generation failed")
		return
	}
	if err := deps.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		deps.Warn("authn: password hash upgrade update failed", "user_id", user.ID)
		return
	}
	user.PasswordHash = hash
	deps.MetricInc(deps.Metrics.PasswordHashUpgraded)
}

func recordSingleSession(ctx context.Context, userID int64, sessionID string, deps *LoginDeps) error {
	if deps.Profile == nil || deps.SaveProfile == nil {
		return nil
	}
	prof, err := deps.Profile(ctx, userID)
	if err != nil {
		if !errors.Is(err, account.ErrNotFound) {
			return err
		}
		prof = &account.Profile{UserID: userID}
	}
	prof.SetSessionID(sessionID)
	return deps.SaveProfile(ctx, prof)
}
