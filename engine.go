package authn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/learnkit/authn/account"
	"github.com/learnkit/authn/internal"
	"github.com/learnkit/authn/internal/audit"
	"github.com/learnkit/authn/internal/flows"
	"github.com/learnkit/authn/internal/rate"
	"github.com/learnkit/authn/internal/stores"
	"github.com/learnkit/authn/jwt"
	"github.com/learnkit/authn/mail"
	"github.com/learnkit/authn/password"
	"github.com/learnkit/authn/session"
	"github.com/learnkit/authn/userstore"
	"go.uber.org/zap"
)

// Engine runs logins and logouts against the configured stores. It is
// safe for concurrent use once built.
type Engine struct {
	config       Config
	sessionStore *session.Store
	rateLimiter  *rate.Limiter
	resetStore   *stores.PasswordResetStore
	audit        *audit.Dispatcher
	metrics      *Metrics
	hasher       *password.Hasher
	policy       password.Policy
	compliance   *password.ComplianceChecker
	jwtManager   *jwt.Manager
	users        userstore.Store
	mailer       mail.Mailer
	enrollment   EnrollmentChanger
	logger       *zap.Logger
	now          func() time.Time

	flowDeps flows.Deps
}

// Close flushes the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// HashPassword normalises pw and returns its argon2id hash, the form
// stored for passwords set through this service.
func (e *Engine) HashPassword(pw string) (string, error) {
	return e.hasher.Hash(password.Normalize(pw))
}

// Login authenticates req and opens a session. A nil error means the
// login succeeded; otherwise pass the error to FailureMessage for the
// user-facing text.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	start := e.now()
	defer func() {
		e.metrics.Observe(MetricLoginLatency, e.now().Sub(start))
	}()

	ip := req.IP
	if ip == "" {
		ip = clientIPFromContext(ctx)
	} else {
		ctx = WithClientIP(ctx, ip)
	}

	out, err := flows.RunLogin(ctx, flows.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		IP:        ip,
		SessionID: req.SessionID,
	}, e.flowDeps.Login)
	if err != nil {
		if _, ok := password.AsComplianceError(err); ok {
			return nil, errors.Join(ErrPasswordNonCompliant, err)
		}
		return nil, err
	}

	token, expiresAt, err := e.issueJWT(out.User)
	if err != nil {
		_ = e.sessionStore.Delete(ctx, out.Session.ID)
		return nil, errors.Join(ErrSessionCreationFailed, err)
	}

	result := &LoginResult{
		Success:      true,
		User:         out.User,
		Session:      out.Session,
		JWT:          token,
		JWTExpiresAt: expiresAt,
	}

	if req.EnrollmentAction != "" && e.enrollment != nil {
		result.RedirectURL = e.changeEnrollment(ctx, out.User, req.EnrollmentAction, req.CourseID)
	}

	return result, nil
}

func (e *Engine) changeEnrollment(ctx context.Context, user *account.User, action, courseID string) *string {
	status, body, err := e.enrollment.Change(ctx, user, action, courseID)
	if err != nil {
		e.metricInc(MetricEnrollmentFailure)
		e.logger.Warn("enrollment change failed",
			zap.Int64("user_id", user.ID),
			zap.String("action", action),
			zap.String("course_id", courseID),
			zap.Error(err),
		)
		return nil
	}
	if status != 200 {
		e.metricInc(MetricEnrollmentFailure)
		return nil
	}
	if body == "" {
		return nil
	}
	return &body
}

func (e *Engine) issueJWT(user *account.User) (string, time.Time, error) {
	return e.jwtManager.Issue(jwt.Subject{
		UserID:        user.ID,
		Username:      user.Username,
		Email:         user.Email,
		Administrator: user.IsStaff,
	})
}

// Logout deletes sessionID. It reports the session that was closed, or
// nil when the caller was anonymous.
func (e *Engine) Logout(ctx context.Context, sessionID string) (*session.Session, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	return flows.RunLogout(ctx, sessionID, e.flowDeps.Logout)
}

// ResolveSession loads the user behind sessionID. Expired, unknown and
// superseded sessions return an error and the request is anonymous.
// Under PreventConcurrentLogins a session that is no longer the one
// recorded on the user's profile is deleted and ErrSessionSuperseded is
// returned.
func (e *Engine) ResolveSession(ctx context.Context, sessionID string) (*Identity, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	sess, err := e.sessionStore.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	if e.config.Features.PreventConcurrentLogins {
		prof, err := e.users.Profile(ctx, sess.UserID)
		switch {
		case err == nil:
			if current := prof.SessionID(); current != "" && current != sess.ID {
				if delErr := e.sessionStore.Delete(ctx, sess.ID); delErr != nil {
					e.logger.Warn("deleting superseded session failed", zap.Error(delErr))
				}
				e.metricInc(MetricSessionSuperseded)
				return nil, ErrSessionSuperseded
			}
		case errors.Is(err, account.ErrNotFound):
		default:
			return nil, errors.Join(ErrUserStoreUnavailable, err)
		}
	}

	user, err := e.users.UserByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			_ = e.sessionStore.Delete(ctx, sess.ID)
			return nil, ErrSessionNotFound
		}
		return nil, errors.Join(ErrUserStoreUnavailable, err)
	}
	if !user.IsActive {
		return nil, ErrSessionNotFound
	}

	return &Identity{Session: sess, User: user}, nil
}

// RefreshJWT issues a new login token for the user behind sessionID.
func (e *Engine) RefreshJWT(ctx context.Context, sessionID string) (string, time.Time, error) {
	id, err := e.ResolveSession(ctx, sessionID)
	if err != nil {
		return "", time.Time{}, err
	}
	token, expiresAt, err := e.issueJWT(id.User)
	if err != nil {
		return "", time.Time{}, err
	}
	e.metricInc(MetricJWTRefreshed)
	return token, expiresAt, nil
}

// PopMessages returns and clears the messages queued on sessionID.
func (e *Engine) PopMessages(ctx context.Context, sessionID string) ([]session.Message, error) {
	msgs, err := e.sessionStore.PopMessages(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	return msgs, err
}

// ActivateAccount marks the owner of an activation key active.
func (e *Engine) ActivateAccount(ctx context.Context, key string) (*account.User, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		e.metricInc(MetricActivationFailure)
		return nil, ErrActivationInvalid
	}
	reg, err := e.users.RegistrationByKey(ctx, key)
	if err != nil {
		e.metricInc(MetricActivationFailure)
		if errors.Is(err, account.ErrNotFound) {
			return nil, ErrActivationInvalid
		}
		return nil, errors.Join(ErrUserStoreUnavailable, err)
	}
	if err := e.users.SetActive(ctx, reg.UserID, true); err != nil {
		e.metricInc(MetricActivationFailure)
		return nil, errors.Join(ErrUserStoreUnavailable, err)
	}
	user, err := e.users.UserByID(ctx, reg.UserID)
	if err != nil {
		return nil, errors.Join(ErrUserStoreUnavailable, err)
	}
	e.metricInc(MetricActivationSuccess)
	e.emitAccountAudit(ctx, auditEventActivation, user)
	return user, nil
}

// ConfirmPasswordReset sets a new password for the holder of a reset
// token. The password is checked against the policy before the token is
// spent. All sessions of the user are closed.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	resetID, secretHash, err := internal.DecodeResetToken(strings.TrimSpace(token))
	if err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		return ErrPasswordResetInvalid
	}
	if err := e.policy.Validate(newPassword); err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		return errors.Join(ErrPasswordPolicy, err)
	}

	rec, err := e.resetStore.Consume(ctx, resetID, secretHash, e.config.PasswordReset.MaxAttempts)
	if err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		switch {
		case errors.Is(err, stores.ErrResetNotFound), errors.Is(err, stores.ErrResetSecretMismatch):
			return ErrPasswordResetInvalid
		case errors.Is(err, stores.ErrResetAttemptsExceeded):
			return ErrPasswordResetAttempts
		default:
			return fmt.Errorf("%w: %v", ErrPasswordResetUnavailable, err)
		}
	}

	hash, err := e.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := e.users.UpdatePasswordHash(ctx, rec.UserID, hash); err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		return errors.Join(ErrUserStoreUnavailable, err)
	}
	n, err := e.sessionStore.DeleteAllForUser(ctx, rec.UserID)
	if err != nil {
		e.logger.Warn("closing sessions after password reset failed", zap.Int64("user_id", rec.UserID), zap.Error(err))
	}
	for i := 0; i < n; i++ {
		e.metricInc(MetricSessionInvalidated)
	}

	e.metricInc(MetricPasswordResetConfirmSuccess)
	e.emitAccountAudit(ctx, auditEventPasswordReset, &account.User{ID: rec.UserID})
	return nil
}

// sendActivation mails the activation link, creating the registration
// when the user has none. Errors are logged and dropped.
func (e *Engine) sendActivation(ctx context.Context, user *account.User) {
	reg, err := e.users.Registration(ctx, user.ID)
	if errors.Is(err, account.ErrNotFound) {
		reg = &account.Registration{UserID: user.ID, ActivationKey: newActivationKey()}
		err = e.users.CreateRegistration(ctx, reg)
	}
	if err != nil {
		e.metricInc(MetricMailFailure)
		e.logger.Error("activation registration lookup failed", zap.Int64("user_id", user.ID), zap.Error(err))
		return
	}

	msg, err := mail.ActivationMessage(e.config.Platform.Name, e.config.Platform.BaseURL, user.Username, user.Email, reg.ActivationKey)
	if err == nil {
		err = e.mailer.Send(ctx, msg)
	}
	if err != nil {
		e.metricInc(MetricMailFailure)
		e.logger.Error("unable to send activation email", zap.Int64("user_id", user.ID), zap.Error(err))
	}
}

// sendPasswordReset stores a reset token for user and mails its link.
// Errors are logged and dropped.
func (e *Engine) sendPasswordReset(ctx context.Context, user *account.User) {
	tok, err := internal.NewResetToken()
	if err == nil {
		err = e.resetStore.Save(ctx, tok.ID, &stores.PasswordResetRecord{
			UserID:     user.ID,
			SecretHash: tok.Hash,
		}, e.config.PasswordReset.TTL)
	}
	var msg mail.Message
	if err == nil {
		msg, err = mail.PasswordResetMessage(e.config.Platform.Name, e.config.Platform.BaseURL, user.Username, user.Email, tok.Token)
	}
	if err == nil {
		err = e.mailer.Send(ctx, msg)
	}
	if err != nil {
		e.metricInc(MetricMailFailure)
		e.logger.Error("unable to send password reset email", zap.Int64("user_id", user.ID), zap.Error(err))
	}
}

func newActivationKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (e *Engine) checkCompliance(ctx context.Context, user *account.User, pw string) error {
	if !e.compliance.Enabled() {
		return nil
	}
	return e.compliance.Check(ctx, password.Subject{
		IsStaff:      user.IsStaff,
		IsPrivileged: user.IsSuperuser,
	}, pw)
}

func (e *Engine) initFlowDeps() {
	e.flowDeps = flows.Deps{
		Login: flows.LoginDeps{
			PreventConcurrentLogins: e.config.Features.PreventConcurrentLogins,
			PreventAuthUserWrites:   e.config.Features.PreventAuthUserWrites,
			PasswordUpgradeOnLogin:  e.config.Password.UpgradeOnLogin,
			Now:                     e.now,
			CheckLoginRate: func(ctx context.Context, email, ip string) error {
				err := e.rateLimiter.Check(ctx, email, ip)
				if errors.Is(err, rate.ErrRateLimited) {
					return ErrLoginRateLimited
				}
				return err
			},
			RecordLoginFailure:   e.rateLimiter.RecordFailure,
			ResetLoginRate:       e.rateLimiter.Reset,
			UserByEmail:          e.users.UserByEmail,
			UpdateLastLogin:      e.users.UpdateLastLogin,
			UpdatePasswordHash:   e.users.UpdatePasswordHash,
			Profile:              e.users.Profile,
			SaveProfile:          e.users.SaveProfile,
			NormalizePassword:    password.Normalize,
			VerifyPassword:       e.hasher.Verify,
			PasswordNeedsUpgrade: e.hasher.NeedsUpgrade,
			HashPassword:         e.hasher.Hash,
			CheckCompliance:      e.checkCompliance,
			CreateSession: func(ctx context.Context, user *account.User, messages []session.Message) (*session.Session, error) {
				return e.sessionStore.Create(ctx, user.ID, user.Username, messages)
			},
			DeleteSession:      e.sessionStore.Delete,
			DeleteUserSessions: e.sessionStore.DeleteAllForUser,
			SendActivation:     e.sendActivation,
			SendPasswordReset:  e.sendPasswordReset,
			MetricInc:          func(id int) { e.metricInc(MetricID(id)) },
			EmitAudit:          e.emitLoginAudit,
			Warn:               e.logger.Sugar().Warnw,
			Metrics: flows.LoginMetrics{
				LoginSuccess:         int(MetricLoginSuccess),
				LoginFailure:         int(MetricLoginFailure),
				LoginRateLimited:     int(MetricLoginRateLimited),
				LoginInactive:        int(MetricLoginInactive),
				ComplianceException:  int(MetricComplianceException),
				ComplianceWarning:    int(MetricComplianceWarning),
				PasswordHashUpgraded: int(MetricPasswordHashUpgraded),
				SessionCreated:       int(MetricSessionCreated),
				SessionInvalidated:   int(MetricSessionInvalidated),
			},
			Errors: flows.LoginErrors{
				EngineNotReady:       ErrEngineNotReady,
				InvalidCredentials:   ErrInvalidCredentials,
				LoginRateLimited:     ErrLoginRateLimited,
				AccountInactive:      ErrAccountInactive,
				SessionCreation:      ErrSessionCreationFailed,
				UserStoreUnavailable: ErrUserStoreUnavailable,
			},
		},
		Logout: flows.LogoutDeps{
			GetSession:      e.sessionStore.Get,
			DeleteSession:   e.sessionStore.Delete,
			MetricInc:       func(id int) { e.metricInc(MetricID(id)) },
			EmitAudit:       e.emitLogoutAudit,
			LogoutMetric:    int(MetricLogout),
			SessionNotFound: session.ErrNotFound,
		},
	}
}
