package authn

import (
	"context"
	"fmt"
	"strconv"

	"github.com/learnkit/authn/account"
	"github.com/learnkit/authn/internal/audit"
	"github.com/learnkit/authn/internal/flows"
	"github.com/learnkit/authn/session"
)

const (
	auditEventLoginSuccess             = "login_success"
	auditEventLoginFailure             = "login_failure"
	auditEventLoginRateLimited         = "login_rate_limited"
	auditEventLoginInactive            = "login_inactive"
	auditEventLoginComplianceException = "login_password_noncompliant"
	auditEventLogout                   = "logout"
	auditEventActivation               = "account_activated"
	auditEventPasswordReset            = "password_reset_confirm"
)

const (
	auditErrInvalidCredentials = "invalid_credentials"
	auditErrUnknownUser        = "user_not_found"
	auditErrRateLimited        = "rate_limited"
	auditErrAccountInactive    = "account_inactive"
	auditErrPasswordPolicy     = "password_policy"
)

// emitLoginAudit writes the audit line for a login outcome. With
// SquelchPIIInLogs the message carries the user id instead of the email
// or username, and the client IP is left out.
func (e *Engine) emitLoginAudit(ctx context.Context, kind flows.LoginAudit, email string, user *account.User, sessionID string) {
	squelch := e.config.Features.SquelchPIIInLogs
	ev := audit.Event{Level: audit.LevelWarning}

	switch kind {
	case flows.AuditLoginSuccess:
		ev.EventType = auditEventLoginSuccess
		ev.Level = audit.LevelInfo
		ev.Success = true
		ev.SessionID = sessionID
		if squelch {
			ev.Message = fmt.Sprintf("Login success - user.id: %d", user.ID)
		} else {
			ev.Message = fmt.Sprintf("Login success - %s (%s)", user.Username, email)
		}
	case flows.AuditUnknownEmail:
		ev.EventType = auditEventLoginFailure
		ev.Error = auditErrUnknownUser
		if squelch {
			ev.Message = "Login failed - Unknown user email"
		} else {
			ev.Message = "Login failed - Unknown user email: " + email
		}
	case flows.AuditBadPassword:
		ev.EventType = auditEventLoginFailure
		ev.Error = auditErrInvalidCredentials
		if squelch {
			ev.Message = fmt.Sprintf("Login failed - password for user.id: %d is invalid", user.ID)
		} else {
			ev.Message = fmt.Sprintf("Login failed - password for %s is invalid", email)
		}
	case flows.AuditInactive:
		ev.EventType = auditEventLoginInactive
		ev.Error = auditErrAccountInactive
		if squelch {
			ev.Message = fmt.Sprintf("Login failed - Account not active for user.id: %d, resending activation", user.ID)
		} else {
			ev.Message = fmt.Sprintf("Login failed - Account not active for user %s, resending activation", user.Username)
		}
	case flows.AuditRateLimited:
		ev.EventType = auditEventLoginRateLimited
		ev.Error = auditErrRateLimited
		ev.Message = "Login failed - Rate limit exceeded"
	case flows.AuditComplianceException:
		ev.EventType = auditEventLoginComplianceException
		ev.Error = auditErrPasswordPolicy
		if squelch {
			ev.Message = fmt.Sprintf("Login failed - password for user.id: %d does not comply with the password policy", user.ID)
		} else {
			ev.Message = fmt.Sprintf("Login failed - password for %s does not comply with the password policy", email)
		}
	default:
		return
	}

	if user != nil {
		ev.UserID = strconv.FormatInt(user.ID, 10)
	}
	e.emitAudit(ctx, ev)
}

func (e *Engine) emitLogoutAudit(ctx context.Context, sess *session.Session) {
	ev := audit.Event{
		EventType: auditEventLogout,
		Level:     audit.LevelInfo,
		Success:   true,
		UserID:    strconv.FormatInt(sess.UserID, 10),
		SessionID: sess.ID,
	}
	if e.config.Features.SquelchPIIInLogs {
		ev.Message = fmt.Sprintf("Logout - user.id: %d", sess.UserID)
	} else {
		ev.Message = "Logout - " + sess.Username
	}
	e.emitAudit(ctx, ev)
}

func (e *Engine) emitAccountAudit(ctx context.Context, eventType string, user *account.User) {
	ev := audit.Event{
		EventType: eventType,
		Level:     audit.LevelInfo,
		Success:   true,
		UserID:    strconv.FormatInt(user.ID, 10),
	}
	switch eventType {
	case auditEventActivation:
		ev.Message = fmt.Sprintf("Account activated - user.id: %d", user.ID)
	case auditEventPasswordReset:
		ev.Message = fmt.Sprintf("Password reset - user.id: %d", user.ID)
	}
	e.emitAudit(ctx, ev)
}

func (e *Engine) emitAudit(ctx context.Context, ev audit.Event) {
	if e == nil || e.audit == nil {
		return
	}
	ev.Timestamp = e.now().UTC()
	ev.RequestID = RequestIDFromContext(ctx)
	if !e.config.Features.SquelchPIIInLogs {
		ev.IP = clientIPFromContext(ctx)
	}
	e.audit.Emit(ctx, ev)
}
