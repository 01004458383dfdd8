package authn

import (
	"context"
	"time"

	"github.com/learnkit/authn/account"
	"github.com/learnkit/authn/internal/audit"
	"github.com/learnkit/authn/password"
	"github.com/learnkit/authn/session"
)

// ComplianceError is the result of a failed password-policy check at login.
type ComplianceError = password.ComplianceError

// AuditEvent is one audit record handed to an AuditSink.
type AuditEvent = audit.Event

// AuditSink receives audit events. Emit must not block for long; use the
// async dispatcher (Config.Audit.Async) for slow sinks.
type AuditSink = audit.Sink

// LoginRequest carries the fields posted to the login endpoint.
type LoginRequest struct {
	Email            string
	Password         string
	EnrollmentAction string
	CourseID         string

	// SessionID is the session the client presented, if any. It is
	// deleted once the login succeeds.
	SessionID string
	// IP is used for optional per-IP throttling and audit. Falls back to
	// the value set with WithClientIP.
	IP string
}

// LoginResult is the outcome of a successful Login.
type LoginResult struct {
	Success     bool
	Value       string
	RedirectURL *string

	User    *account.User
	Session *session.Session

	JWT          string
	JWTExpiresAt time.Time
}

// EnrollmentChanger handles the enrollment_action posted with a login.
// Only a 200 status with a non-empty body is used as a redirect target;
// anything else, including an error, is ignored and the login stands.
type EnrollmentChanger interface {
	Change(ctx context.Context, user *account.User, action, courseID string) (status int, body string, err error)
}

// EnrollmentChangerFunc adapts a function to EnrollmentChanger.
type EnrollmentChangerFunc func(ctx context.Context, user *account.User, action, courseID string) (int, string, error)

func (f EnrollmentChangerFunc) Change(ctx context.Context, user *account.User, action, courseID string) (int, string, error) {
	return f(ctx, user, action, courseID)
}

// Identity is what ResolveSession reports for a live session.
type Identity struct {
	Session *session.Session
	User    *account.User
}
