package flows

import (
	"context"
	"errors"

	"github.com/learnkit/authn/session"
)

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	GetSession    func(ctx context.Context, sessionID string) (*session.Session, error)
	DeleteSession func(ctx context.Context, sessionID string) error
	MetricInc     func(int)
	EmitAudit     func(ctx context.Context, sess *session.Session)

	LogoutMetric    int
	SessionNotFound error
}

// RunLogout deletes sessionID and reports the session that was logged out,
// or nil when there was none. Logging out without a live session is not
// an error.
func RunLogout(ctx context.Context, sessionID string, deps LogoutDeps) (*session.Session, error) {
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	deps.MetricInc(deps.LogoutMetric)

	if sessionID == "" {
		return nil, nil
	}

	sess, err := deps.GetSession(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, deps.SessionNotFound) {
			return nil, err
		}
		sess = nil
	}

	if err := deps.DeleteSession(ctx, sessionID); err != nil {
		return nil, err
	}

	if sess != nil && deps.EmitAudit != nil {
		deps.EmitAudit(ctx, sess)
	}
	return sess, nil
}
