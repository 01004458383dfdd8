package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/learnkit/authn"
	"github.com/learnkit/authn/middleware"
	"github.com/learnkit/authn/password"
)

const (
	msgNotLoggedIn     = "You must be logged in to refresh your session."
	msgActivated       = "Your account has been activated."
	msgActivationBad   = "The activation link is invalid or has already been used."
	msgResetDone       = "Your password has been reset."
	msgResetInvalid    = "The password reset link was invalid, possibly because it has already been used."
	msgResetTooMany    = "Too many attempts for this password reset link. Request a new one."
	msgResetUnexpected = "Your password could not be reset. Please try again later."
)

func sessionCookie(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusOK, envelope{Value: authn.FailureMessage(err)})
		return
	}

	res, err := a.engine.Login(r.Context(), authn.LoginRequest{
		Email:            r.PostFormValue("email"),
		Password:         r.PostFormValue("password"),
		EnrollmentAction: r.PostFormValue("enrollment_action"),
		CourseID:         r.PostFormValue("course_id"),
		SessionID:        sessionCookie(r, a.cookies.cfg.SessionName),
	})
	if err != nil {
		a.logLoginError(r, err)
		writeJSON(w, http.StatusOK, envelope{Value: authn.FailureMessage(err)})
		return
	}

	expires := time.Unix(res.Session.ExpiresAt, 0)
	if err := a.cookies.setLogin(w, r, res.Session.ID, expires, res.User); err != nil {
		a.logger.Error("setting login cookies failed", zap.Error(err))
	}
	if err := a.cookies.setJWT(w, res.JWT, res.JWTExpiresAt); err != nil {
		a.logger.Error("setting jwt cookies failed", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, envelope{Success: true, RedirectURL: res.RedirectURL})
}

// logLoginError logs failures that are not a plain credential outcome.
func (a *API) logLoginError(r *http.Request, err error) {
	var ce *authn.ComplianceError
	switch {
	case errors.Is(err, authn.ErrInvalidCredentials),
		errors.Is(err, authn.ErrAccountInactive),
		errors.Is(err, authn.ErrLoginRateLimited),
		errors.As(err, &ce):
		return
	}
	a.logger.Error("login failed",
		zap.String("request_id", authn.RequestIDFromContext(r.Context())),
		zap.Error(err),
	)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sid := sessionCookie(r, a.cookies.cfg.SessionName); sid != "" {
		if _, err := a.engine.Logout(r.Context(), sid); err != nil {
			a.logger.Warn("logout failed", zap.Error(err))
		}
	}
	a.cookies.clearAll(w)

	target := "/"
	if next := r.URL.Query().Get("redirect_url"); isSafeRedirect(next) {
		target = next
	}
	writeJSON(w, http.StatusOK, logoutEnvelope{Success: true, Target: target})
}

// isSafeRedirect accepts only same-site absolute paths.
func isSafeRedirect(target string) bool {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, "\\") {
		return false
	}
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == ""
}

func (a *API) handleLoginRefresh(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, resultEnvelope{Value: msgNotLoggedIn})
		return
	}

	token, expires, err := a.engine.RefreshJWT(r.Context(), id.Session.ID)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, resultEnvelope{Value: msgNotLoggedIn})
		return
	}
	if err := a.cookies.setJWT(w, token, expires); err != nil {
		a.logger.Error("setting jwt cookies failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, resultEnvelope{})
		return
	}
	writeJSON(w, http.StatusOK, resultEnvelope{Success: true})
}

func (a *API) handleActivate(w http.ResponseWriter, r *http.Request) {
	_, err := a.engine.ActivateAccount(r.Context(), r.PathValue("key"))
	if err != nil {
		if !errors.Is(err, authn.ErrActivationInvalid) {
			a.logger.Error("activation failed", zap.Error(err))
		}
		writeJSON(w, http.StatusOK, resultEnvelope{Value: msgActivationBad})
		return
	}
	writeJSON(w, http.StatusOK, resultEnvelope{Success: true, Value: msgActivated})
}

func (a *API) handlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusOK, resultEnvelope{Value: msgResetInvalid})
		return
	}
	err := a.engine.ConfirmPasswordReset(r.Context(), r.PostFormValue("token"), r.PostFormValue("new_password"))
	if err == nil {
		writeJSON(w, http.StatusOK, resultEnvelope{Success: true, Value: msgResetDone})
		return
	}

	var pe *password.PolicyError
	msg := msgResetUnexpected
	switch {
	case errors.As(err, &pe):
		msg = pe.Error()
	case errors.Is(err, authn.ErrPasswordResetInvalid):
		msg = msgResetInvalid
	case errors.Is(err, authn.ErrPasswordResetAttempts):
		msg = msgResetTooMany
	default:
		a.logger.Error("password reset failed", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, resultEnvelope{Value: msg})
}

type dashboardMessage struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

type dashboardResponse struct {
	Username string             `json:"username"`
	Messages []dashboardMessage `json:"messages"`
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())

	msgs, err := a.engine.PopMessages(r.Context(), id.Session.ID)
	if err != nil {
		a.logger.Warn("reading session messages failed", zap.Error(err))
	}
	out := dashboardResponse{Username: id.User.Username, Messages: make([]dashboardMessage, 0, len(msgs))}
	for _, m := range msgs {
		out.Messages = append(out.Messages, dashboardMessage{Level: m.Level.String(), Text: m.Text})
	}
	writeJSON(w, http.StatusOK, out)
}
