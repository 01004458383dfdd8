package authn

import "errors"

var (
	// ErrInvalidCredentials covers both an unknown email and a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountInactive is returned for a correct password on an inactive account.
	ErrAccountInactive = errors.New("account inactive")
	// ErrLoginRateLimited is returned once the failure budget for a credential is spent.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrPasswordNonCompliant is returned when the password-policy deadline has passed.
	ErrPasswordNonCompliant = errors.New("password not compliant")
	// ErrPasswordPolicy is returned when a new password violates the policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrSessionSuperseded is returned for a session replaced by a newer login.
	ErrSessionSuperseded = errors.New("session superseded")
	// ErrPasswordResetAttempts is returned after too many wrong tokens for one reset.
	ErrPasswordResetAttempts = errors.New("password reset attempts exceeded")

	ErrSessionNotFound          = errors.New("session not found")
	ErrSessionCreationFailed    = errors.New("session creation failed")
	ErrActivationInvalid        = errors.New("activation key invalid")
	ErrPasswordResetInvalid     = errors.New("password reset token invalid")
	ErrPasswordResetUnavailable = errors.New("password reset backend unavailable")
	ErrUserStoreUnavailable     = errors.New("user store unavailable")
	ErrEngineNotReady           = errors.New("engine not initialized")
)

const (
	msgInvalidCredentials = "Email or password is incorrect"
	msgAccountInactive    = "In order to sign in, you need to activate your account."
	msgRateLimited        = "Too many failed login attempts"
	msgGenericFailure     = "There was an error receiving your login information. Please email us."
)

// FailureMessage maps a Login error to the text shown to the user.
// Unknown errors get a generic message so internals never leak.
func FailureMessage(err error) string {
	var ce *ComplianceError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ce):
		return ce.Message
	case errors.Is(err, ErrInvalidCredentials):
		return msgInvalidCredentials
	case errors.Is(err, ErrAccountInactive):
		return msgAccountInactive
	case errors.Is(err, ErrLoginRateLimited):
		return msgRateLimited
	default:
		return msgGenericFailure
	}
}
