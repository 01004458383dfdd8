package internaldefs

import (
	"github.com/learnkit/authn"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   authn.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   authn.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: authn.MetricLoginSuccess, Name: "authn_login_success_total", Help: "Successful logins."},
	{ID: authn.MetricLoginFailure, Name: "authn_login_failure_total", Help: "Logins rejected for unknown email or wrong password."},
	{ID: authn.MetricLoginRateLimited, Name: "authn_login_rate_limited_total", Help: "Logins rejected by the failed-attempt limiter."},
	{ID: authn.MetricLoginInactive, Name: "authn_login_inactive_total", Help: "Logins rejected because the account is not active."},
	{ID: authn.MetricComplianceException, Name: "authn_password_compliance_exception_total", Help: "Logins rejected by password-policy enforcement."},
	{ID: authn.MetricComplianceWarning, Name: "authn_password_compliance_warning_total", Help: "Logins allowed with a password-policy warning."},
	{ID: authn.MetricPasswordHashUpgraded, Name: "authn_password_hash_upgraded_total", Help: "Stored password hashes upgraded on login."},
	{ID: authn.MetricSessionCreated, Name: "authn_session_created_total", Help: "Created sessions."},
	{ID: authn.MetricSessionSuperseded, Name: "authn_session_superseded_total", Help: "Sessions rejected after a newer login of the same user."},
	{ID: authn.MetricSessionInvalidated, Name: "authn_session_invalidated_total", Help: "Sessions deleted by single-session enforcement or password reset."},
	{ID: authn.MetricLogout, Name: "authn_logout_total", Help: "Logout requests."},
	{ID: authn.MetricJWTRefreshed, Name: "authn_jwt_refreshed_total", Help: "JWT cookie refreshes."},
	{ID: authn.MetricActivationSuccess, Name: "authn_activation_success_total", Help: "Successful account activations."},
	{ID: authn.MetricActivationFailure, Name: "authn_activation_failure_total", Help: "Activation attempts with an unknown key."},
	{ID: authn.MetricPasswordResetConfirmSuccess, Name: "authn_password_reset_confirm_success_total", Help: "Successful password reset confirmations."},
	{ID: authn.MetricPasswordResetConfirmFailure, Name: "authn_password_reset_confirm_failure_total", Help: "Failed password reset confirmations."},
	{ID: authn.MetricEnrollmentFailure, Name: "authn_enrollment_failure_total", Help: "Enrollment side effects that failed after login."},
	{ID: authn.MetricMailFailure, Name: "authn_mail_failure_total", Help: "Activation or reset emails that could not be sent."},
}

var HistogramDefs = []HistogramDef{
	{ID: authn.MetricLoginLatency, Name: "authn_login_latency_seconds", Help: "Login latency histogram."},
}

// HistogramBounds are the upper bounds of the eight latency buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix renders HistogramBounds as instrument-name suffixes.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
