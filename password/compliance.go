package password

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ComplianceKind distinguishes a blocking compliance failure from a warning.
type ComplianceKind int

const (
	// ComplianceWarning lets the login proceed and surfaces the message to the user.
	ComplianceWarning ComplianceKind = iota
	// ComplianceException fails the login and triggers a password reset.
	ComplianceException
)

func (k ComplianceKind) String() string {
	if k == ComplianceException {
		return "exception"
	}
	return "warning"
}

const (
	complianceExceptionMessage = "We recently changed our password requirements. " +
		"Your current password does not meet the new security requirements. " +
		"We just sent a password-reset message to the email address associated with this account. " +
		"Thank you for helping us keep your data safe."
	complianceWarningMessage = "We recently changed our password requirements. " +
		"Your current password does not meet the new security requirements. " +
		"Change your password now using the \"Forgot password\" link before %s. " +
		"Thank you for helping us keep your data safe."
)

// ComplianceError is the outcome of a failed compliance check.
type ComplianceError struct {
	Kind     ComplianceKind
	Message  string
	Deadline time.Time
}

func (e *ComplianceError) Error() string { return e.Message }

// AsComplianceError unwraps err into a *ComplianceError.
func AsComplianceError(err error) (*ComplianceError, bool) {
	var ce *ComplianceError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// NewComplianceException builds a blocking compliance error with the standard message.
func NewComplianceException() *ComplianceError {
	return &ComplianceError{Kind: ComplianceException, Message: complianceExceptionMessage}
}

// NewComplianceWarning builds a non-blocking compliance error carrying msg.
func NewComplianceWarning(msg string) *ComplianceError {
	return &ComplianceError{Kind: ComplianceWarning, Message: msg}
}

// ComplianceConfig holds the rollout deadlines. A nil deadline disables
// enforcement for that group of users.
type ComplianceConfig struct {
	EnforceOnLogin     bool
	StaffDeadline      *time.Time
	PrivilegedDeadline *time.Time
	GeneralDeadline    *time.Time
}

// Subject is what the checker needs to know about the user logging in.
type Subject struct {
	IsStaff      bool
	IsPrivileged bool
}

// ComplianceChecker judges a password entered at login against a Policy.
type ComplianceChecker struct {
	policy Policy
	config ComplianceConfig
	now    func() time.Time
}

// NewComplianceChecker returns a checker; now may be nil.
func NewComplianceChecker(policy Policy, cfg ComplianceConfig, now func() time.Time) *ComplianceChecker {
	if now == nil {
		now = time.Now
	}
	return &ComplianceChecker{policy: policy, config: cfg, now: now}
}

// Enabled reports whether compliance is enforced at login.
func (c *ComplianceChecker) Enabled() bool {
	return c != nil && c.config.EnforceOnLogin
}

// Check returns nil when the password complies or no deadline applies to
// the subject. Past the deadline it returns an exception, before it a warning.
func (c *ComplianceChecker) Check(_ context.Context, subject Subject, password string) error {
	if !c.Enabled() {
		return nil
	}
	if c.policy.Validate(password) == nil {
		return nil
	}

	deadline := c.deadlineFor(subject)
	if deadline == nil {
		return nil
	}

	var ce *ComplianceError
	if !c.now().Before(*deadline) {
		ce = NewComplianceException()
	} else {
		ce = NewComplianceWarning(fmt.Sprintf(complianceWarningMessage, deadline.UTC().Format("January 2, 2006")))
	}
	ce.Deadline = *deadline
	return ce
}

func (c *ComplianceChecker) deadlineFor(subject Subject) *time.Time {
	switch {
	case subject.IsStaff && c.config.StaffDeadline != nil:
		return c.config.StaffDeadline
	case subject.IsPrivileged && c.config.PrivilegedDeadline != nil:
		return c.config.PrivilegedDeadline
	default:
		return c.config.GeneralDeadline
	}
}
