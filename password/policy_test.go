package password

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if err := p.Validate("ab"); err != nil {
		t.Fatalf("expected 2 characters to pass, got %v", err)
	}
	if err := p.Validate("a"); err == nil {
		t.Fatal("expected 1 character to fail")
	}
	if err := p.Validate(strings.Repeat("a", 76)); err == nil {
		t.Fatal("expected 76 characters to fail")
	}
}

func TestPolicyCharacterClasses(t *testing.T) {
	p := Policy{MinLength: 8, MinUpper: 1, MinLower: 1, MinDigits: 2, MinPunctuation: 1}

	err := p.Validate("abcdefgh")
	var pe *PolicyError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PolicyError, got %v", err)
	}
	if len(pe.Violations) != 3 {
		t.Fatalf("expected 3 violations, got %#v", pe.Violations)
	}
	if !strings.Contains(pe.Error(), "2 numbers") {
		t.Fatalf("expected digit rule in message, got %q", pe.Error())
	}

	if err := p.Validate("Abcdef12!"); err != nil {
		t.Fatalf("expected compliant password, got %v", err)
	}
}

func TestComplianceDisabled(t *testing.T) {
	c := NewComplianceChecker(Policy{MinLength: 20}, ComplianceConfig{}, nil)
	if c.Enabled() {
		t.Fatal("expected checker to be disabled")
	}
	if err := c.Check(context.Background(), Subject{}, "short"); err != nil {
		t.Fatalf("expected nil when disabled, got %v", err)
	}
}

func TestComplianceDeadlines(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(48 * time.Hour)

	c := NewComplianceChecker(Policy{MinLength: 20}, ComplianceConfig{
		EnforceOnLogin:  true,
		StaffDeadline:   &past,
		GeneralDeadline: &future,
	}, func() time.Time { return now })

	if err := c.Check(context.Background(), Subject{}, strings.Repeat("x", 20)); err != nil {
		t.Fatalf("expected compliant password to pass, got %v", err)
	}

	err := c.Check(context.Background(), Subject{IsStaff: true}, "short")
	ce, ok := AsComplianceError(err)
	if !ok || ce.Kind != ComplianceException {
		t.Fatalf("expected exception for staff past deadline, got %v", err)
	}

	err = c.Check(context.Background(), Subject{}, "short")
	ce, ok = AsComplianceError(err)
	if !ok || ce.Kind != ComplianceWarning {
		t.Fatalf("expected warning before deadline, got %v", err)
	}
	if !strings.Contains(ce.Message, "June 3, 2024") {
		t.Fatalf("expected deadline in message, got %q", ce.Message)
	}
}

func TestComplianceNoDeadlineForGroup(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	c := NewComplianceChecker(Policy{MinLength: 20}, ComplianceConfig{
		EnforceOnLogin: true,
		StaffDeadline:  &past,
	}, nil)

	if err := c.Check(context.Background(), Subject{}, "short"); err != nil {
		t.Fatalf("expected no enforcement without a general deadline, got %v", err)
	}
}

func TestComplianceErrorsCarryDeadline(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	staff := now.Add(-time.Hour)
	general := now.Add(48 * time.Hour)
	c := NewComplianceChecker(Policy{MinLength: 20}, ComplianceConfig{
		EnforceOnLogin:  true,
		StaffDeadline:   &staff,
		GeneralDeadline: &general,
	}, func() time.Time { return now })

	ce, _ := AsComplianceError(c.Check(context.Background(), Subject{IsStaff: true}, "short"))
	if ce == nil || ce.Message != NewComplianceException().Message || !ce.Deadline.Equal(staff) {
		t.Fatalf("unexpected exception %+v", ce)
	}

	ce, _ = AsComplianceError(c.Check(context.Background(), Subject{}, "short"))
	if ce == nil || ce.Kind != ComplianceWarning || !ce.Deadline.Equal(general) {
		t.Fatalf("unexpected warning %+v", ce)
	}
}
