package password

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Policy describes the rules a password must satisfy. Zero-valued minimums
// are not checked; a zero MaxLength means no upper bound.
type Policy struct {
	MinLength      int
	MaxLength      int
	MinUpper       int
	MinLower       int
	MinDigits      int
	MinPunctuation int
}

// DefaultPolicy mirrors the historical platform defaults: 2 to 75 characters.
func DefaultPolicy() Policy {
	return Policy{MinLength: 2, MaxLength: 75}
}

// PolicyError lists every rule a password broke.
type PolicyError struct {
	Violations []string
}

func (e *PolicyError) Error() string {
	return strings.Join(e.Violations, " ")
}

// Validate checks password after NFKC normalisation and returns a
// *PolicyError when any rule fails.
func (p Policy) Validate(password string) error {
	password = Normalize(password)

	var upper, lower, digits, punct int
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper++
		case unicode.IsLower(r):
			lower++
		case unicode.IsDigit(r):
			digits++
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			punct++
		}
	}

	var violations []string
	length := utf8.RuneCountInString(password)
	if p.MinLength > 0 && length < p.MinLength {
		violations = append(violations, fmt.Sprintf("This password is too short. It must contain at least %d %s.", p.MinLength, plural(p.MinLength, "character")))
	}
	if p.MaxLength > 0 && length > p.MaxLength {
		violations = append(violations, fmt.Sprintf("This password is too long. It must contain no more than %d %s.", p.MaxLength, plural(p.MaxLength, "character")))
	}
	if upper < p.MinUpper {
		violations = append(violations, fmt.Sprintf("This password must contain at least %d uppercase %s.", p.MinUpper, plural(p.MinUpper, "letter")))
	}
	if lower < p.MinLower {
		violations = append(violations, fmt.Sprintf("This password must contain at least %d lowercase %s.", p.MinLower, plural(p.MinLower, "letter")))
	}
	if digits < p.MinDigits {
		violations = append(violations, fmt.Sprintf("This password must contain at least %d %s.", p.MinDigits, plural(p.MinDigits, "number")))
	}
	if punct < p.MinPunctuation {
		violations = append(violations, fmt.Sprintf("This password must contain at least %d punctuation %s.", p.MinPunctuation, plural(p.MinPunctuation, "mark")))
	}

	if len(violations) > 0 {
		return &PolicyError{Violations: violations}
	}
	return nil
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
