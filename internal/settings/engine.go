package settings

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/learnkit/authn"
)

const dateLayout = "2006-01-02"

// EphemeralJWTKey reports whether EngineConfig will generate a signing key
// that does not survive a restart.
func (s Settings) EphemeralJWTKey() bool {
	return strings.EqualFold(s.JWT.SigningMethod, "ed25519") && s.JWT.PrivateKeyFile == ""
}

// EngineConfig maps s onto the engine configuration, reading key material
// from disk where configured.
func (s Settings) EngineConfig() (authn.Config, error) {
	cfg := authn.DefaultConfig()

	cfg.Features = authn.FeatureFlags{
		SquelchPIIInLogs:        s.Features.SquelchPIIInLogs,
		PreventConcurrentLogins: s.Features.PreventConcurrentLogins,
		PreventAuthUserWrites:   s.Features.PreventAuthUserWrites,
	}
	cfg.RateLimit = authn.RateLimitConfig{
		MaxFailures:      s.RateLimit.MaxFailures,
		Window:           time.Duration(s.RateLimit.Window),
		EnableIPThrottle: s.RateLimit.EnableIPThrottle,
	}

	cfg.JWT.SigningMethod = strings.ToLower(s.JWT.SigningMethod)
	cfg.JWT.Issuer = s.JWT.Issuer
	cfg.JWT.Audience = s.JWT.Audience
	if s.JWT.TTL > 0 {
		cfg.JWT.TTL = time.Duration(s.JWT.TTL)
	}
	key, err := s.jwtKey()
	if err != nil {
		return authn.Config{}, err
	}
	cfg.JWT.PrivateKey = key

	p := s.PasswordPolicy
	cfg.PasswordPolicy.MinLength = p.MinLength
	cfg.PasswordPolicy.MaxLength = p.MaxLength
	cfg.PasswordPolicy.MinUpper = p.MinUpper
	cfg.PasswordPolicy.MinLower = p.MinLower
	cfg.PasswordPolicy.MinDigits = p.MinDigits
	cfg.PasswordPolicy.MinPunctuation = p.MinPunctuation
	cfg.PasswordPolicy.EnforceComplianceOnLogin = p.EnforceComplianceOnLogin
	deadlines := []struct {
		name string
		in   string
		out  **time.Time
	}{
		{"staff_deadline", p.StaffDeadline, &cfg.PasswordPolicy.StaffDeadline},
		{"privileged_deadline", p.PrivilegedDeadline, &cfg.PasswordPolicy.PrivilegedDeadline},
		{"general_deadline", p.GeneralDeadline, &cfg.PasswordPolicy.GeneralDeadline},
	}
	for _, d := range deadlines {
		if strings.TrimSpace(d.in) == "" {
			continue
		}
		t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(d.in), time.UTC)
		if err != nil {
			return authn.Config{}, fmt.Errorf("settings: password_policy.%s: %w", d.name, err)
		}
		*d.out = &t
	}

	cfg.Cookies.Domain = s.Cookies.Domain
	cfg.Cookies.Secure = s.Cookies.Secure
	cfg.Platform.Name = s.Platform.Name
	cfg.Platform.BaseURL = strings.TrimRight(s.Platform.BaseURL, "/")

	cfg.Audit.Async = s.Audit.Async
	if s.Audit.BufferSize > 0 {
		cfg.Audit.BufferSize = s.Audit.BufferSize
	}

	if err := cfg.Validate(); err != nil {
		return authn.Config{}, fmt.Errorf("settings: %w", err)
	}
	return cfg, nil
}

func (s Settings) jwtKey() ([]byte, error) {
	switch strings.ToLower(s.JWT.SigningMethod) {
	case "hs256":
		if s.JWT.Secret == "" {
			return nil, errors.New("settings: jwt.secret is required for hs256")
		}
		return []byte(s.JWT.Secret), nil
	case "ed25519":
		if s.JWT.PrivateKeyFile == "" {
			_, priv, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return nil, fmt.Errorf("settings: generate jwt key: %w", err)
			}
			return priv, nil
		}
		data, err := os.ReadFile(s.JWT.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("settings: read jwt key: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("settings: unsupported jwt signing method %q", s.JWT.SigningMethod)
	}
}
