package authn

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// Config is the engine configuration. Build copies it; later changes to
// the caller's value have no effect.
type Config struct {
	Features       FeatureFlags
	RateLimit      RateLimitConfig
	Session        SessionConfig
	JWT            JWTConfig
	Password       PasswordConfig
	PasswordPolicy PasswordPolicyConfig
	PasswordReset  PasswordResetConfig
	Cookies        CookieConfig
	Platform       PlatformConfig
	Audit          AuditConfig
	Metrics        MetricsConfig
}

/*
====================================
FEATURE FLAGS
====================================
*/

// FeatureFlags mirror the SQUELCH_PII_IN_LOGS, PREVENT_CONCURRENT_LOGINS and
// PREVENT_AUTH_USER_WRITES deployment switches.
type FeatureFlags struct {
	SquelchPIIInLogs        bool
	PreventConcurrentLogins bool
	PreventAuthUserWrites   bool
}

// RateLimitConfig bounds failed logins per credential in a rolling window.
type RateLimitConfig struct {
	MaxFailures      int
	Window           time.Duration
	EnableIPThrottle bool
}

type SessionConfig struct {
	RedisPrefix string
	TTL         time.Duration
}

type JWTConfig struct {
	TTL           time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	KeyID         string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id parameters for new hashes.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

// PasswordPolicyConfig is the password policy and its login enforcement.
// A nil deadline disables enforcement for that group of users.
type PasswordPolicyConfig struct {
	MinLength      int
	MaxLength      int
	MinUpper       int
	MinLower       int
	MinDigits      int
	MinPunctuation int

	EnforceComplianceOnLogin bool
	StaffDeadline            *time.Time
	PrivilegedDeadline       *time.Time
	GeneralDeadline          *time.Time
}

type PasswordResetConfig struct {
	RedisPrefix string
	TTL         time.Duration
	MaxAttempts int
}

/*
====================================
COOKIES & PLATFORM
====================================
*/

// CookieConfig names the cookies set on login and cleared on logout.
type CookieConfig struct {
	SessionName          string
	LoggedInName         string
	UserInfoName         string
	JWTHeaderPayloadName string
	JWTSignatureName     string
	Domain               string
	Secure               bool
	SameSite             http.SameSite
	UserInfoVersion      int
}

// PlatformConfig describes the site. HeaderURLs are paths placed in the
// user-info cookie after being made absolute; "{username}" is substituted.
type PlatformConfig struct {
	Name       string
	BaseURL    string
	LoginURL   string
	HeaderURLs map[string]string
}

// AuditConfig controls delivery of audit events. Synchronous delivery is
// the default.
type AuditConfig struct {
	Async      bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the stock settings. JWT.PrivateKey has no default
// and must be supplied before Build.
func DefaultConfig() Config {
	return Config{
		RateLimit: RateLimitConfig{
			MaxFailures: 30,
			Window:      5 * time.Minute,
		},
		Session: SessionConfig{
			RedisPrefix: "sess",
			TTL:         14 * 24 * time.Hour,
		},
		JWT: JWTConfig{
			TTL:           time.Hour,
			SigningMethod: "ed25519",
			Issuer:        "authn",
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		PasswordPolicy: PasswordPolicyConfig{
			MinLength: 2,
			MaxLength: 75,
		},
		PasswordReset: PasswordResetConfig{
			RedisPrefix: "apr",
			TTL:         time.Hour,
			MaxAttempts: 5,
		},
		Cookies: CookieConfig{
			SessionName:          "sessionid",
			LoggedInName:         "edxloggedin",
			UserInfoName:         "edx-user-info",
			JWTHeaderPayloadName: "edx-jwt-cookie-header-payload",
			JWTSignatureName:     "edx-jwt-cookie-signature",
			SameSite:             http.SameSiteLaxMode,
			UserInfoVersion:      1,
		},
		Platform: PlatformConfig{
			Name:     "Open edX",
			LoginURL: "/login",
			HeaderURLs: map[string]string{
				"logout":           "/logout",
				"account_settings": "/account/settings",
				"learner_profile":  "/u/{username}",
			},
		},
		Audit: AuditConfig{
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.PasswordPolicy.StaffDeadline = cloneTime(cfg.PasswordPolicy.StaffDeadline)
	out.PasswordPolicy.PrivilegedDeadline = cloneTime(cfg.PasswordPolicy.PrivilegedDeadline)
	out.PasswordPolicy.GeneralDeadline = cloneTime(cfg.PasswordPolicy.GeneralDeadline)
	if cfg.Platform.HeaderURLs != nil {
		out.Platform.HeaderURLs = make(map[string]string, len(cfg.Platform.HeaderURLs))
		for k, v := range cfg.Platform.HeaderURLs {
			out.Platform.HeaderURLs[k] = v
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.RateLimit.MaxFailures <= 0 {
		return errors.New("RateLimit MaxFailures must be > 0")
	}
	if c.RateLimit.Window <= 0 {
		return errors.New("RateLimit Window must be > 0")
	}

	if strings.TrimSpace(c.Session.RedisPrefix) == "" {
		return errors.New("Session RedisPrefix must be set")
	}
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}

	if c.JWT.TTL <= 0 {
		return errors.New("JWT TTL must be > 0")
	}
	switch c.JWT.SigningMethod {
	case "ed25519", "hs256":
	default:
		return errors.New("unsupported JWT signing method")
	}
	if len(c.JWT.PrivateKey) == 0 {
		return errors.New("JWT PrivateKey must be set")
	}

	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	p := c.PasswordPolicy
	if p.MinLength < 0 || p.MinUpper < 0 || p.MinLower < 0 || p.MinDigits < 0 || p.MinPunctuation < 0 {
		return errors.New("PasswordPolicy minimums must be >= 0")
	}
	if p.MaxLength > 0 && p.MaxLength < p.MinLength {
		return errors.New("PasswordPolicy MaxLength must be >= MinLength")
	}

	if c.PasswordReset.TTL <= 0 {
		return errors.New("PasswordReset TTL must be > 0")
	}
	if c.PasswordReset.MaxAttempts <= 0 {
		return errors.New("PasswordReset MaxAttempts must be > 0")
	}

	ck := c.Cookies
	if ck.SessionName == "" || ck.LoggedInName == "" || ck.UserInfoName == "" ||
		ck.JWTHeaderPayloadName == "" || ck.JWTSignatureName == "" {
		return errors.New("Cookies names must all be set")
	}

	if strings.TrimSpace(c.Platform.Name) == "" {
		return errors.New("Platform Name must be set")
	}
	if !strings.HasPrefix(c.Platform.LoginURL, "/") {
		return errors.New("Platform LoginURL must be a path")
	}

	if c.Audit.Async && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when Async is true")
	}

	return nil
}
