// Package settings loads the server configuration.
//
// Precedence, lowest first: Defaults, the config file (YAML or TOML by
// extension), the .env file, then the process environment. Flags parsed by
// the binary are applied by the caller last.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration decodes "5m"-style strings from YAML, TOML and the environment.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

type Settings struct {
	Listen         string         `yaml:"listen" toml:"listen"`
	Log            Log            `yaml:"log" toml:"log"`
	Redis          Redis          `yaml:"redis" toml:"redis"`
	Database       Database       `yaml:"database" toml:"database"`
	SMTP           SMTP           `yaml:"smtp" toml:"smtp"`
	Features       Features       `yaml:"features" toml:"features"`
	RateLimit      RateLimit      `yaml:"rate_limit" toml:"rate_limit"`
	JWT            JWT            `yaml:"jwt" toml:"jwt"`
	Platform       Platform       `yaml:"platform" toml:"platform"`
	Cookies        Cookies        `yaml:"cookies" toml:"cookies"`
	PasswordPolicy PasswordPolicy `yaml:"password_policy" toml:"password_policy"`
	Audit          Audit          `yaml:"audit" toml:"audit"`
	Flood          Flood          `yaml:"flood" toml:"flood"`
	Metrics        Metrics        `yaml:"metrics" toml:"metrics"`
	Enrollment     Enrollment     `yaml:"enrollment" toml:"enrollment"`
}

type Log struct {
	Level        string   `yaml:"level" toml:"level"`
	Dev          bool     `yaml:"dev" toml:"dev"`
	File         string   `yaml:"file" toml:"file"`
	RotationTime Duration `yaml:"rotation_time" toml:"rotation_time"`
	MaxAge       Duration `yaml:"max_age" toml:"max_age"`
}

// Redis selects the Redis deployment. Memory runs an in-process server
// and is meant for development only.
type Redis struct {
	Addrs    []string `yaml:"addrs" toml:"addrs"`
	Password string   `yaml:"password" toml:"password"`
	DB       int      `yaml:"db" toml:"db"`
	Memory   bool     `yaml:"memory" toml:"memory"`
}

// Database is the Postgres user store. An empty DSN selects the in-memory
// store.
type Database struct {
	DSN     string `yaml:"dsn" toml:"dsn"`
	Migrate bool   `yaml:"migrate" toml:"migrate"`
}

// SMTP configures outgoing mail. An empty Host logs mail instead of
// sending it.
type SMTP struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
	From     string `yaml:"from" toml:"from"`
}

type Features struct {
	SquelchPIIInLogs        bool `yaml:"squelch_pii_in_logs" toml:"squelch_pii_in_logs"`
	PreventConcurrentLogins bool `yaml:"prevent_concurrent_logins" toml:"prevent_concurrent_logins"`
	PreventAuthUserWrites   bool `yaml:"prevent_auth_user_writes" toml:"prevent_auth_user_writes"`
}

type RateLimit struct {
	MaxFailures      int      `yaml:"max_failures" toml:"max_failures"`
	Window           Duration `yaml:"window" toml:"window"`
	EnableIPThrottle bool     `yaml:"enable_ip_throttle" toml:"enable_ip_throttle"`
}

// JWT keys come from a file (ed25519, PEM or raw) or, for hs256, a secret.
type JWT struct {
	SigningMethod  string   `yaml:"signing_method" toml:"signing_method"`
	PrivateKeyFile string   `yaml:"private_key_file" toml:"private_key_file"`
	Secret         string   `yaml:"secret" toml:"secret"`
	Issuer         string   `yaml:"issuer" toml:"issuer"`
	Audience       string   `yaml:"audience" toml:"audience"`
	TTL            Duration `yaml:"ttl" toml:"ttl"`
}

type Platform struct {
	Name    string `yaml:"name" toml:"name"`
	BaseURL string `yaml:"base_url" toml:"base_url"`
}

type Cookies struct {
	Domain string `yaml:"domain" toml:"domain"`
	Secure bool   `yaml:"secure" toml:"secure"`
}

// PasswordPolicy deadlines are dates in YYYY-MM-DD form; empty disables
// enforcement for that group.
type PasswordPolicy struct {
	MinLength                int    `yaml:"min_length" toml:"min_length"`
	MaxLength                int    `yaml:"max_length" toml:"max_length"`
	MinUpper                 int    `yaml:"min_upper" toml:"min_upper"`
	MinLower                 int    `yaml:"min_lower" toml:"min_lower"`
	MinDigits                int    `yaml:"min_digits" toml:"min_digits"`
	MinPunctuation           int    `yaml:"min_punctuation" toml:"min_punctuation"`
	EnforceComplianceOnLogin bool   `yaml:"enforce_compliance_on_login" toml:"enforce_compliance_on_login"`
	StaffDeadline            string `yaml:"staff_deadline" toml:"staff_deadline"`
	PrivilegedDeadline       string `yaml:"privileged_deadline" toml:"privileged_deadline"`
	GeneralDeadline          string `yaml:"general_deadline" toml:"general_deadline"`
}

// Audit.File, when set, also writes events as JSON lines to a rotated file
// named by the strftime pattern.
type Audit struct {
	Async      bool   `yaml:"async" toml:"async"`
	BufferSize int    `yaml:"buffer_size" toml:"buffer_size"`
	File       string `yaml:"file" toml:"file"`
}

type Flood struct {
	RPS   float64 `yaml:"rps" toml:"rps"`
	Burst int     `yaml:"burst" toml:"burst"`
}

// Metrics.OTelInterval, when positive, also pushes the counters through an
// OpenTelemetry meter provider and logs them at that interval.
type Metrics struct {
	OTelInterval Duration `yaml:"otel_interval" toml:"otel_interval"`
}

// Enrollment.URL receives the enrollment_action of a successful login.
// Empty ignores the action.
type Enrollment struct {
	URL     string   `yaml:"url" toml:"url"`
	Timeout Duration `yaml:"timeout" toml:"timeout"`
}

// Defaults returns a configuration that runs fully in memory.
func Defaults() Settings {
	return Settings{
		Listen: ":8000",
		Log:    Log{Level: "info"},
		Redis:  Redis{Memory: true},
		SMTP:   SMTP{Port: 25, From: "no-reply@example.com"},
		RateLimit: RateLimit{
			MaxFailures: 30,
			Window:      Duration(5 * time.Minute),
		},
		JWT: JWT{
			SigningMethod: "ed25519",
			Issuer:        "authn",
			TTL:           Duration(time.Hour),
		},
		Platform: Platform{Name: "Open edX", BaseURL: "http://localhost:8000"},
		PasswordPolicy: PasswordPolicy{
			MinLength: 2,
			MaxLength: 75,
		},
		Audit:      Audit{BufferSize: 1024},
		Enrollment: Enrollment{Timeout: Duration(5 * time.Second)},
	}
}

// Options name the files Load reads. Empty fields are skipped.
type Options struct {
	File    string
	EnvFile string
	// Lookup defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

// Load builds Settings from defaults, opts.File, opts.EnvFile and the
// environment.
func Load(opts Options) (Settings, error) {
	s := Defaults()

	if opts.File != "" {
		if err := decodeFile(opts.File, &s); err != nil {
			return Settings{}, err
		}
	}

	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Settings{}, fmt.Errorf("settings: load %s: %w", opts.EnvFile, err)
		}
	}

	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := applyEnv(&s, lookup); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func decodeFile(path string, s *Settings) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("settings: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, s); err != nil {
			return fmt.Errorf("settings: parse %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.DecodeFile(path, s); err != nil {
			return fmt.Errorf("settings: parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("settings: unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

type envBinding struct {
	name string
	set  func(string) error
}

func applyEnv(s *Settings, lookup func(string) (string, bool)) error {
	bindings := []envBinding{
		{"AUTHN_LISTEN", setString(&s.Listen)},
		{"AUTHN_LOG_LEVEL", setString(&s.Log.Level)},
		{"AUTHN_LOG_FILE", setString(&s.Log.File)},
		{"AUTHN_AUDIT_FILE", setString(&s.Audit.File)},
		{"AUTHN_OTEL_INTERVAL", setDuration(&s.Metrics.OTelInterval)},
		{"AUTHN_ENROLLMENT_URL", setString(&s.Enrollment.URL)},
		{"AUTHN_ENROLLMENT_TIMEOUT", setDuration(&s.Enrollment.Timeout)},
		{"AUTHN_REDIS_ADDR", func(v string) error {
			s.Redis.Addrs = splitList(v)
			s.Redis.Memory = len(s.Redis.Addrs) == 0
			return nil
		}},
		{"AUTHN_REDIS_PASSWORD", setString(&s.Redis.Password)},
		{"AUTHN_DATABASE_DSN", setString(&s.Database.DSN)},
		{"AUTHN_DATABASE_MIGRATE", setBool(&s.Database.Migrate)},
		{"AUTHN_SMTP_HOST", setString(&s.SMTP.Host)},
		{"AUTHN_SMTP_PORT", setInt(&s.SMTP.Port)},
		{"AUTHN_SMTP_USERNAME", setString(&s.SMTP.Username)},
		{"AUTHN_SMTP_PASSWORD", setString(&s.SMTP.Password)},
		{"AUTHN_SMTP_FROM", setString(&s.SMTP.From)},
		{"AUTHN_JWT_SIGNING_METHOD", setString(&s.JWT.SigningMethod)},
		{"AUTHN_JWT_PRIVATE_KEY_FILE", setString(&s.JWT.PrivateKeyFile)},
		{"AUTHN_JWT_SECRET", setString(&s.JWT.Secret)},
		{"AUTHN_PLATFORM_NAME", setString(&s.Platform.Name)},
		{"AUTHN_BASE_URL", setString(&s.Platform.BaseURL)},
		{"AUTHN_COOKIE_DOMAIN", setString(&s.Cookies.Domain)},
		{"AUTHN_COOKIE_SECURE", setBool(&s.Cookies.Secure)},
		{"SQUELCH_PII_IN_LOGS", setBool(&s.Features.SquelchPIIInLogs)},
		{"PREVENT_CONCURRENT_LOGINS", setBool(&s.Features.PreventConcurrentLogins)},
		{"PREVENT_AUTH_USER_WRITES", setBool(&s.Features.PreventAuthUserWrites)},
		{"ENFORCE_COMPLIANCE_ON_LOGIN", setBool(&s.PasswordPolicy.EnforceComplianceOnLogin)},
	}

	for _, b := range bindings {
		v, ok := lookup(b.name)
		if !ok {
			continue
		}
		if err := b.set(v); err != nil {
			return fmt.Errorf("settings: %s: %w", b.name, err)
		}
	}
	return nil
}

func setString(dst *string) func(string) error {
	return func(v string) error {
		*dst = v
		return nil
	}
}

func setBool(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func setInt(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func setDuration(dst *Duration) func(string) error {
	return func(v string) error {
		return dst.UnmarshalText([]byte(v))
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
