package authn

import (
	"errors"
	"time"

	"github.com/learnkit/authn/internal/audit"
	"github.com/learnkit/authn/internal/rate"
	"github.com/learnkit/authn/internal/stores"
	"github.com/learnkit/authn/jwt"
	"github.com/learnkit/authn/mail"
	"github.com/learnkit/authn/password"
	"github.com/learnkit/authn/session"
	"github.com/learnkit/authn/userstore"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an Engine. A Builder is single use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users      userstore.Store
	mailer     mail.Mailer
	enrollment EnrollmentChanger
	auditSink  AuditSink
	logger     *zap.Logger
	now        func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserStore(users userstore.Store) *Builder {
	b.users = users
	return b
}

// WithMailer sets the mailer for activation and password reset emails.
// Without one, emails are logged and dropped.
func (b *Builder) WithMailer(m mail.Mailer) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithEnrollment(ec EnrollmentChanger) *Builder {
	b.enrollment = ec
	return b
}

// WithAuditSink replaces the default sink, which writes to the "audit"
// child of the engine logger.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for last_login stamps and compliance deadlines.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	policy := password.Policy{
		MinLength:      cfg.PasswordPolicy.MinLength,
		MaxLength:      cfg.PasswordPolicy.MaxLength,
		MinUpper:       cfg.PasswordPolicy.MinUpper,
		MinLower:       cfg.PasswordPolicy.MinLower,
		MinDigits:      cfg.PasswordPolicy.MinDigits,
		MinPunctuation: cfg.PasswordPolicy.MinPunctuation,
	}
	compliance := password.NewComplianceChecker(policy, password.ComplianceConfig{
		EnforceOnLogin:     cfg.PasswordPolicy.EnforceComplianceOnLogin,
		StaffDeadline:      cfg.PasswordPolicy.StaffDeadline,
		PrivilegedDeadline: cfg.PasswordPolicy.PrivilegedDeadline,
		GeneralDeadline:    cfg.PasswordPolicy.GeneralDeadline,
	}, now)

	jwtManager, err := jwt.NewManager(jwt.Config{
		TTL:           cfg.JWT.TTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		KeyID:         cfg.JWT.KeyID,
	})
	if err != nil {
		return nil, err
	}

	sink := b.auditSink
	if sink == nil {
		sink = audit.NewZapSink(logger.Named("audit"))
	}

	mailer := b.mailer
	if mailer == nil {
		mailer = mail.LogMailer{Logger: logger.Named("mail"), SquelchRecipient: cfg.Features.SquelchPIIInLogs}
	}

	b.built = true

	e := &Engine{
		config:       cfg,
		sessionStore: session.NewStore(b.redis, cfg.Session.RedisPrefix, cfg.Session.TTL),
		rateLimiter: rate.New(b.redis, rate.Config{
			MaxFailures:      cfg.RateLimit.MaxFailures,
			Window:           cfg.RateLimit.Window,
			EnableIPThrottle: cfg.RateLimit.EnableIPThrottle,
		}),
		resetStore: stores.NewPasswordResetStore(b.redis, cfg.PasswordReset.RedisPrefix),
		audit: audit.NewDispatcher(audit.Config{
			Async:      cfg.Audit.Async,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, sink),
		metrics:    NewMetrics(cfg.Metrics),
		hasher:     hasher,
		policy:     policy,
		compliance: compliance,
		jwtManager: jwtManager,
		users:      b.users,
		mailer:     mailer,
		enrollment: b.enrollment,
		logger:     logger,
		now:        now,
	}
	e.initFlowDeps()

	return e, nil
}
