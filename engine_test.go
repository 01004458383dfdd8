package authn

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/learnkit/authn/account"
	"github.com/learnkit/authn/internal/factories"
	"github.com/learnkit/authn/mail"
	"github.com/learnkit/authn/session"
	"github.com/learnkit/authn/userstore"
)

type recordingSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *recordingSink) Emit(_ context.Context, ev AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Message)
	}
	return out
}

func (s *recordingSink) last() AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return AuditEvent{}
	}
	return s.events[len(s.events)-1]
}

type testEnv struct {
	engine *Engine
	users  *userstore.Memory
	outbox *mail.Outbox
	audit  *recordingSink
	mr     *miniredis.Miniredis
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func testEngineConfig() Config {
	cfg := validTestConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Platform.BaseURL = "https://lms.example.com"
	return cfg
}

func newTestEnv(t *testing.T, mutate func(*Config), opts ...func(*Builder)) *testEnv {
	t.Helper()

	cfg := testEngineConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	mr, rdb := newTestRedis(t)
	env := &testEnv{
		users:  userstore.NewMemory(),
		outbox: &mail.Outbox{},
		audit:  &recordingSink{},
		mr:     mr,
	}

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(env.users).
		WithMailer(env.outbox).
		WithAuditSink(env.audit)
	for _, opt := range opts {
		opt(b)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

func (env *testEnv) login(email, password string) (*LoginResult, error) {
	return env.engine.Login(context.Background(), LoginRequest{Email: email, Password: password})
}

func TestBuildRequiresCollaborators(t *testing.T) {
	_, rdb := newTestRedis(t)

	if _, err := New().WithConfig(testEngineConfig()).WithUserStore(userstore.NewMemory()).Build(); err == nil {
		t.Fatalf("expected error without redis")
	}
	if _, err := New().WithConfig(testEngineConfig()).WithRedis(rdb).Build(); err == nil {
		t.Fatalf("expected error without user store")
	}

	b := New().WithConfig(testEngineConfig()).WithRedis(rdb).WithUserStore(userstore.NewMemory())
	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer e.Close()
	if _, err := b.Build(); err == nil {
		t.Fatalf("expected reused builder to fail")
	}
}

func TestLoginUnknownEmail(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.login("nobody@example.com", "test")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if got := FailureMessage(err); got != "Email or password is incorrect" {
		t.Fatalf("unexpected message %q", got)
	}
	ev := env.audit.last()
	if ev.Message != "Login failed - Unknown user email: nobody@example.com" {
		t.Fatalf("unexpected audit %q", ev.Message)
	}
	if ev.Level != "warning" {
		t.Fatalf("expected warning level, got %q", ev.Level)
	}
}

func TestLoginUnknownEmailSquelched(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Features.SquelchPIIInLogs = true })

	ctx := WithClientIP(context.Background(), "203.0.113.9")
	_, err := env.engine.Login(ctx, LoginRequest{Email: "nobody@example.com", Password: "test"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	ev := env.audit.last()
	if strings.Contains(ev.Message, "nobody@example.com") {
		t.Fatalf("email leaked into audit: %q", ev.Message)
	}
	if ev.IP != "" {
		t.Fatalf("ip leaked into audit: %q", ev.IP)
	}
}

func TestLoginSuccess(t *testing.T) {
	env := newTestEnv(t, nil)
	u := factories.User(t, env.users, factories.WithUsername("test"), factories.WithEmail("test@edx.org"))

	res, err := env.login("test@edx.org", factories.DefaultPassword)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if !res.Success || res.Session == nil || res.JWT == "" {
		t.Fatalf("incomplete result: %+v", res)
	}
	if res.RedirectURL != nil {
		t.Fatalf("unexpected redirect %q", *res.RedirectURL)
	}

	stored, err := env.users.UserByID(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if stored.LastLogin == nil {
		t.Fatalf("last_login not updated")
	}
	if !strings.HasPrefix(stored.PasswordHash, "$argon2id$") {
		t.Fatalf("legacy hash not upgraded: %q", stored.PasswordHash)
	}
	if got := env.audit.last().Message; got != "Login success - test (test@edx.org)" {
		t.Fatalf("unexpected audit %q", got)
	}
	if env.engine.MetricsSnapshot().Counters[MetricLoginSuccess] != 1 {
		t.Fatalf("login success not counted")
	}

	// Second login verifies against the upgraded hash.
	if _, err := env.login("TEST@edx.org", factories.DefaultPassword); err != nil {
		t.Fatalf("login after upgrade failed: %v", err)
	}
}

func TestLoginSuccessSquelched(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Features.SquelchPIIInLogs = true })
	u := factories.User(t, env.users)

	if _, err := env.login(u.Email, factories.DefaultPassword); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	want := "Login success - user.id: " + itoa(u.ID)
	if got := env.audit.last().Message; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestLoginPreventAuthUserWrites(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Features.PreventAuthUserWrites = true })
	u := factories.User(t, env.users)

	if _, err := env.login(u.Email, factories.DefaultPassword); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	stored, _ := env.users.UserByID(context.Background(), u.ID)
	if stored.LastLogin != nil {
		t.Fatalf("last_login written despite write prevention")
	}
	if stored.PasswordHash != u.PasswordHash {
		t.Fatalf("hash upgraded despite write prevention")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t, nil)
	u := factories.User(t, env.users)

	_, err := env.login(u.Email, "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if got := env.audit.last().Message; got != "Login failed - password for "+u.Email+" is invalid" {
		t.Fatalf("unexpected audit %q", got)
	}
	n, err := env.engine.rateLimiter.Failures(context.Background(), u.Email)
	if err != nil || n != 1 {
		t.Fatalf("expected one recorded failure, got %d %v", n, err)
	}
}

func TestLoginWrongPasswordSquelched(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Features.SquelchPIIInLogs = true })
	u := factories.User(t, env.users)

	_, _ = env.login(u.Email, "wrong")
	want := "Login failed - password for user.id: " + itoa(u.ID) + " is invalid"
	if got := env.audit.last().Message; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestLoginPasswordNormalization(t *testing.T) {
	const nfkc = "p\u00e9ss"  // precomposed
	const nfkd = "pe\u0301ss" // decomposed

	tests := []struct {
		name    string
		stored  string
		entered string
		wantOK  bool
	}{
		{name: "nfkd stored nfkc entered", stored: nfkd, entered: nfkc, wantOK: false},
		{name: "nfkc stored nfkd entered", stored: nfkc, entered: nfkd, wantOK: true},
		{name: "nfkd stored nfkd entered", stored: nfkd, entered: nfkd, wantOK: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			u := factories.User(t, env.users, factories.WithPassword(tc.stored))

			_, err := env.login(u.Email, tc.entered)
			if tc.wantOK && err != nil {
				t.Fatalf("expected success, got %v", err)
			}
			if !tc.wantOK && !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("expected ErrInvalidCredentials, got %v", err)
			}
		})
	}
}

func TestLoginRateLimitBlocksCorrectPassword(t *testing.T) {
	env := newTestEnv(t, nil)
	u := factories.User(t, env.users)

	for i := 0; i < 30; i++ {
		if _, err := env.login(u.Email, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}

	_, err := env.login(u.Email, factories.DefaultPassword)
	if !errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("expected ErrLoginRateLimited, got %v", err)
	}
	if got := FailureMessage(err); got != "Too many failed login attempts" {
		t.Fatalf("unexpected message %q", got)
	}
	if env.engine.MetricsSnapshot().Counters[MetricLoginRateLimited] != 1 {
		t.Fatalf("rate limit not counted")
	}
}

func TestLoginUnderLimitSucceedsAndResets(t *testing.T) {
	env := newTestEnv(t, nil)
	u := factories.User(t, env.users)

	for i := 0; i < 20; i++ {
		_, _ = env.login(u.Email, "wrong")
	}
	if _, err := env.login(u.Email, factories.DefaultPassword); err != nil {
		t.Fatalf("expected success after 20 failures, got %v", err)
	}
	n, err := env.engine.rateLimiter.Failures(context.Background(), u.Email)
	if err != nil || n != 0 {
		t.Fatalf("expected counter reset, got %d %v", n, err)
	}
}

func TestLoginInactiveSendsActivation(t *testing.T) {
	env := newTestEnv(t, nil)
	u := factories.User(t, env.users, factories.WithUsername("sleepy"), factories.Inactive())

	_, err := env.login(u.Email, factories.DefaultPassword)
	if !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
	if got := FailureMessage(err); got != "In order to sign in, you need to activate your account." {
		t.Fatalf("unexpected message %q", got)
	}

	msgs := env.outbox.Messages()
	if len(msgs) != 1 || msgs[0].To != u.Email {
		t.Fatalf("expected one activation mail, got %+v", msgs)
	}
	reg, err := env.users.Registration(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("registration not created: %v", err)
	}
	if !strings.Contains(msgs[0].Body, "/activate/"+reg.ActivationKey) {
		t.Fatalf("activation link missing from body")
	}
	if got := env.audit.last().Message; got != "Login failed - Account not active for user sleepy, resending activation" {
		t.Fatalf("unexpected audit %q", got)
	}
	n, _ := env.engine.rateLimiter.Failures(context.Background(), u.Email)
	if n != 0 {
		t.Fatalf("inactive login must not count as a failure, got %d", n)
	}
}

func TestLoginInactiveWrongPasswordSendsNothing(t *testing.T) {
	env := newTestEnv(t, nil)
	u := factories.User(t, env.users, factories.Inactive())

	if _, err := env.login(u.Email, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if len(env.outbox.Messages()) != 0 {
		t.Fatalf("activation mail sent for wrong password")
	}
}

func TestLoginSingleSession(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Features.PreventConcurrentLogins = true })
	u := factories.User(t, env.users)
	ctx := context.Background()

	first, err := env.login(u.Email, factories.DefaultPassword)
	if err != nil {
		t.Fatalf("first login failed: %v", err)
	}
	second, err := env.login(u.Email, factories.DefaultPassword)
	if err != nil {
		t.Fatalf("second login failed: %v", err)
	}

	if _, err := env.engine.ResolveSession(ctx, first.Session.ID); err == nil {
		t.Fatalf("first session still resolves")
	}
	id, err := env.engine.ResolveSession(ctx, second.Session.ID)
	if err != nil {
		t.Fatalf("second session does not resolve: %v", err)
	}
	if id.User.ID != u.ID {
		t.Fatalf("resolved wrong user %d", id.User.ID)
	}

	prof, err := env.users.Profile(ctx, u.ID)
	if err != nil {
		t.Fatalf("profile not created: %v", err)
	}
	if prof.SessionID() != second.Session.ID {
		t.Fatalf("profile records %q, want %q", prof.SessionID(), second.Session.ID)
	}
}

func TestResolveSessionSupersededByProfile(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Features.PreventConcurrentLogins = true })
	u := factories.User(t, env.users)
	ctx := context.Background()

	res, err := env.login(u.Email, factories.DefaultPassword)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	prof, _ := env.users.Profile(ctx, u.ID)
	prof.SetSessionID("someone-else")
	if err := env.users.SaveProfile(ctx, prof); err != nil {
		t.Fatalf("save profile: %v", err)
	}

	if _, err := env.engine.ResolveSession(ctx, res.Session.ID); !errors.Is(err, ErrSessionSuperseded) {
		t.Fatalf("expected ErrSessionSuperseded, got %v", err)
	}
	if _, err := env.engine.ResolveSession(ctx, res.Session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("superseded session must be deleted, got %v", err)
	}
}

func TestConcurrentLoginsAllowedByDefault(t *testing.T) {
	env := newTestEnv(t, nil)
	u := factories.User(t, env.users)
	ctx := context.Background()

	first, _ := env.login(u.Email, factories.DefaultPassword)
	second, _ := env.login(u.Email, factories.DefaultPassword)
	for _, r := range []*LoginResult{first, second} {
		if _, err := env.engine.ResolveSession(ctx, r.Session.ID); err != nil {
			t.Fatalf("session %s does not resolve: %v", r.Session.ID, err)
		}
	}
}

func TestLoginRotatesPresentedSession(t *testing.T) {
	env := newTestEnv(t, nil)
	u := factories.User(t, env.users)
	ctx := context.Background()

	first, err := env.login(u.Email, factories.DefaultPassword)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	second, err := env.engine.Login(ctx, LoginRequest{
		Email:     u.Email,
		Password:  factories.DefaultPassword,
		SessionID: first.Session.ID,
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if second.Session.ID == first.Session.ID {
		t.Fatalf("session id not rotated")
	}
	if _, err := env.engine.ResolveSession(ctx, first.Session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected presented session deleted, got %v", err)
	}
}

func complianceConfig(deadline time.Time) func(*Config) {
	return func(c *Config) {
		c.PasswordPolicy.MinLength = 8
		c.PasswordPolicy.EnforceComplianceOnLogin = true
		c.PasswordPolicy.GeneralDeadline = &deadline
	}
}

func TestLoginComplianceException(t *testing.T) {
	env := newTestEnv(t, complianceConfig(time.Now().Add(-time.Hour)))
	u := factories.User(t, env.users)

	_, err := env.login(u.Email, factories.DefaultPassword)
	if !errors.Is(err, ErrPasswordNonCompliant) {
		t.Fatalf("expected ErrPasswordNonCompliant, got %v", err)
	}
	var ce *ComplianceError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ComplianceError in chain")
	}
	if FailureMessage(err) != ce.Message {
		t.Fatalf("failure message must be the compliance message")
	}

	msgs := env.outbox.Messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].Subject, "Password reset") {
		t.Fatalf("expected one password reset mail, got %+v", msgs)
	}
	stored, _ := env.users.UserByID(context.Background(), u.ID)
	if stored.LastLogin != nil {
		t.Fatalf("failed login wrote last_login")
	}
}

func TestLoginComplianceWarningQueuesMessage(t *testing.T) {
	env := newTestEnv(t, complianceConfig(time.Now().Add(72*time.Hour)))
	u := factories.User(t, env.users)
	ctx := context.Background()

	res, err := env.login(u.Email, factories.DefaultPassword)
	if err != nil {
		t.Fatalf("expected success with warning, got %v", err)
	}

	msgs, err := env.engine.PopMessages(ctx, res.Session.ID)
	if err != nil {
		t.Fatalf("PopMessages failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Level != session.LevelWarning {
		t.Fatalf("expected one warning message, got %+v", msgs)
	}
	if !strings.Contains(msgs[0].Text, "password requirements") {
		t.Fatalf("unexpected warning text %q", msgs[0].Text)
	}
	if len(env.outbox.Messages()) != 0 {
		t.Fatalf("warning must not send mail")
	}

	again, _ := env.engine.PopMessages(ctx, res.Session.ID)
	if len(again) != 0 {
		t.Fatalf("messages not cleared")
	}
}

func TestLoginEnrollment(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		err    error
		want   string
	}{
		{name: "redirect", status: 200, body: "/courses/demo/about", want: "/courses/demo/about"},
		{name: "bad request", status: 400, body: "nope"},
		{name: "empty body", status: 200, body: ""},
		{name: "changer error", err: errors.New("boom")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var gotAction, gotCourse string
			changer := EnrollmentChangerFunc(func(_ context.Context, _ *account.User, action, courseID string) (int, string, error) {
				gotAction, gotCourse = action, courseID
				return tc.status, tc.body, tc.err
			})
			env := newTestEnv(t, nil, func(b *Builder) { b.WithEnrollment(changer) })
			u := factories.User(t, env.users)

			res, err := env.engine.Login(context.Background(), LoginRequest{
				Email:            u.Email,
				Password:         factories.DefaultPassword,
				EnrollmentAction: "enroll",
				CourseID:         "course-v1:edX+Demo+2024",
			})
			if err != nil {
				t.Fatalf("login must succeed, got %v", err)
			}
			if gotAction != "enroll" || gotCourse != "course-v1:edX+Demo+2024" {
				t.Fatalf("changer got %q %q", gotAction, gotCourse)
			}
			switch {
			case tc.want == "" && res.RedirectURL != nil:
				t.Fatalf("expected no redirect, got %q", *res.RedirectURL)
			case tc.want != "" && (res.RedirectURL == nil || *res.RedirectURL != tc.want):
				t.Fatalf("expected redirect %q, got %v", tc.want, res.RedirectURL)
			}
		})
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t, nil)
	u := factories.User(t, env.users, factories.WithUsername("leaver"))
	ctx := context.Background()

	res, err := env.login(u.Email, factories.DefaultPassword)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	sess, err := env.engine.Logout(ctx, res.Session.ID)
	if err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if sess == nil || sess.UserID != u.ID {
		t.Fatalf("unexpected logged out session %+v", sess)
	}
	if got := env.audit.last().Message; got != "Logout - leaver" {
		t.Fatalf("unexpected audit %q", got)
	}
	if _, err := env.engine.ResolveSession(ctx, res.Session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("session survived logout: %v", err)
	}

	anon, err := env.engine.Logout(ctx, "")
	if err != nil || anon != nil {
		t.Fatalf("anonymous logout: %+v %v", anon, err)
	}
}

func TestLogoutSquelched(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Features.SquelchPIIInLogs = true })
	u := factories.User(t, env.users)

	res, _ := env.login(u.Email, factories.DefaultPassword)
	if _, err := env.engine.Logout(context.Background(), res.Session.ID); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if got := env.audit.last().Message; got != "Logout - user.id: "+itoa(u.ID) {
		t.Fatalf("unexpected audit %q", got)
	}
}

func TestRefreshJWT(t *testing.T) {
	env := newTestEnv(t, nil)
	u := factories.User(t, env.users)
	ctx := context.Background()

	if _, _, err := env.engine.RefreshJWT(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	res, _ := env.login(u.Email, factories.DefaultPassword)
	token, exp, err := env.engine.RefreshJWT(ctx, res.Session.ID)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if !exp.After(time.Now()) {
		t.Fatalf("expiry in the past: %v", exp)
	}
	claims, err := env.engine.jwtManager.Parse(token)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if claims.UserID != u.ID || claims.Username != u.Username {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestActivateAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	u := factories.User(t, env.users, factories.Inactive())
	reg := factories.Registration(t, env.users, u)
	ctx := context.Background()

	if _, err := env.engine.ActivateAccount(ctx, "nope"); !errors.Is(err, ErrActivationInvalid) {
		t.Fatalf("expected ErrActivationInvalid, got %v", err)
	}

	got, err := env.engine.ActivateAccount(ctx, reg.ActivationKey)
	if err != nil {
		t.Fatalf("activation failed: %v", err)
	}
	if !got.IsActive {
		t.Fatalf("user not active after activation")
	}
	if _, err := env.login(u.Email, factories.DefaultPassword); err != nil {
		t.Fatalf("login after activation failed: %v", err)
	}
}

func resetTokenFromMail(t *testing.T, msg mail.Message) string {
	t.Helper()

	const marker = "token="
	i := strings.Index(msg.Body, marker)
	if i < 0 {
		t.Fatalf("no token in body: %q", msg.Body)
	}
	tok := msg.Body[i+len(marker):]
	if j := strings.IndexAny(tok, " \r\n"); j >= 0 {
		tok = tok[:j]
	}
	return tok
}

func TestConfirmPasswordReset(t *testing.T) {
	env := newTestEnv(t, complianceConfig(time.Now().Add(-time.Hour)))
	u := factories.User(t, env.users)
	ctx := context.Background()

	if _, err := env.login(u.Email, factories.DefaultPassword); !errors.Is(err, ErrPasswordNonCompliant) {
		t.Fatalf("expected compliance failure, got %v", err)
	}
	token := resetTokenFromMail(t, env.outbox.Messages()[0])

	if err := env.engine.ConfirmPasswordReset(ctx, token, "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	if err := env.engine.ConfirmPasswordReset(ctx, token, "a-much-longer-password"); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if err := env.engine.ConfirmPasswordReset(ctx, token, "another-long-password"); !errors.Is(err, ErrPasswordResetInvalid) {
		t.Fatalf("expected spent token to be invalid, got %v", err)
	}
	if _, err := env.login(u.Email, "a-much-longer-password"); err != nil {
		t.Fatalf("login with new password failed: %v", err)
	}
}

func TestConfirmPasswordResetClosesSessions(t *testing.T) {
	env := newTestEnv(t, nil)
	u := factories.User(t, env.users)
	ctx := context.Background()

	res, _ := env.login(u.Email, factories.DefaultPassword)
	env.engine.sendPasswordReset(ctx, u)
	token := resetTokenFromMail(t, env.outbox.Messages()[0])

	if err := env.engine.ConfirmPasswordReset(ctx, token, "new-pass"); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if _, err := env.engine.ResolveSession(ctx, res.Session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("session survived reset: %v", err)
	}
}

func TestConfirmPasswordResetMalformedToken(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := env.engine.ConfirmPasswordReset(context.Background(), "!!", "whatever"); !errors.Is(err, ErrPasswordResetInvalid) {
		t.Fatalf("expected ErrPasswordResetInvalid, got %v", err)
	}
}

func TestLoginRedisDown(t *testing.T) {
	env := newTestEnv(t, nil)
	u := factories.User(t, env.users)
	env.mr.Close()

	_, err := env.login(u.Email, factories.DefaultPassword)
	if err == nil {
		t.Fatalf("expected error with redis down")
	}
	if got := FailureMessage(err); got != msgGenericFailure {
		t.Fatalf("expected generic message, got %q", got)
	}
}

func TestAsyncAuditDrainsOnClose(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Audit.Async = true
		c.Audit.BufferSize = 16
	})
	_, _ = env.login("ghost@example.com", "x")
	env.engine.Close()

	if msgs := env.audit.messages(); len(msgs) != 1 {
		t.Fatalf("expected one drained event, got %v", msgs)
	}
}
