package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"time"
)

func newEdManager(t *testing.T) *Manager {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	m, err := NewManager(Config{
		TTL:           time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "https://lms.example.com/oauth2",
		Audience:      "lms-key",
		KeyID:         "k1",
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestIssueAndParse(t *testing.T) {
	m := newEdManager(t)
	token, exp, err := m.Issue(Subject{UserID: 42, Username: "test", Email: "test@edx.org", Administrator: true})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(exp) <= 59*time.Minute {
		t.Fatalf("unexpected expiry %v", exp)
	}

	claims, err := m.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UserID != 42 || claims.Username != "test" || !claims.Administrator || claims.Subject != "42" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestParseRejectsOtherKey(t *testing.T) {
	a := newEdManager(t)
	b := newEdManager(t)
	token, _, err := a.Issue(Subject{UserID: 1, Username: "u"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := b.Parse(token); err == nil {
		t.Fatal("expected signature failure")
	}
}

func TestParseRejectsExpired(t *testing.T) {
	m := newEdManager(t)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := m.Issue(Subject{UserID: 1, Username: "u"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	m.now = time.Now
	if _, err := m.Parse(token); err == nil {
		t.Fatal("expected expired token to fail")
	}
}

func TestHS256(t *testing.T) {
	m, err := NewManager(Config{TTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("0123456789abcdef0123456789abcdef")})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	token, _, err := m.Issue(Subject{UserID: 7, Username: "hs"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := m.Parse(token); err != nil {
		t.Fatalf("Parse: %v", err)
	}
}

func TestNewManagerValidation(t *testing.T) {
	cases := []Config{
		{TTL: 0, SigningMethod: MethodHS256, PrivateKey: []byte("k")},
		{TTL: time.Minute, SigningMethod: MethodHS256},
		{TTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: []byte("short")},
		{TTL: time.Minute, SigningMethod: "rs256", PrivateKey: []byte("k")},
		{TTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("k"), Leeway: time.Hour},
	}
	for i, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestCookieSplitJoin(t *testing.T) {
	m := newEdManager(t)
	token, _, err := m.Issue(Subject{UserID: 3, Username: "split"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	hp, sig, err := SplitCookieValues(token)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if strings.Count(hp, ".") != 1 || strings.Contains(sig, ".") {
		t.Fatalf("bad split %q %q", hp, sig)
	}
	joined, err := JoinCookieValues(hp, sig)
	if err != nil || joined != token {
		t.Fatalf("join mismatch: %v", err)
	}

	for _, bad := range []string{"", "a.b", "a.b.", ".b.c", "a.b.c.d"} {
		if _, _, err := SplitCookieValues(bad); !errors.Is(err, ErrMalformedCookie) {
			t.Fatalf("SplitCookieValues(%q) err=%v", bad, err)
		}
	}
	if _, err := JoinCookieValues("a", "b"); !errors.Is(err, ErrMalformedCookie) {
		t.Fatalf("expected malformed join")
	}
}

func FuzzParse(f *testing.F) {
	f.Add("a.b.c")
	f.Add("")
	f.Add("eyJhbGciOiJub25lIn0.e30.")
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	m, err := NewManager(Config{TTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub})
	if err != nil {
		f.Fatal(err)
	}
	f.Fuzz(func(t *testing.T, in string) {
		_, _ = m.Parse(in)
		_, _, _ = SplitCookieValues(in)
	})
}
