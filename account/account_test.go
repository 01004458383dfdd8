package account

import "testing"

func TestProfileSessionID(t *testing.T) {
	var nilProfile *Profile
	if got := nilProfile.SessionID(); got != "" {
		t.Fatalf("expected empty session id for nil profile, got %q", got)
	}

	p := &Profile{UserID: 1}
	if got := p.SessionID(); got != "" {
		t.Fatalf("expected empty session id, got %q", got)
	}

	p.SetSessionID("abc")
	if got := p.SessionID(); got != "abc" {
		t.Fatalf("expected abc, got %q", got)
	}
	if p.Meta[ProfileMetaSessionID] != "abc" {
		t.Fatalf("expected meta entry to be set, got %#v", p.Meta)
	}
}
