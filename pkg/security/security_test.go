package security

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSafeYAMLParser(t *testing.T) {
	type cfg struct {
		Chapters int               `yaml:"chapters"`
		Roles    map[string]string `yaml:"roles"`
	}

	tests := []struct {
		name    string
		data    string
		limits  func(*YAMLLimits)
		wantErr string
	}{
		{name: "valid", data: "chapters: 6\nroles:\n  writer: openai\n"},
		{name: "empty document", data: ""},
		{name: "unknown field", data: "chapterz: 6\n", wantErr: "decode"},
		{name: "too deep", data: "roles:\n  writer: openai\n", limits: func(l *YAMLLimits) { l.MaxDepth = 1 }, wantErr: "depth"},
		{name: "too large", data: "chapters: 6\n", limits: func(l *YAMLLimits) { l.MaxFileSize = 4 }, wantErr: "exceeds maximum"},
		{name: "value too large", data: "roles:\n  writer: " + strings.Repeat("x", 64) + "\n", limits: func(l *YAMLLimits) { l.MaxValueSize = 16 }, wantErr: "value size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limits := DefaultYAMLLimits()
			if tt.limits != nil {
				tt.limits(&limits)
			}
			var c cfg
			err := NewSafeYAMLParser(limits).UnmarshalYAML([]byte(tt.data), &c)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSafeYAMLParser_AliasBomb(t *testing.T) {
	data := `
a: &a ["x","x","x","x","x","x","x","x","x","x"]
b: &b [*a,*a,*a,*a,*a,*a,*a,*a,*a,*a]
c: &c [*b,*b,*b,*b,*b,*b,*b,*b,*b,*b]
d: &d [*c,*c,*c,*c,*c,*c,*c,*c,*c,*c]
e: [*d,*d,*d,*d,*d,*d,*d,*d,*d,*d]
`
	limits := DefaultYAMLLimits()
	limits.KnownFields = false
	var v any
	err := NewSafeYAMLParser(limits).UnmarshalYAML([]byte(data), &v)
	if err == nil || !strings.Contains(err.Error(), "node count") {
		t.Fatalf("expected node count error, got %v", err)
	}
}

func TestCooldown_SpacesCalls(t *testing.T) {
	c := NewCooldown()
	c.Set("slow", 50*time.Millisecond)

	ctx := context.Background()
	waited, err := c.Wait(ctx, "s1", "slow")
	if err != nil {
		t.Fatal(err)
	}
	if waited < 30*time.Millisecond {
		t.Errorf("first call waited %v, expected roughly the interval", waited)
	}
	waited, err = c.Wait(ctx, "s1", "slow")
	if err != nil {
		t.Fatal(err)
	}
	if waited < 30*time.Millisecond {
		t.Errorf("second call waited %v, expected roughly the interval", waited)
	}

	waited, err = c.Wait(ctx, "s1", "fast")
	if err != nil || waited != 0 {
		t.Errorf("unlimited provider waited %v, err %v", waited, err)
	}
}

func TestCooldown_CallersAreIndependent(t *testing.T) {
	c := NewCooldown()
	c.Set("slow", 200*time.Millisecond)

	ctx := context.Background()
	if _, err := c.Wait(ctx, "s1", "slow"); err != nil {
		t.Fatal(err)
	}

	// s2 starts its own interval rather than queueing behind s1.
	waited, err := c.Wait(ctx, "s2", "slow")
	if err != nil {
		t.Fatal(err)
	}
	if waited > 350*time.Millisecond {
		t.Errorf("s2 waited %v, it should not queue behind s1", waited)
	}

	if got := c.Callers(); got != 2 {
		t.Errorf("Callers() = %d, want 2", got)
	}
	c.Forget("s1")
	c.Forget("s2")
	if got := c.Callers(); got != 0 {
		t.Errorf("Callers() after Forget = %d, want 0", got)
	}
}

func TestCooldown_ContextCancel(t *testing.T) {
	c := NewCooldown()
	c.Set("slow", time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Wait(ctx, "s1", "slow"); err == nil {
		t.Error("expected error after cancel")
	}
}

func TestCooldown_Unset(t *testing.T) {
	c := NewCooldown()
	c.Set("p", time.Second)
	if !c.Limited("p") {
		t.Fatal("expected p limited")
	}
	c.Set("p", 0)
	if c.Limited("p") {
		t.Error("expected limit removed")
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("burst should allow two requests")
	}
	if rl.Allow("a") {
		t.Error("third request should be limited")
	}
	if !rl.Allow("b") {
		t.Error("other clients are independent")
	}
}

func TestAPIKeyAuthenticator(t *testing.T) {
	open := NewAPIKeyAuthenticator("", " ")
	if open.Enabled() || open.Authenticate("") != nil {
		t.Error("authenticator without keys should accept everything")
	}

	a := NewAPIKeyAuthenticator("secret-key")
	if err := a.Authenticate("Bearer secret-key"); err != nil {
		t.Errorf("bearer: %v", err)
	}
	if err := a.Authenticate("secret-key"); err != nil {
		t.Errorf("bare: %v", err)
	}
	if err := a.Authenticate(""); !errors.Is(err, ErrMissingToken) {
		t.Errorf("empty: %v", err)
	}
	if err := a.Authenticate("Bearer nope"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong: %v", err)
	}
}

func TestValidateSessionID(t *testing.T) {
	for _, ok := range []string{"b1c2", "6f1e8a3c-1b2d-4e5f-8a9b-0c1d2e3f4a5b", "run_1"} {
		if err := ValidateSessionID(ok); err != nil {
			t.Errorf("ValidateSessionID(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "../etc", "a/b", "-lead", strings.Repeat("a", 200)} {
		if err := ValidateSessionID(bad); err == nil {
			t.Errorf("ValidateSessionID(%q) accepted", bad)
		}
	}
}

func TestCleanHumanInput(t *testing.T) {
	got, err := CleanHumanInput("  a 6-chapter\x00 fantasy novel\n")
	if err != nil {
		t.Fatal(err)
	}
	if got != "a 6-chapter fantasy novel" {
		t.Errorf("got %q", got)
	}
	if _, err := CleanHumanInput(" \t "); err == nil {
		t.Error("expected error for blank input")
	}
	if _, err := CleanHumanInput(strings.Repeat("x", MaxHumanInputBytes+1)); err == nil {
		t.Error("expected error for oversized input")
	}
}

func TestSanitizeError(t *testing.T) {
	err := errors.New("openai error: bad key sk-abcdef123456 at /home/user/app/main.go:42")

	se := SanitizeError(err, ErrCodeInternal, "generation failed", false)
	if se.Detail != "" || se.Message != "generation failed" {
		t.Errorf("non-debug = %+v", se)
	}

	se = SanitizeError(err, ErrCodeInternal, "generation failed", true)
	if strings.Contains(se.Detail, "abcdef123456") || strings.Contains(se.Detail, "/home/user") {
		t.Errorf("detail leaks: %q", se.Detail)
	}
	if SanitizeError(nil, ErrCodeInternal, "x", true) != nil {
		t.Error("nil error should give nil")
	}
}

func TestMaskSecret(t *testing.T) {
	if got := MaskSecret("sk-1234567890"); got != "sk-1****7890" {
		t.Errorf("MaskSecret = %q", got)
	}
	if got := MaskSecret("short"); got != "****" {
		t.Errorf("MaskSecret(short) = %q", got)
	}
}
