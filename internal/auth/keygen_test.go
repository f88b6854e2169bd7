package auth

import (
	"strings"
	"testing"
)

func TestGenerateToken(t *testing.T) {
	testCases := []struct {
		name    string
		env     string
		wantEnv string
	}{
		{"live", EnvLive, "live"},
		{"test", EnvTest, "test"},
		{"unknown defaults to live", "staging", "live"},
		{"empty defaults to live", "", "live"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gen, err := GenerateToken(tc.env)
			if err != nil {
				t.Fatalf("GenerateToken failed: %v", err)
			}

			parsed, err := ParseToken(gen.Token)
			if err != nil {
				t.Fatalf("generated token %q does not parse: %v", gen.Token, err)
			}
			if parsed.Env != tc.wantEnv {
				t.Errorf("env = %q, want %q", parsed.Env, tc.wantEnv)
			}
			if parsed.Prefix != gen.Prefix {
				t.Errorf("prefix mismatch: parsed %q, generated %q", parsed.Prefix, gen.Prefix)
			}
			if len(parsed.Secret) != TokenSecretLen {
				t.Errorf("secret length = %d, want %d", len(parsed.Secret), TokenSecretLen)
			}
		})
	}
}

func TestGenerateToken_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		gen, err := GenerateToken(EnvLive)
		if err != nil {
			t.Fatalf("GenerateToken failed: %v", err)
		}
		if seen[gen.Token] {
			t.Fatalf("duplicate token generated: %s", gen.Token)
		}
		seen[gen.Token] = true
	}
}

func TestParseToken_Invalid(t *testing.T) {
	invalid := []string{
		"",
		"ck_live_short",
		"pk_live_7a9x3k_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b",
		"ck_prod_aabbcc_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b",
		"ck_live_AABBCC_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b",
		"random-operator-key",
	}

	for _, token := range invalid {
		if _, err := ParseToken(token); err == nil {
			t.Errorf("ParseToken(%q) should fail", token)
		}
	}
}

func TestKeyPrefix(t *testing.T) {
	gen, err := GenerateToken(EnvLive)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	if got := KeyPrefix(gen.Token); got != gen.Prefix {
		t.Errorf("KeyPrefix(token) = %q, want %q", got, gen.Prefix)
	}
	if got := KeyPrefix("operator-made-key"); got != "operat" {
		t.Errorf("KeyPrefix(opaque) = %q, want %q", got, "operat")
	}
	if got := KeyPrefix("abc"); got != "abc" {
		t.Errorf("KeyPrefix(short) = %q, want %q", got, "abc")
	}
}

func TestQuickHash(t *testing.T) {
	h1 := QuickHash("some-key")
	h2 := QuickHash("some-key")
	h3 := QuickHash("other-key")

	if h1 != h2 {
		t.Error("QuickHash is not deterministic")
	}
	if h1 == h3 {
		t.Error("QuickHash collides on different inputs")
	}
	if len(h1) != 32 {
		t.Errorf("QuickHash length = %d, want 32", len(h1))
	}
	if strings.ToLower(h1) != h1 {
		t.Error("QuickHash should be lowercase hex")
	}
}
