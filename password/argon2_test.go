package password

import (
	"strings"
	"testing"
)

func secureConfig() Config {
	return Config{
		Memory:      65536,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func TestHashAndVerify(t *testing.T) {
	hasher, err := NewHasher(secureConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	hash, err := hasher.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	if !strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=2$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := hasher.Verify("P@ssw0rd-Ascii", hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatal("expected password verification to succeed")
	}
}

func TestVerifyWrongPassword(t *testing.T) {
	hasher, err := NewHasher(secureConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	hash, err := hasher.Hash("correct-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := hasher.Verify("wrong-password", hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatal("expected wrong password verification to fail")
	}
}

func TestHashShortInputAccepted(t *testing.T) {
	// Backup codes are 8 hex chars and are hashed through the same Hasher.
	hasher, err := NewHasher(secureConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	hash, err := hasher.Hash("A1B2C3D4")
	if err != nil {
		t.Fatalf("Hash error for backup-code-length input: %v", err)
	}

	ok, err := hasher.Verify("A1B2C3D4", hash)
	if err != nil || !ok {
		t.Fatalf("Verify failed for backup-code-length input: ok=%v err=%v", ok, err)
	}
}

func TestNeedsRehash(t *testing.T) {
	oldHasher, err := NewHasher(Config{
		Memory:      32768,
		Time:        2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewHasher(old) error: %v", err)
	}

	hash, err := oldHasher.Hash("test-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	newHasher, err := NewHasher(secureConfig())
	if err != nil {
		t.Fatalf("NewHasher(new) error: %v", err)
	}

	needsRehash, err := newHasher.NeedsRehash(hash)
	if err != nil {
		t.Fatalf("NeedsRehash error: %v", err)
	}
	if !needsRehash {
		t.Fatal("expected NeedsRehash to return true for weaker hash parameters")
	}
}

func TestNeedsRehashSameConfig(t *testing.T) {
	hasher, err := NewHasher(secureConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	hash, err := hasher.Hash("same-config-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	needsRehash, err := hasher.NeedsRehash(hash)
	if err != nil {
		t.Fatalf("NeedsRehash error: %v", err)
	}
	if needsRehash {
		t.Fatal("expected NeedsRehash to return false for current parameters")
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	hasher, err := NewHasher(secureConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	if _, err := hasher.Verify("password", "not-a-phc-hash"); err == nil {
		t.Fatal("expected malformed hash verification to fail")
	}
}

func TestVerifyWrongVersion(t *testing.T) {
	hasher, err := NewHasher(secureConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	hash, err := hasher.Hash("version-test")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	wrongVersion := strings.Replace(hash, "$v=19$", "$v=18$", 1)
	if _, err := hasher.Verify("version-test", wrongVersion); err == nil {
		t.Fatal("expected unsupported version verification to fail")
	}
}

func TestValidateStrength(t *testing.T) {
	cases := []struct {
		name     string
		password string
		wantRule string
	}{
		{"valid", "Str0ng!pass", ""},
		{"too short", "Short1!", "length"},
		{"no digit", "NoDigitsHere!", "digit"},
		{"no uppercase", "alllower123!", "uppercase"},
		{"no lowercase", "ALLUPPER123!", "lowercase"},
		{"no special", "NoSpecial123", "special"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateStrength(tc.password)
			if tc.wantRule == "" {
				if err != nil {
					t.Fatalf("expected %q to pass, got: %v", tc.password, err)
				}
				return
			}
			var policyErr *PolicyError
			if err == nil {
				t.Fatalf("expected %q to fail rule %q", tc.password, tc.wantRule)
			}
			policyErr, ok := err.(*PolicyError)
			if !ok {
				t.Fatalf("expected *PolicyError, got %T", err)
			}
			if policyErr.Rule != tc.wantRule {
				t.Fatalf("expected rule %q, got %q (%s)", tc.wantRule, policyErr.Rule, policyErr.Message)
			}
		})
	}
}

func TestValidateStrengthReportsFirstfailureOnly(t *testing.T) {
	// "short" breaks every rule except lowercase; length must win.
	err := ValidateStrength("short")
	policyErr, ok := err.(*PolicyError)
	if !ok {
		t.Fatalf("expected *PolicyError, got %v", err)
	}
	if policyErr.Rule != "length" {
		t.Fatalf("expected length rule first, got %q", policyErr.Rule)
	}
	if !strings.Contains(policyErr.Message, "8 characters") {
		t.Fatalf("expected message to mention length, got %q", policyErr.Message)
	}
}
