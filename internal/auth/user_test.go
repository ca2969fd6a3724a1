package auth

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

// TestPassword_HashVerify_Roundtrip checks the PasswordHasher contract
// without Argon2 cost.
func TestPassword_HashVerify_Roundtrip(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		var hasher PasswordHasher = FakeInsecureHasher{}
		password := rapid.StringN(1, 100, 200).Draw(t, "password")

		hash, err := hasher.HashPassword(password)
		if err != nil {
			t.Fatalf("HashPassword failed: %v", err)
		}
		if !hasher.VerifyPassword(password, hash) {
			t.Fatalf("VerifyPassword failed for password %q", password)
		}
	})
}

// TestPassword_WrongPassword_FailsVerify checks that other passwords never verify.
func TestPassword_WrongPassword_FailsVerify(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		var hasher PasswordHasher = FakeInsecureHasher{}
		password1 := rapid.StringN(1, 50, 100).Draw(t, "password1")
		password2 := rapid.StringN(1, 50, 100).Filter(func(s string) bool {
			return s != password1
		}).Draw(t, "password2")

		hash, err := hasher.HashPassword(password1)
		if err != nil {
			t.Fatalf("HashPassword failed: %v", err)
		}
		if hasher.VerifyPassword(password2, hash) {
			t.Fatalf("VerifyPassword should fail for wrong password")
		}
	})
}

func TestArgon2Hasher_RoundtripAndFormat(t *testing.T) {
	t.Parallel()
	var hasher PasswordHasher = Argon2Hasher{}

	hash, err := hasher.HashPassword("admin")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=19456,t=2,p=1$") {
		t.Fatalf("unexpected hash format: %s", hash)
	}
	if !hasher.VerifyPassword("admin", hash) {
		t.Fatal("correct password did not verify")
	}
	if hasher.VerifyPassword("1234", hash) {
		t.Fatal("wrong password verified")
	}

	again, err := hasher.HashPassword("admin")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if again == hash {
		t.Fatal("hashes of the same password should differ by salt")
	}
}

func TestVerifyPassword_RejectsMalformedHashes(t *testing.T) {
	t.Parallel()
	for _, h := range []string{
		"",
		"admin",
		"$argon2i$v=19$m=19456,t=2,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=19456,t=2,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$garbage$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=19456,t=2,p=1$!!!$aGFzaA",
		"$argon2id$v=19$m=19456,t=2,p=1$c2FsdA$",
		"$plain$admin",
	} {
		if VerifyPassword("admin", h) {
			t.Fatalf("malformed hash %q verified", h)
		}
	}
}
