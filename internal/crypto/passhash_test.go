package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
)

func TestRandBytes_LengthAndUniqueness(t *testing.T) {
	t.Parallel()

	const n = 64
	a, err := RandBytes(DefaultRandom, n)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, err := RandBytes(DefaultRandom, n)
	if err != nil {
		t.Fatalf("RandBytes(2): %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two subsequent RandBytes(%d) are equal, looks non-random", n)
	}
}

func TestRandBytes_ShortReader(t *testing.T) {
	t.Parallel()

	if _, err := RandBytes(bytes.NewReader([]byte{1, 2, 3}), 8); err == nil {
		t.Fatalf("want error when source runs dry")
	}
}

func TestHashPassword_DeterministicOnSameInput(t *testing.T) {
	t.Parallel()

	pw := []byte("p@ssw0rd")
	salt := []byte("NaCl-16-bytes?")

	h1 := HashPassword(pw, salt)
	h2 := HashPassword(pw, salt)
	if !bytes.Equal(h1, h2) {
		t.Fatalf("hash not deterministic for same input")
	}
	if bytes.Equal(h1, HashPassword(pw, []byte("another-salt----"))) {
		t.Fatalf("hash should differ when salt differs")
	}
	if bytes.Equal(h1, HashPassword([]byte("p@ssw0rd!"), salt)) {
		t.Fatalf("hash should differ when password differs")
	}
}

func TestArgon2Hasher_HashAndVerify(t *testing.T) {
	t.Parallel()

	h := NewArgon2Hasher(nil)
	enc, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(enc, "argon2id$") {
		t.Fatalf("unexpected encoding: %s", enc)
	}
	if !h.Verify("correct horse battery staple", enc) {
		t.Fatalf("Verify: expected true for correct password")
	}
	if h.Verify("wrong", enc) {
		t.Fatalf("Verify: expected false for wrong password")
	}
	if h.Verify("", enc) {
		t.Fatalf("Verify: expected false for empty password")
	}

	enc2, _ := h.Hash("correct horse battery staple")
	if enc == enc2 {
		t.Fatalf("two digests of the same password must use different salts")
	}
}

func TestArgon2Hasher_Malformed(t *testing.T) {
	t.Parallel()

	h := NewArgon2Hasher(nil)
	for _, enc := range []string{"", "argon2id$", "argon2id$!!$!!", "argon2id$a$b$c", "not-hex"} {
		if h.Verify("x", enc) {
			t.Fatalf("Verify(%q) must be false", enc)
		}
	}
}

func TestArgon2Hasher_LegacySHA256(t *testing.T) {
	t.Parallel()

	sum := sha256.Sum256([]byte("legacy"))
	enc := hex.EncodeToString(sum[:])

	h := NewArgon2Hasher(nil)
	if !h.Verify("legacy", enc) {
		t.Fatalf("legacy digest should verify")
	}
	if !h.Verify("legacy", strings.ToUpper(enc)) {
		t.Fatalf("legacy digest should be case-insensitive")
	}
	if h.Verify("other", enc) {
		t.Fatalf("legacy digest must not verify a different password")
	}
}
