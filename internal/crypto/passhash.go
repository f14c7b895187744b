// Package crypto implements server-side password hashing, random challenge
// generation and device signature verification.
package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (tuned for server-side hashing).
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32
	argonSaltLen        = 16

	argonPrefix = "argon2id$"
)

// Hasher is a one-way password digest. Implementations must be usable both
// when an account is created and when a login is checked.
type Hasher interface {
	// Hash returns an encoded digest of password.
	Hash(password string) (string, error)
	// Verify reports whether password matches an encoded digest.
	Verify(password, encoded string) bool
}

// Argon2Hasher produces salted Argon2id digests encoded as
// "argon2id$<base64 salt>$<base64 hash>". It also verifies legacy unsalted
// SHA-256 hex digests so older accounts keep working.
type Argon2Hasher struct {
	rand io.Reader
}

// NewArgon2Hasher constructs a hasher drawing salts from r.
func NewArgon2Hasher(r io.Reader) *Argon2Hasher {
	if r == nil {
		r = DefaultRandom
	}
	return &Argon2Hasher{rand: r}
}

// Hash returns an encoded Argon2id digest with a fresh salt.
func (h *Argon2Hasher) Hash(password string) (string, error) {
	salt, err := RandBytes(h.rand, argonSaltLen)
	if err != nil {
		return "", err
	}
	sum := HashPassword([]byte(password), salt)
	return argonPrefix + base64.RawStdEncoding.EncodeToString(salt) + "$" + base64.RawStdEncoding.EncodeToString(sum), nil
}

// Verify checks password against an encoded digest in constant time.
func (h *Argon2Hasher) Verify(password, encoded string) bool {
	if strings.HasPrefix(encoded, argonPrefix) {
		salt, sum, err := decodeArgon(encoded)
		if err != nil {
			return false
		}
		return VerifyPassword([]byte(password), salt, sum)
	}
	return verifyLegacySHA256(password, encoded)
}

func decodeArgon(encoded string) (salt, sum []byte, err error) {
	parts := strings.Split(strings.TrimPrefix(encoded, argonPrefix), "$")
	if len(parts) != 2 {
		return nil, nil, errors.New("malformed argon2id digest")
	}
	if salt, err = base64.RawStdEncoding.DecodeString(parts[0]); err != nil {
		return nil, nil, err
	}
	if sum, err = base64.RawStdEncoding.DecodeString(parts[1]); err != nil {
		return nil, nil, err
	}
	return salt, sum, nil
}

// verifyLegacySHA256 accepts bare hex SHA-256 digests written by earlier versions.
func verifyLegacySHA256(password, encoded string) bool {
	want, err := hex.DecodeString(strings.ToLower(encoded))
	if err != nil || len(want) != sha256.Size {
		return false
	}
	got := sha256.Sum256([]byte(password))
	return subtle.ConstantTimeCompare(got[:], want) == 1
}

// HashPassword returns Argon2id hash of password using the provided salt.
func HashPassword(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifyPassword verifies password against expected Argon2id hash and salt.
func VerifyPassword(password, salt, expected []byte) bool {
	got := HashPassword(password, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}
