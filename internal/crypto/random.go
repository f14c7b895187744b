package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"io"
)

// ChallengeSize is the number of random bytes in a renewal challenge.
const ChallengeSize = 33

// DefaultRandom is the process random source. Callers inject their own
// io.Reader (e.g. a deterministic one in tests) instead of reading it directly.
var DefaultRandom io.Reader = rand.Reader

// RandBytes returns n bytes read from r.
func RandBytes(r io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// NewChallenge returns ChallengeSize random bytes from r encoded with standard base64.
func NewChallenge(r io.Reader) (string, error) {
	b, err := RandBytes(r, ChallengeSize)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
