// Package token issues and verifies the HS256 access tokens handed out after
// a login or a renewal.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Issuer mints access tokens for a subject.
type Issuer interface {
	// Generate returns a signed token and its expiry. ttl <= 0 means the default lifetime.
	Generate(subject string, ttl time.Duration) (string, time.Time, error)
}

// Verifier validates access tokens.
type Verifier interface {
	// Verify returns the subject of a valid token.
	Verify(tokenString string) (subject string, err error)
}

// JWT implements Issuer and Verifier with HS256 signed tokens.
type JWT struct {
	key        []byte
	issuer     string
	defaultTTL time.Duration
	maxTTL     time.Duration
	leeway     time.Duration
	now        func() time.Time
}

// NewJWT constructs a JWT issuer. maxTTL caps any requested lifetime.
func NewJWT(key []byte, issuer string, defaultTTL, maxTTL time.Duration) *JWT {
	if maxTTL < defaultTTL {
		maxTTL = defaultTTL
	}
	return &JWT{
		key:        key,
		issuer:     issuer,
		defaultTTL: defaultTTL,
		maxTTL:     maxTTL,
		leeway:     30 * time.Second,
		now:        time.Now,
	}
}

// Generate creates a signed HS256 JWT for subject.
func (j *JWT) Generate(subject string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = j.defaultTTL
	}
	if ttl > j.maxTTL {
		ttl = j.maxTTL
	}
	jti, err := uuid.NewV4()
	if err != nil {
		return "", time.Time{}, err
	}
	now := j.now()
	exp := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		ID:        jti.String(),
		Issuer:    j.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify validates signature, algorithm, issuer and expiry, and returns the subject.
func (j *JWT) Verify(tokenString string) (string, error) {
	var claims jwt.RegisteredClaims
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(j.leeway),
		jwt.WithTimeFunc(j.now),
		jwt.WithExpirationRequired(),
	}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return j.key, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
