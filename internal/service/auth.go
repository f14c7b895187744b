// Package service contains the authentication application service: password
// login with device key registration, challenge issuance and key-signed renewal.
package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/trailence/trailence-back-sub001/internal/crypto"
	"github.com/trailence/trailence-back-sub001/internal/errs"
	"github.com/trailence/trailence-back-sub001/internal/limiter"
	"github.com/trailence/trailence-back-sub001/internal/model"
	"github.com/trailence/trailence-back-sub001/internal/repository"
	"github.com/trailence/trailence-back-sub001/internal/token"
)

// DefaultChallengeTTL is how long an issued renewal challenge stays valid.
const DefaultChallengeTTL = 60 * time.Second

// AuthService defines authentication and device key operations.
type AuthService interface {
	// Login checks the password and registers the supplied device public key.
	Login(ctx context.Context, in LoginInput) (*model.Session, error)
	// InitRenew issues a fresh challenge for (keyID, email).
	InitRenew(ctx context.Context, email string, keyID uuid.UUID) (string, error)
	// Renew verifies a signed challenge and issues a new session.
	Renew(ctx context.Context, in RenewInput) (*model.Session, error)
	// Register creates a new user with a hashed password.
	Register(ctx context.Context, email, password string) error
	// ListKeys returns the device keys of email.
	ListKeys(ctx context.Context, email string) ([]model.DeviceKey, error)
	// DeleteKey revokes a device key of email.
	DeleteKey(ctx context.Context, email string, keyID uuid.UUID) error
}

// LoginInput is the password login request.
type LoginInput struct {
	Email      string
	Password   string
	PublicKey  []byte // SPKI DER
	DeviceInfo json.RawMessage
	ExpiresIn  time.Duration // requested token lifetime, 0 for default
	ClientIP   string
}

// RenewInput is the signed renewal request.
type RenewInput struct {
	Email      string
	KeyID      uuid.UUID
	Challenge  string
	Signature  []byte
	DeviceInfo json.RawMessage
}

// AuthDeps are the collaborators of AuthServiceImpl.
type AuthDeps struct {
	Users   repository.UserRepository
	Keys    repository.DeviceKeyRepository
	Prefs   repository.PreferencesRepository
	Hasher  pkgcrypto.Hasher
	Tokens  token.Issuer
	Limiter limiter.Limiter
	Log     *zap.Logger
}

// Option customizes AuthServiceImpl.
type Option func(*AuthServiceImpl)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option { return func(s *AuthServiceImpl) { s.now = now } }

// WithRandom sets the challenge random source.
func WithRandom(r io.Reader) Option { return func(s *AuthServiceImpl) { s.rand = r } }

// WithChallengeTTL overrides DefaultChallengeTTL.
func WithChallengeTTL(d time.Duration) Option {
	return func(s *AuthServiceImpl) {
		if d > 0 {
			s.challengeTTL = d
		}
	}
}

type AuthServiceImpl struct {
	users        repository.UserRepository
	keys         repository.DeviceKeyRepository
	prefs        repository.PreferencesRepository
	hasher       pkgcrypto.Hasher
	tokens       token.Issuer
	lim          limiter.Limiter
	log          *zap.Logger
	rand         io.Reader
	now          func() time.Time
	challengeTTL time.Duration

	// absentDigest is checked when the email is unknown so that a miss costs
	// one Verify, like a wrong password.
	absentDigest string
}

var _ AuthService = (*AuthServiceImpl)(nil)

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(d AuthDeps, opts ...Option) *AuthServiceImpl {
	s := &AuthServiceImpl{
		users:        d.Users,
		keys:         d.Keys,
		prefs:        d.Prefs,
		hasher:       d.Hasher,
		tokens:       d.Tokens,
		lim:          d.Limiter,
		log:          d.Log,
		rand:         pkgcrypto.DefaultRandom,
		now:          time.Now,
		challengeTTL: DefaultChallengeTTL,
	}
	if s.hasher == nil {
		s.hasher = pkgcrypto.NewArgon2Hasher(pkgcrypto.DefaultRandom)
	}
	if s.lim == nil {
		s.lim = limiter.Nop{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	for _, o := range opts {
		o(s)
	}
	s.absentDigest = s.newAbsentDigest()
	return s
}

// newAbsentDigest hashes a throwaway random password with the configured hasher.
func (s *AuthServiceImpl) newAbsentDigest() string {
	pw, err := pkgcrypto.RandBytes(pkgcrypto.DefaultRandom, 32)
	if err != nil {
		s.log.Warn("absent digest: random password", zap.Error(err))
		return ""
	}
	d, err := s.hasher.Hash(string(pw))
	if err != nil {
		s.log.Warn("absent digest: hash", zap.Error(err))
		return ""
	}
	return d
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// forbidden logs the precise reason and returns the collapsed error.
func (s *AuthServiceImpl) forbidden(op, reason string, fields ...zap.Field) error {
	s.log.Info("auth rejected", append([]zap.Field{zap.String("op", op), zap.String("reason", reason)}, fields...)...)
	return errs.ErrForbidden
}

// Register creates a new user record.
func (s *AuthServiceImpl) Register(ctx context.Context, email, password string) error {
	email = NormalizeEmail(email)
	if email == "" || password == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: email and password are required", errs.ErrInvalidArgument)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.Create(ctx, &model.User{Email: email, PasswordHash: hash, CreatedAt: s.now()}); err != nil {
		return err
	}
	s.log.Info("user registered", zap.String("email", email))
	return nil
}

// Login authenticates with rate limiting by (email, ip) and registers a new device key.
func (s *AuthServiceImpl) Login(ctx context.Context, in LoginInput) (*model.Session, error) {
	email := NormalizeEmail(in.Email)

	if _, err := pkgcrypto.ParsePublicKey(in.PublicKey); err != nil {
		return nil, fmt.Errorf("%w: public key: %v", errs.ErrInvalidArgument, err)
	}
	fingerprint, err := pkgcrypto.Fingerprint(in.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %v", errs.ErrInvalidArgument, err)
	}

	ipHash := limiter.HashIP(in.ClientIP)
	allowed, retry, err := s.lim.Allow(ctx, email, ipHash)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, s.forbidden("login", "rate limited", zap.String("email", email), zap.Duration("retry_after", retry))
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return nil, fmt.Errorf("load user: %w", err)
	}
	digest := s.absentDigest
	if u != nil {
		digest = u.PasswordHash
	}
	if ok := s.hasher.Verify(in.Password, digest); u == nil || !ok {
		reason := "wrong password"
		if u == nil {
			reason = "unknown email"
		}
		if blocked, _, ferr := s.lim.Failure(ctx, email, ipHash); ferr != nil {
			s.log.Warn("limiter failure not recorded", zap.Error(ferr))
		} else if blocked {
			reason += ", now rate limited"
		}
		return nil, s.forbidden("login", reason, zap.String("email", email))
	}

	if err := s.lim.Success(ctx, email, ipHash); err != nil {
		s.log.Warn("limiter reset failed", zap.Error(err))
	}

	key, err := s.keys.Create(ctx, email, in.PublicKey, fingerprint, in.DeviceInfo, s.now())
	if err != nil {
		return nil, fmt.Errorf("create device key: %w", err)
	}
	s.log.Info("device key registered",
		zap.String("email", email),
		zap.Stringer("key_id", key.ID),
		zap.String("fingerprint", fingerprint),
	)
	return s.session(ctx, email, key.ID, in.ExpiresIn)
}

// InitRenew stores and returns a new challenge, replacing any pending one.
func (s *AuthServiceImpl) InitRenew(ctx context.Context, email string, keyID uuid.UUID) (string, error) {
	email = NormalizeEmail(email)
	if _, err := s.lookupKey(ctx, "init_renew", email, keyID); err != nil {
		return "", err
	}
	challenge, err := pkgcrypto.NewChallenge(s.rand)
	if err != nil {
		return "", fmt.Errorf("generate challenge: %w", err)
	}
	err = s.keys.SetChallenge(ctx, keyID, email, challenge, s.now().Add(s.challengeTTL))
	if errors.Is(err, errs.ErrNotFound) {
		return "", s.forbidden("init_renew", "key removed", zap.Stringer("key_id", keyID))
	}
	if err != nil {
		return "", fmt.Errorf("store challenge: %w", err)
	}
	return challenge, nil
}

// Renew verifies possession of the device key and issues a new session.
// The challenge is consumed by a single conditional update, so of several
// concurrent calls presenting the same challenge at most one succeeds.
func (s *AuthServiceImpl) Renew(ctx context.Context, in RenewInput) (*model.Session, error) {
	email := NormalizeEmail(in.Email)
	key, err := s.lookupKey(ctx, "renew", email, in.KeyID)
	if err != nil {
		return nil, err
	}
	ids := zap.Stringer("key_id", in.KeyID)

	if !key.HasPendingChallenge() {
		return nil, s.forbidden("renew", "no pending challenge", ids)
	}
	if subtle.ConstantTimeCompare([]byte(*key.Challenge), []byte(in.Challenge)) != 1 {
		return nil, s.forbidden("renew", "challenge mismatch", ids)
	}
	now := s.now()
	if !now.Before(*key.ChallengeExpiresAt) {
		return nil, s.forbidden("renew", "challenge expired", ids)
	}
	msg := pkgcrypto.RenewalMessage(email, in.Challenge)
	if err := pkgcrypto.VerifySignature(key.PublicKey, msg, in.Signature); err != nil {
		if ierr := s.keys.RejectChallenge(ctx, in.KeyID, email, in.Challenge); ierr != nil {
			s.log.Warn("invalid attempt not recorded", ids, zap.Error(ierr))
		}
		return nil, s.forbidden("renew", err.Error(), ids, zap.Int("invalid_attempts", key.InvalidAttempts+1))
	}

	err = s.keys.ClearChallengeAndTouch(ctx, in.KeyID, email, in.Challenge, now, in.DeviceInfo)
	if errors.Is(err, errs.ErrForbidden) {
		return nil, s.forbidden("renew", "challenge already consumed", ids)
	}
	if err != nil {
		return nil, fmt.Errorf("consume challenge: %w", err)
	}
	return s.session(ctx, email, in.KeyID, 0)
}

// ListKeys returns the device keys owned by email.
func (s *AuthServiceImpl) ListKeys(ctx context.Context, email string) ([]model.DeviceKey, error) {
	return s.keys.ListByOwner(ctx, NormalizeEmail(email))
}

// DeleteKey removes a key owned by email; errs.ErrNotFound otherwise.
func (s *AuthServiceImpl) DeleteKey(ctx context.Context, email string, keyID uuid.UUID) error {
	email = NormalizeEmail(email)
	if err := s.keys.Delete(ctx, keyID, email); err != nil {
		return err
	}
	s.log.Info("device key revoked", zap.String("email", email), zap.Stringer("key_id", keyID))
	return nil
}

func (s *AuthServiceImpl) lookupKey(ctx context.Context, op, email string, keyID uuid.UUID) (*model.DeviceKey, error) {
	if email == "" || keyID == uuid.Nil {
		return nil, s.forbidden(op, "missing email or key id")
	}
	key, err := s.keys.FindByIDAndOwner(ctx, keyID, email)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, s.forbidden(op, "unknown key for email", zap.String("email", email), zap.Stringer("key_id", keyID))
	}
	if err != nil {
		return nil, fmt.Errorf("load device key: %w", err)
	}
	return key, nil
}

func (s *AuthServiceImpl) session(ctx context.Context, email string, keyID uuid.UUID, ttl time.Duration) (*model.Session, error) {
	access, exp, err := s.tokens.Generate(email, ttl)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	prefs, err := s.preferences(ctx, email)
	if err != nil {
		return nil, err
	}
	return &model.Session{
		AccessToken: access,
		ExpiresAt:   exp,
		Email:       email,
		KeyID:       keyID,
		Preferences: prefs,
	}, nil
}

func (s *AuthServiceImpl) preferences(ctx context.Context, email string) (model.Preferences, error) {
	if s.prefs == nil {
		return model.Preferences{}, nil
	}
	p, err := s.prefs.Get(ctx, email)
	if errors.Is(err, errs.ErrNotFound) {
		return model.Preferences{}, nil
	}
	if err != nil {
		return model.Preferences{}, fmt.Errorf("load preferences: %w", err)
	}
	return *p, nil
}
