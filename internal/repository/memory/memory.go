// Package memory provides mutex-guarded in-process repositories used when no
// database is configured and in tests.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/trailence/trailence-back-sub001/internal/errs"
	"github.com/trailence/trailence-back-sub001/internal/model"
	"github.com/trailence/trailence-back-sub001/internal/repository"
)

var (
	_ repository.UserRepository        = (*UserRepo)(nil)
	_ repository.DeviceKeyRepository   = (*DeviceKeyRepo)(nil)
	_ repository.PreferencesRepository = (*PreferencesRepo)(nil)
)

// UserRepo stores users by email.
type UserRepo struct {
	mu    sync.RWMutex
	users map[string]model.User
	now   func() time.Time
}

// NewUserRepo returns an empty UserRepo.
func NewUserRepo() *UserRepo {
	return &UserRepo{users: map[string]model.User{}, now: time.Now}
}

// Create inserts u; errs.ErrAlreadyExists if the email is taken.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.Email]; ok {
		return errs.ErrAlreadyExists
	}
	c := *u
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.now()
	}
	r.users[u.Email] = c
	return nil
}

// GetByEmail returns a copy of the user or errs.ErrNotFound.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[email]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &u, nil
}

// PreferencesRepo stores preferences by email.
type PreferencesRepo struct {
	mu    sync.RWMutex
	prefs map[string]model.Preferences
}

// NewPreferencesRepo returns an empty PreferencesRepo.
func NewPreferencesRepo() *PreferencesRepo {
	return &PreferencesRepo{prefs: map[string]model.Preferences{}}
}

// Get returns stored preferences or errs.ErrNotFound.
func (r *PreferencesRepo) Get(ctx context.Context, email string) (*model.Preferences, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.prefs[email]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &p, nil
}

// Put replaces the preferences of email.
func (r *PreferencesRepo) Put(ctx context.Context, email string, p model.Preferences) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefs[email] = p
	return nil
}

// DeviceKeyRepo keeps device keys in a map keyed by id. Every access checks
// the owner as well, like the SQL implementation.
type DeviceKeyRepo struct {
	mu   sync.Mutex
	keys map[uuid.UUID]*model.DeviceKey
}

// NewDeviceKeyRepo returns an empty DeviceKeyRepo.
func NewDeviceKeyRepo() *DeviceKeyRepo {
	return &DeviceKeyRepo{keys: map[uuid.UUID]*model.DeviceKey{}}
}

// Create stores a new key with a random id.
func (r *DeviceKeyRepo) Create(
	ctx context.Context, owner string, publicKey []byte, fingerprint string, deviceInfo json.RawMessage, now time.Time,
) (*model.DeviceKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	k := &model.DeviceKey{
		ID:          id,
		Owner:       owner,
		PublicKey:   append([]byte(nil), publicKey...),
		Fingerprint: fingerprint,
		CreatedAt:   now,
		LastUsage:   now,
		DeviceInfo:  cloneJSON(deviceInfo),
	}
	r.mu.Lock()
	r.keys[id] = k
	r.mu.Unlock()
	return cloneKey(k), nil
}

// lookup must be called with r.mu held.
func (r *DeviceKeyRepo) lookup(id uuid.UUID, owner string) (*model.DeviceKey, bool) {
	k, ok := r.keys[id]
	if !ok || k.Owner != owner {
		return nil, false
	}
	return k, true
}

// FindByIDAndOwner returns a copy of the key or errs.ErrNotFound.
func (r *DeviceKeyRepo) FindByIDAndOwner(ctx context.Context, id uuid.UUID, owner string) (*model.DeviceKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.lookup(id, owner)
	if !ok {
		return nil, errs.ErrNotFound
	}
	return cloneKey(k), nil
}

// SetChallenge replaces the pending challenge.
func (r *DeviceKeyRepo) SetChallenge(ctx context.Context, id uuid.UUID, owner, challenge string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.lookup(id, owner)
	if !ok {
		return errs.ErrNotFound
	}
	k.Challenge = &challenge
	k.ChallengeExpiresAt = &expiresAt
	return nil
}

// ClearChallengeAndTouch consumes the challenge under the lock; errs.ErrForbidden
// when it no longer matches or has expired.
func (r *DeviceKeyRepo) ClearChallengeAndTouch(
	ctx context.Context, id uuid.UUID, owner, expected string, now time.Time, deviceInfo json.RawMessage,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.lookup(id, owner)
	if !ok || k.Challenge == nil || *k.Challenge != expected ||
		k.ChallengeExpiresAt == nil || !k.ChallengeExpiresAt.After(now) {
		return errs.ErrForbidden
	}
	k.Challenge = nil
	k.ChallengeExpiresAt = nil
	k.LastUsage = now
	k.InvalidAttempts = 0
	if len(deviceInfo) > 0 {
		k.DeviceInfo = cloneJSON(deviceInfo)
	}
	return nil
}

// Touch bumps lastUsage.
func (r *DeviceKeyRepo) Touch(ctx context.Context, id uuid.UUID, owner string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.lookup(id, owner)
	if !ok {
		return errs.ErrNotFound
	}
	k.LastUsage = now
	return nil
}

// RejectChallenge bumps the failure counter and drops the challenge if it
// still equals challenge; a missing key is ignored.
func (r *DeviceKeyRepo) RejectChallenge(ctx context.Context, id uuid.UUID, owner, challenge string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.lookup(id, owner)
	if !ok {
		return nil
	}
	k.InvalidAttempts++
	if k.Challenge != nil && *k.Challenge == challenge {
		k.Challenge = nil
		k.ChallengeExpiresAt = nil
	}
	return nil
}

// ListByOwner returns copies of the owner's keys, most recently used first.
func (r *DeviceKeyRepo) ListByOwner(ctx context.Context, owner string) ([]model.DeviceKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	out := []model.DeviceKey{}
	for _, k := range r.keys {
		if k.Owner == owner {
			out = append(out, *cloneKey(k))
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsage.After(out[j].LastUsage) })
	return out, nil
}

// Delete removes (id, owner) or returns errs.ErrNotFound.
func (r *DeviceKeyRepo) Delete(ctx context.Context, id uuid.UUID, owner string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.lookup(id, owner); !ok {
		return errs.ErrNotFound
	}
	delete(r.keys, id)
	return nil
}

func cloneKey(k *model.DeviceKey) *model.DeviceKey {
	c := *k
	c.PublicKey = append([]byte(nil), k.PublicKey...)
	c.DeviceInfo = cloneJSON(k.DeviceInfo)
	if k.Challenge != nil {
		ch := *k.Challenge
		c.Challenge = &ch
	}
	if k.ChallengeExpiresAt != nil {
		exp := *k.ChallengeExpiresAt
		c.ChallengeExpiresAt = &exp
	}
	return &c
}

func cloneJSON(v json.RawMessage) json.RawMessage {
	if len(v) == 0 {
		return nil
	}
	return append(json.RawMessage(nil), v...)
}
