package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/trailence/trailence-back-sub001/internal/model"
)

// DeviceKeyRepository persists device keys and their renewal challenge.
//
// Every read and write is addressed by (id, owner); there is no lookup by key
// material and no generic update path.
type DeviceKeyRepository interface {
	// Create inserts a new key with a fresh id, createdAt = lastUsage = now and no challenge.
	Create(ctx context.Context, owner string, publicKey []byte, fingerprint string, deviceInfo json.RawMessage, now time.Time) (*model.DeviceKey, error)

	// FindByIDAndOwner returns the key or errs.ErrNotFound.
	FindByIDAndOwner(ctx context.Context, id uuid.UUID, owner string) (*model.DeviceKey, error)

	// SetChallenge stores a challenge, replacing any pending one.
	SetChallenge(ctx context.Context, id uuid.UUID, owner, challenge string, expiresAt time.Time) error

	// ClearChallengeAndTouch consumes the challenge only if it still equals
	// expected and has not expired at now; it also bumps lastUsage, replaces
	// deviceInfo when non-nil and resets invalidAttempts. Returns
	// errs.ErrForbidden when no row matched.
	ClearChallengeAndTouch(ctx context.Context, id uuid.UUID, owner, expected string, now time.Time, deviceInfo json.RawMessage) error

	// Touch bumps lastUsage.
	Touch(ctx context.Context, id uuid.UUID, owner string, now time.Time) error

	// RejectChallenge records a failed proof of possession: it bumps
	// invalidAttempts and drops the pending challenge if it still equals
	// challenge, so a challenge newer than the one answered survives.
	RejectChallenge(ctx context.Context, id uuid.UUID, owner, challenge string) error

	// ListByOwner returns all keys of an owner, most recently used first.
	ListByOwner(ctx context.Context, owner string) ([]model.DeviceKey, error)

	// Delete removes a key; errs.ErrNotFound if (id, owner) does not exist.
	Delete(ctx context.Context, id uuid.UUID, owner string) error
}
