package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/trailence/trailence-back-sub001/internal/errs"
	"github.com/trailence/trailence-back-sub001/internal/model"
)

// DeviceKeyRepo implements DeviceKeyRepository using PostgreSQL.
type DeviceKeyRepo struct{ db *DB }

// NewDeviceKeyRepo constructs a device key repository.
func NewDeviceKeyRepo(db *DB) *DeviceKeyRepo { return &DeviceKeyRepo{db: db} }

const deviceKeyColumns = `id, owner, public_key, fingerprint, created_at, last_usage, device_info, challenge, challenge_expires_at, invalid_attempts`

// Create inserts a new key row. Duplicate public keys are allowed.
func (r *DeviceKeyRepo) Create(
	ctx context.Context, owner string, publicKey []byte, fingerprint string, deviceInfo json.RawMessage, now time.Time,
) (*model.DeviceKey, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	const q = `
INSERT INTO device_keys (id, owner, public_key, fingerprint, created_at, last_usage, device_info, invalid_attempts)
VALUES ($1, $2, $3, $4, $5, $5, $6, 0)`
	if _, err := r.db.Pool.Exec(ctx, q, id, owner, publicKey, fingerprint, now, nullableJSON(deviceInfo)); err != nil {
		return nil, fmt.Errorf("insert device key: %w", err)
	}
	return &model.DeviceKey{
		ID:          id,
		Owner:       owner,
		PublicKey:   publicKey,
		Fingerprint: fingerprint,
		CreatedAt:   now,
		LastUsage:   now,
		DeviceInfo:  deviceInfo,
	}, nil
}

// FindByIDAndOwner selects a key by (id, owner).
func (r *DeviceKeyRepo) FindByIDAndOwner(ctx context.Context, id uuid.UUID, owner string) (*model.DeviceKey, error) {
	const q = `SELECT ` + deviceKeyColumns + ` FROM device_keys WHERE id=$1 AND owner=$2`
	k, err := scanDeviceKey(r.db.Pool.QueryRow(ctx, q, id, owner))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("select device key: %w", err)
	}
	return k, nil
}

// SetChallenge overwrites the pending challenge of (id, owner).
func (r *DeviceKeyRepo) SetChallenge(ctx context.Context, id uuid.UUID, owner, challenge string, expiresAt time.Time) error {
	const q = `
UPDATE device_keys
SET challenge = $3, challenge_expires_at = $4
WHERE id = $1 AND owner = $2`
	tag, err := r.db.Pool.Exec(ctx, q, id, owner, challenge, expiresAt)
	if err != nil {
		return fmt.Errorf("set challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ClearChallengeAndTouch consumes the challenge in a single conditional update.
// Only one of several concurrent callers presenting the same challenge can match.
func (r *DeviceKeyRepo) ClearChallengeAndTouch(
	ctx context.Context, id uuid.UUID, owner, expected string, now time.Time, deviceInfo json.RawMessage,
) error {
	const q = `
UPDATE device_keys
SET challenge = NULL,
    challenge_expires_at = NULL,
    last_usage = $4,
    device_info = COALESCE($5, device_info),
    invalid_attempts = 0
WHERE id = $1 AND owner = $2 AND challenge = $3 AND challenge_expires_at > $4`
	tag, err := r.db.Pool.Exec(ctx, q, id, owner, expected, now, nullableJSON(deviceInfo))
	if err != nil {
		return fmt.Errorf("consume challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrForbidden
	}
	return nil
}

// Touch bumps last_usage of (id, owner).
func (r *DeviceKeyRepo) Touch(ctx context.Context, id uuid.UUID, owner string, now time.Time) error {
	const q = `UPDATE device_keys SET last_usage = $3 WHERE id = $1 AND owner = $2`
	tag, err := r.db.Pool.Exec(ctx, q, id, owner, now)
	if err != nil {
		return fmt.Errorf("touch device key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// RejectChallenge bumps the failure counter of (id, owner) and clears the
// challenge when it is still the one that was answered.
func (r *DeviceKeyRepo) RejectChallenge(ctx context.Context, id uuid.UUID, owner, challenge string) error {
	const q = `
UPDATE device_keys
SET invalid_attempts = invalid_attempts + 1,
    challenge = CASE WHEN challenge = $3 THEN NULL ELSE challenge END,
    challenge_expires_at = CASE WHEN challenge = $3 THEN NULL ELSE challenge_expires_at END
WHERE id = $1 AND owner = $2`
	if _, err := r.db.Pool.Exec(ctx, q, id, owner, challenge); err != nil {
		return fmt.Errorf("reject challenge: %w", err)
	}
	return nil
}

// ListByOwner returns all keys of owner, most recently used first.
func (r *DeviceKeyRepo) ListByOwner(ctx context.Context, owner string) ([]model.DeviceKey, error) {
	const q = `SELECT ` + deviceKeyColumns + ` FROM device_keys WHERE owner=$1 ORDER BY last_usage DESC`
	rows, err := r.db.Pool.Query(ctx, q, owner)
	if err != nil {
		return nil, fmt.Errorf("list device keys: %w", err)
	}
	defer rows.Close()

	out := []model.DeviceKey{}
	for rows.Next() {
		k, err := scanDeviceKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *k)
	}
	return out, rows.Err()
}

// Delete removes (id, owner).
func (r *DeviceKeyRepo) Delete(ctx context.Context, id uuid.UUID, owner string) error {
	const q = `DELETE FROM device_keys WHERE id = $1 AND owner = $2`
	tag, err := r.db.Pool.Exec(ctx, q, id, owner)
	if err != nil {
		return fmt.Errorf("delete device key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func scanDeviceKey(row pgx.Row) (*model.DeviceKey, error) {
	var (
		k    model.DeviceKey
		info []byte
	)
	if err := row.Scan(
		&k.ID, &k.Owner, &k.PublicKey, &k.Fingerprint, &k.CreatedAt, &k.LastUsage,
		&info, &k.Challenge, &k.ChallengeExpiresAt, &k.InvalidAttempts,
	); err != nil {
		return nil, err
	}
	if len(info) > 0 {
		k.DeviceInfo = json.RawMessage(info)
	}
	return &k, nil
}

// nullableJSON maps an empty payload to SQL NULL.
func nullableJSON(v json.RawMessage) any {
	if len(v) == 0 {
		return nil
	}
	return []byte(v)
}
