package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/trailence/trailence-back-sub001/internal/errs"
	"github.com/trailence/trailence-back-sub001/internal/model"
)

// PreferencesRepo implements PreferencesRepository using a JSONB column.
type PreferencesRepo struct{ db *DB }

// NewPreferencesRepo constructs a preferences repository.
func NewPreferencesRepo(db *DB) *PreferencesRepo { return &PreferencesRepo{db: db} }

// Get loads preferences of a user.
func (r *PreferencesRepo) Get(ctx context.Context, email string) (*model.Preferences, error) {
	const q = `SELECT prefs FROM user_preferences WHERE email=$1`
	var raw []byte
	if err := r.db.Pool.QueryRow(ctx, q, email).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("select preferences: %w", err)
	}
	var p model.Preferences
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}
	return &p, nil
}

// Put upserts preferences of a user.
func (r *PreferencesRepo) Put(ctx context.Context, email string, p model.Preferences) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO user_preferences (email, prefs)
VALUES ($1, $2)
ON CONFLICT (email) DO UPDATE SET prefs = EXCLUDED.prefs`
	if _, err := r.db.Pool.Exec(ctx, q, email, raw); err != nil {
		return fmt.Errorf("upsert preferences: %w", err)
	}
	return nil
}
