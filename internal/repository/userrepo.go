// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/trailence/trailence-back-sub001/internal/model"
)

// UserRepository provides access to user accounts.
type UserRepository interface {
	// Create inserts a new user.
	Create(ctx context.Context, u *model.User) error
	// GetByEmail loads a user by its lowercase email.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
}

// PreferencesRepository stores per-user display preferences.
type PreferencesRepository interface {
	// Get returns stored preferences or errs.ErrNotFound.
	Get(ctx context.Context, email string) (*model.Preferences, error)
	// Put replaces stored preferences.
	Put(ctx context.Context, email string, p model.Preferences) error
}
