// Package model defines domain entities used by services and repositories.
package model

import (
	"encoding/json"
	"time"

	"github.com/gofrs/uuid/v5"
)

// User is an account that can bootstrap device trust with a password.
type User struct {
	Email        string // unique, lowercase; subject of issued tokens
	PasswordHash string // opaque digest produced by a crypto.Hasher
	CreatedAt    time.Time
}

// DeviceKey binds a client public key to its owner. One per device session key.
type DeviceKey struct {
	ID                 uuid.UUID
	Owner              string          // owner email
	PublicKey          []byte          // SPKI DER, immutable
	Fingerprint        string          // display only
	CreatedAt          time.Time
	LastUsage          time.Time
	DeviceInfo         json.RawMessage // opaque client metadata
	Challenge          *string         // pending renewal nonce
	ChallengeExpiresAt *time.Time
	InvalidAttempts    int
}

// HasPendingChallenge reports whether a renewal challenge is currently stored.
func (k *DeviceKey) HasPendingChallenge() bool {
	return k.Challenge != nil && *k.Challenge != "" && k.ChallengeExpiresAt != nil
}

// Preferences are per-user display settings returned with every session.
// Unset fields mean "client default".
type Preferences struct {
	Lang          *string `json:"lang,omitempty"`
	ElevationUnit *string `json:"elevationUnit,omitempty"`
	DistanceUnit  *string `json:"distanceUnit,omitempty"`
	HourFormat    *string `json:"hourFormat,omitempty"`
	DateFormat    *string `json:"dateFormat,omitempty"`
	Theme         *string `json:"theme,omitempty"`
	Alias         *string `json:"alias,omitempty"`
}

// Session is the result of a successful login or renewal.
type Session struct {
	AccessToken string
	ExpiresAt   time.Time
	Email       string
	KeyID       uuid.UUID
	Preferences Preferences
}
