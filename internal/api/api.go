// Package api holds the JSON wire types shared by the HTTP server and the device CLI.
package api

import (
	"encoding/json"
	"time"

	"github.com/trailence/trailence-back-sub001/internal/model"
)

// Paths of the REST surface.
const (
	PathLogin     = "/login"
	PathInitRenew = "/init_renew"
	PathRenew     = "/renew"
	PathKeys      = "/keys"
)

// LoginRequest registers a device key with a password.
type LoginRequest struct {
	Email      string          `json:"email"`
	Password   string          `json:"password"`
	PublicKey  []byte          `json:"publicKey"` // SPKI DER
	DeviceInfo json.RawMessage `json:"deviceInfo,omitempty"`
	ExpiresIn  int64           `json:"expiresIn,omitempty"` // seconds
}

// InitRenewRequest asks for a renewal challenge.
type InitRenewRequest struct {
	Email string `json:"email"`
	KeyID string `json:"keyId"`
}

// InitRenewResponse carries the challenge to sign.
type InitRenewResponse struct {
	Challenge string `json:"challenge"`
}

// RenewRequest proves possession of the device key.
type RenewRequest struct {
	Email      string          `json:"email"`
	KeyID      string          `json:"keyId"`
	Random     string          `json:"random"` // the challenge
	Signature  []byte          `json:"signature"`
	DeviceInfo json.RawMessage `json:"deviceInfo,omitempty"`
}

// SessionResponse is returned by login and renew.
type SessionResponse struct {
	AccessToken string            `json:"accessToken"`
	Expires     int64             `json:"expires"` // epoch millis
	Email       string            `json:"email"`
	KeyID       string            `json:"keyId"`
	Preferences model.Preferences `json:"preferences"`
}

// KeyInfo describes one device key of the caller.
type KeyInfo struct {
	ID          string          `json:"id"`
	Fingerprint string          `json:"fingerprint,omitempty"`
	CreatedAt   int64           `json:"createdAt"` // epoch millis
	LastUsage   int64           `json:"lastUsage"` // epoch millis
	DeviceInfo  json.RawMessage `json:"deviceInfo,omitempty"`
}

// NewSessionResponse converts a domain session.
func NewSessionResponse(s *model.Session) SessionResponse {
	return SessionResponse{
		AccessToken: s.AccessToken,
		Expires:     s.ExpiresAt.UnixMilli(),
		Email:       s.Email,
		KeyID:       s.KeyID.String(),
		Preferences: s.Preferences,
	}
}

// NewKeyInfo converts a domain device key. Key material and challenge state are not exposed.
func NewKeyInfo(k model.DeviceKey) KeyInfo {
	return KeyInfo{
		ID:          k.ID.String(),
		Fingerprint: k.Fingerprint,
		CreatedAt:   k.CreatedAt.UnixMilli(),
		LastUsage:   k.LastUsage.UnixMilli(),
		DeviceInfo:  k.DeviceInfo,
	}
}

// ExpiresAt converts the epoch millis of a session to time.
func (s SessionResponse) ExpiresAt() time.Time { return time.UnixMilli(s.Expires) }
