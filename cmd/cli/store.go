package main

import (
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/trailence/trailence-back-sub001/internal/crypto/clientcrypto"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// deviceFile identifies the registered device key.
type deviceFile struct {
	Email  string `json:"email"`
	KeyID  string `json:"key_id"`
	Alg    string `json:"alg"`
	Sealed bool   `json:"sealed"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "trailence")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "trailence")
}

func tokenPath() string  { return filepath.Join(cfgDir(), "token.json") }
func devicePath() string { return filepath.Join(cfgDir(), "device.json") }
func keyPath() string    { return filepath.Join(cfgDir(), "device.key") }

func writeJSONFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func saveToken(tok string, exp time.Time) error {
	return writeJSONFile(tokenPath(), tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (renew or login required)")
	}
	return tf.AccessToken, nil
}

func saveDevice(d deviceFile) error { return writeJSONFile(devicePath(), d) }

func loadDevice() (deviceFile, error) {
	var d deviceFile
	b, err := os.ReadFile(devicePath())
	if err != nil {
		return d, fmt.Errorf("no registered device (login first): %w", err)
	}
	err = json.Unmarshal(b, &d)
	return d, err
}

// saveKey writes the PKCS#8 private key, sealed when passphrase is not empty.
func saveKey(s crypto.Signer, passphrase []byte) error {
	pemBytes, err := clientcrypto.EncodePrivateKeyPEM(s)
	if err != nil {
		return err
	}
	if len(passphrase) > 0 {
		if pemBytes, err = clientcrypto.SealPrivateKey(passphrase, pemBytes); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	return os.WriteFile(keyPath(), pemBytes, 0o600)
}

func loadKey(sealed bool, passphrase []byte) (crypto.Signer, error) {
	b, err := os.ReadFile(keyPath())
	if err != nil {
		return nil, err
	}
	if sealed {
		if len(passphrase) == 0 {
			return nil, errors.New("device key is sealed; passphrase required")
		}
		if b, err = clientcrypto.OpenPrivateKey(passphrase, b); err != nil {
			return nil, err
		}
	}
	return clientcrypto.DecodePrivateKeyPEM(b)
}
