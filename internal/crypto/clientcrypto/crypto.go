// Package clientcrypto contains device-side primitives: key pair generation,
// renewal signing and passphrase sealing of the stored private key.
package clientcrypto

import (
	stdcrypto "crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	servercrypto "github.com/trailence/trailence-back-sub001/internal/crypto"
)

// Params
const (
	KeKLen  = 32
	SaltLen = 16

	RSABits = 2048

	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1
)

// Supported device key algorithms.
const (
	AlgRSA     = "rsa"
	AlgECDSA   = "ecdsa"
	AlgEd25519 = "ed25519"
)

const pemType = "PRIVATE KEY"

func Rand(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// GenerateKey creates a new device key pair.
func GenerateKey(alg string) (stdcrypto.Signer, error) {
	switch alg {
	case "", AlgRSA:
		return rsa.GenerateKey(rand.Reader, RSABits)
	case AlgECDSA:
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case AlgEd25519:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		return priv, err
	default:
		return nil, fmt.Errorf("unknown key algorithm %q", alg)
	}
}

// PublicKeyDER returns the SPKI DER encoding of the signer's public half,
// the form registered with the server at login.
func PublicKeyDER(s stdcrypto.Signer) ([]byte, error) {
	return x509.MarshalPKIXPublicKey(s.Public())
}

// SignRenewal signs email||challenge the way the server verifies it.
func SignRenewal(s stdcrypto.Signer, email, challenge string) ([]byte, error) {
	msg := servercrypto.RenewalMessage(email, challenge)
	switch k := s.(type) {
	case ed25519.PrivateKey:
		return ed25519.Sign(k, msg), nil
	case *rsa.PrivateKey, *ecdsa.PrivateKey:
		digest := sha256.Sum256(msg)
		return s.Sign(rand.Reader, digest[:], stdcrypto.SHA256)
	default:
		return nil, fmt.Errorf("unsupported signer %T", s)
	}
}

// EncodePrivateKeyPEM marshals the key as PKCS#8 PEM.
func EncodePrivateKeyPEM(s stdcrypto.Signer) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(s)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemType, Bytes: der}), nil
}

// DecodePrivateKeyPEM parses a PKCS#8 PEM private key.
func DecodePrivateKeyPEM(b []byte) (stdcrypto.Signer, error) {
	blk, _ := pem.Decode(b)
	if blk == nil || blk.Type != pemType {
		return nil, errors.New("no PKCS#8 PEM block")
	}
	k, err := x509.ParsePKCS8PrivateKey(blk.Bytes)
	if err != nil {
		return nil, err
	}
	s, ok := k.(stdcrypto.Signer)
	if !ok {
		return nil, fmt.Errorf("key %T cannot sign", k)
	}
	return s, nil
}

// DeriveKEK derives a key-encryption key from passphrase and salt using Argon2id.
func DeriveKEK(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, KeKLen)
}

// SealPrivateKey encrypts plaintext (a PEM key) under a passphrase.
// Layout: salt || nonce || XChaCha20-Poly1305 ciphertext.
func SealPrivateKey(passphrase, plaintext []byte) ([]byte, error) {
	salt, err := Rand(SaltLen)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(DeriveKEK(passphrase, salt))
	if err != nil {
		return nil, err
	}
	nonce, err := Rand(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, SaltLen+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plaintext, salt)...)
	return out, nil
}

// OpenPrivateKey reverses SealPrivateKey.
func OpenPrivateKey(passphrase, sealed []byte) ([]byte, error) {
	if len(sealed) < SaltLen+chacha20poly1305.NonceSizeX {
		return nil, errors.New("sealed key too short")
	}
	salt := sealed[:SaltLen]
	aead, err := chacha20poly1305.NewX(DeriveKEK(passphrase, salt))
	if err != nil {
		return nil, err
	}
	nonce := sealed[SaltLen : SaltLen+chacha20poly1305.NonceSizeX]
	ct := sealed[SaltLen+chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, ct, salt)
}
