package crypto

import (
	stdcrypto "crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/ssh"
)

// MinRSABits is the smallest RSA modulus accepted for a device key.
const MinRSABits = 2048

var (
	// ErrUnsupportedKey is returned for keys that are not RSA, ECDSA P-256 or Ed25519.
	ErrUnsupportedKey = errors.New("unsupported public key")
	// ErrBadSignature is returned when a signature does not verify.
	ErrBadSignature = errors.New("signature verification failed")
)

// ParsePublicKey decodes an SPKI (X.509 SubjectPublicKeyInfo) DER public key
// and checks that its type is supported.
func ParsePublicKey(der []byte) (stdcrypto.PublicKey, error) {
	if len(der) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrUnsupportedKey)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedKey, err)
	}
	switch k := pub.(type) {
	case *rsa.PublicKey:
		if k.N.BitLen() < MinRSABits {
			return nil, fmt.Errorf("%w: rsa modulus %d bits", ErrUnsupportedKey, k.N.BitLen())
		}
	case *ecdsa.PublicKey:
		if k.Curve != elliptic.P256() {
			return nil, fmt.Errorf("%w: curve %s", ErrUnsupportedKey, k.Curve.Params().Name)
		}
	case ed25519.PublicKey:
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
	}
	return pub, nil
}

// Fingerprint returns the OpenSSH SHA256 fingerprint of an SPKI DER key.
// It is meant for display and logs only.
func Fingerprint(der []byte) (string, error) {
	pub, err := ParsePublicKey(der)
	if err != nil {
		return "", err
	}
	sp, err := ssh.NewPublicKey(pub)
	if err != nil {
		return "", err
	}
	return ssh.FingerprintSHA256(sp), nil
}

// RenewalMessage is the exact byte sequence a device signs to renew a session:
// the UTF-8 email immediately followed by the challenge string.
func RenewalMessage(email, challenge string) []byte {
	return []byte(email + challenge)
}

// VerifySignature checks sig over msg with the SPKI DER public key.
//
// RSA keys use PKCS#1 v1.5 with SHA-256. ECDSA P-256 keys use SHA-256 and
// accept either ASN.1 DER or the 64 byte r||s form produced by WebCrypto.
// Ed25519 keys verify msg directly.
func VerifySignature(der, msg, sig []byte) error {
	pub, err := ParsePublicKey(der)
	if err != nil {
		return err
	}
	if len(sig) == 0 {
		return ErrBadSignature
	}
	digest := sha256.Sum256(msg)

	switch k := pub.(type) {
	case *rsa.PublicKey:
		if err := rsa.VerifyPKCS1v15(k, stdcrypto.SHA256, digest[:], sig); err != nil {
			return ErrBadSignature
		}
	case *ecdsa.PublicKey:
		if !verifyECDSA(k, digest[:], sig) {
			return ErrBadSignature
		}
	case ed25519.PublicKey:
		if !ed25519.Verify(k, msg, sig) {
			return ErrBadSignature
		}
	}
	return nil
}

func verifyECDSA(k *ecdsa.PublicKey, digest, sig []byte) bool {
	size := (k.Curve.Params().BitSize + 7) / 8
	if len(sig) == 2*size {
		r := new(big.Int).SetBytes(sig[:size])
		s := new(big.Int).SetBytes(sig[size:])
		if ecdsa.Verify(k, digest, r, s) {
			return true
		}
	}
	return ecdsa.VerifyASN1(k, digest, sig)
}
