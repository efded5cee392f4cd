package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// AES-256 derived key length
	keyLength = 32
	// GCM standard nonce length
	nonceLength = 12
	// Per-operation KDF salt length
	saltLength = 16
	// PBKDF2 iteration count. Deliberately slow: the cost is the point.
	kdfIterations = 100_000

	algorithmID = "aes-256-gcm"
	kdfID       = "pbkdf2-sha256"
)

// Sentinel errors for cryptographic failures. Callers must treat these as
// fatal for the operation; a failed decrypt is never retried because it can
// mask tampering.
var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// Envelope bundles everything needed to later decrypt a value, except the
// master key. It never contains plaintext. Salt and IV are fresh random
// values for every Encrypt call and are never reused.
type Envelope struct {
	Ciphertext          string `json:"ciphertext"`
	Salt                string `json:"salt"`
	IV                  string `json:"iv"`
	Algorithm           string `json:"algorithm"`
	KeyDerivationMethod string `json:"keyDerivationMethod"`
}

// deriveKey stretches the master key with the given salt into an AES-256 key.
func deriveKey(masterKey, salt []byte) []byte {
	return pbkdf2.Key(masterKey, salt, kdfIterations, keyLength, sha256.New)
}

// Encrypt encrypts plaintext under a key derived from masterKey and a fresh
// random salt, using AES-256-GCM. The GCM authentication tag is carried inside
// the ciphertext field. Error messages never include the plaintext.
func Encrypt(plainText string, masterKey []byte) (*Envelope, error) {
	if len(masterKey) == 0 {
		return nil, fmt.Errorf("%w: master key is empty", ErrEncryptionFailed)
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("%w: failed to generate salt: %v", ErrEncryptionFailed, err)
	}

	block, err := aes.NewCipher(deriveKey(masterKey, salt))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create cipher: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create GCM: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: failed to generate nonce: %v", ErrEncryptionFailed, err)
	}

	cipherText := gcm.Seal(nil, nonce, []byte(plainText), nil)

	return &Envelope{
		Ciphertext:          base64.StdEncoding.EncodeToString(cipherText),
		Salt:                base64.StdEncoding.EncodeToString(salt),
		IV:                  base64.StdEncoding.EncodeToString(nonce),
		Algorithm:           algorithmID,
		KeyDerivationMethod: kdfID,
	}, nil
}

// Decrypt re-derives the key from the envelope's salt and verifies the GCM
// authentication tag. A wrong master key and a tampered ciphertext are
// indistinguishable: both fail with ErrDecryptionFailed.
func Decrypt(env *Envelope, masterKey []byte) (string, error) {
	if env == nil {
		return "", fmt.Errorf("%w: envelope is nil", ErrDecryptionFailed)
	}
	if env.Algorithm != algorithmID || env.KeyDerivationMethod != kdfID {
		return "", fmt.Errorf("%w: unsupported algorithm %q/%q", ErrDecryptionFailed, env.Algorithm, env.KeyDerivationMethod)
	}

	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return "", fmt.Errorf("%w: malformed salt", ErrDecryptionFailed)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil || len(nonce) != nonceLength {
		return "", fmt.Errorf("%w: malformed iv", ErrDecryptionFailed)
	}
	cipherText, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: malformed ciphertext", ErrDecryptionFailed)
	}

	block, err := aes.NewCipher(deriveKey(masterKey, salt))
	if err != nil {
		return "", fmt.Errorf("%w: failed to create cipher", ErrDecryptionFailed)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create GCM", ErrDecryptionFailed)
	}

	plainText, err := gcm.Open(nil, nonce, cipherText, nil)
	if err != nil {
		// Tag mismatch: wrong key or tampered data. Do not distinguish.
		return "", ErrDecryptionFailed
	}
	return string(plainText), nil
}

// Hash derives a salted PBKDF2-SHA256 digest of value. When salt is empty a
// fresh random salt is generated. Both digest and salt are returned hex
// encoded so they can be stored and later passed to VerifyHash.
func Hash(value, salt string) (digest, usedSalt string, err error) {
	var saltBytes []byte
	if salt == "" {
		saltBytes = make([]byte, saltLength)
		if _, err := rand.Read(saltBytes); err != nil {
			return "", "", fmt.Errorf("failed to generate hash salt: %w", err)
		}
	} else {
		saltBytes, err = hex.DecodeString(salt)
		if err != nil {
			return "", "", fmt.Errorf("malformed hash salt: %w", err)
		}
	}

	sum := pbkdf2.Key([]byte(value), saltBytes, kdfIterations, keyLength, sha256.New)
	return hex.EncodeToString(sum), hex.EncodeToString(saltBytes), nil
}

// VerifyHash reports whether value hashes to digest under salt, using a
// constant-time comparison.
func VerifyHash(value, digest, salt string) bool {
	computed, _, err := Hash(value, salt)
	if err != nil {
		return false
	}
	return ConstantTimeEquals(computed, digest)
}

// ConstantTimeEquals compares two strings in time independent of where the
// first mismatching byte occurs. Known limitation: a length mismatch returns
// early, so timing reveals whether the lengths match (but nothing about the
// content of the shorter input).
func ConstantTimeEquals(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// GenerateSecureToken returns lengthBytes of cryptographically random data,
// hex encoded.
func GenerateSecureToken(lengthBytes int) (string, error) {
	if lengthBytes <= 0 {
		return "", errors.New("token length must be positive")
	}
	buf := make([]byte, lengthBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secure token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// GenerateAPIKey produces a bearer value of the form
// prefix_<base36 millisecond timestamp>_<random hex>.
func GenerateAPIKey(prefix string) (string, error) {
	if prefix == "" {
		prefix = "key"
	}
	random, err := GenerateSecureToken(16)
	if err != nil {
		return "", err
	}
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	return fmt.Sprintf("%s_%s_%s", prefix, ts, random), nil
}

// GenerateUUID returns a random (version 4) UUID string.
func GenerateUUID() string {
	return uuid.NewString()
}
