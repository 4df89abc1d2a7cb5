package vault

import (
	"chat-relay/internal/logger"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltLength = 32
	ivLength   = 16
	tagLength  = 16
	keyLength  = 32
	iterations = 100000
)

// ErrIntegrity is returned when a ciphertext fails authentication,
// either because it was tampered with or the master key is wrong.
var ErrIntegrity = errors.New("ciphertext integrity check failed")

// Vault envelope-encrypts API keys at rest. Every Encrypt call derives
// a fresh key from the master secret and a random salt, so identical
// plaintexts never produce identical ciphertexts.
type Vault struct {
	masterKey []byte
}

// NewVault creates a Vault bound to the process master secret.
func NewVault(masterKey string) (*Vault, error) {
	if masterKey == "" {
		return nil, fmt.Errorf("vault master key must not be empty")
	}
	return &Vault{masterKey: []byte(masterKey)}, nil
}

// Encrypt encrypts a plaintext secret and returns an opaque base64 blob
// laid out as salt || iv || tag || ciphertext.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("error generating salt: %w", err)
	}

	iv := make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("error generating iv: %w", err)
	}

	aead, err := v.deriveCipher(salt)
	if err != nil {
		return "", err
	}

	// Seal appends the auth tag after the ciphertext; the blob layout
	// wants it in front, so split and reorder.
	sealed := aead.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-tagLength]
	tag := sealed[len(sealed)-tagLength:]

	blob := make([]byte, 0, saltLength+ivLength+tagLength+len(ciphertext))
	blob = append(blob, salt...)
	blob = append(blob, iv...)
	blob = append(blob, tag...)
	blob = append(blob, ciphertext...)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt reverses Encrypt. It returns ErrIntegrity if the auth tag
// does not verify.
func (v *Vault) Decrypt(encrypted string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("error decoding ciphertext: %w", err)
	}

	if len(blob) < saltLength+ivLength+tagLength {
		return "", fmt.Errorf("%w: ciphertext too short", ErrIntegrity)
	}

	salt := blob[:saltLength]
	iv := blob[saltLength : saltLength+ivLength]
	tag := blob[saltLength+ivLength : saltLength+ivLength+tagLength]
	ciphertext := blob[saltLength+ivLength+tagLength:]

	aead, err := v.deriveCipher(salt)
	if err != nil {
		return "", err
	}

	sealed := make([]byte, 0, len(ciphertext)+tagLength)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		logger.Log.WithError(err).Error("Decryption failed: tamper or wrong master key")
		return "", ErrIntegrity
	}

	return string(plaintext), nil
}

// deriveCipher derives a per-blob AES-256-GCM cipher from the master
// key and salt via PBKDF2-SHA256.
func (v *Vault) deriveCipher(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(v.masterKey, salt, iterations, keyLength, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("error creating cipher: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, ivLength)
	if err != nil {
		return nil, fmt.Errorf("error creating GCM: %w", err)
	}
	return aead, nil
}

// Hash produces a one-way verifier for a value, keyed by the master secret.
func (v *Vault) Hash(text string) string {
	h := sha256.New()
	h.Write([]byte(text))
	h.Write(v.masterKey)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// VerifyHash checks a value against a verifier in constant time.
func (v *Vault) VerifyHash(text, hash string) bool {
	computed := v.Hash(text)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

// GenerateAPIKey produces a secure random relay-issued key.
func (v *Vault) GenerateAPIKey() (string, error) {
	randomBytes := make([]byte, 24)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("error generating key material: %w", err)
	}
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 36)
	return fmt.Sprintf("ck_%s_%s", timestamp, base64.RawURLEncoding.EncodeToString(randomBytes)), nil
}

// Mask returns a display-safe form of an API key: a short prefix and
// suffix, never enough to reconstruct the secret.
func Mask(apiKey string) string {
	if len(apiKey) < 12 {
		return "***"
	}
	return apiKey[:8] + "..." + apiKey[len(apiKey)-4:]
}
