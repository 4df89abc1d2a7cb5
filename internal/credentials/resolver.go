package credentials

import (
	"chat-relay/internal/clock"
	"chat-relay/internal/llm"
	"chat-relay/internal/logger"
	"chat-relay/internal/repository/db"
	"chat-relay/internal/vault"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrNoCredential means no usable credential could be resolved for
	// the caller. The message is forwarded to clients verbatim, so it
	// tells the user what to do about it.
	ErrNoCredential = errors.New("no active API key found; please add your Anthropic API key in settings")

	// ErrInvalidCredential means a submitted key was rejected, either
	// by format check or by the provider at validation time.
	ErrInvalidCredential = errors.New("invalid API key")
)

const keyPrefix = "sk-ant-"

// Resolver produces exactly one usable credential per request.
// Priority: explicit request key, then the calling user's stored key,
// otherwise failure.
type Resolver struct {
	db    db.Database
	vault *vault.Vault
	cache *keyCache

	// validate proves a key against the provider before storage;
	// injectable for tests
	validate func(apiKey string) error
}

// NewResolver creates a Resolver with the given cache TTL
func NewResolver(database db.Database, v *vault.Vault, clk clock.Clock, cacheTTL time.Duration) *Resolver {
	return &Resolver{
		db:    database,
		vault: v,
		cache: newKeyCache(cacheTTL, clk),
		validate: func(apiKey string) error {
			return llm.NewClient(apiKey).Validate()
		},
	}
}

// NewResolverWithValidator is NewResolver with the provider validation
// call replaced; used by tests and offline tooling
func NewResolverWithValidator(database db.Database, v *vault.Vault, clk clock.Clock, cacheTTL time.Duration, validate func(apiKey string) error) *Resolver {
	r := NewResolver(database, v, clk, cacheTTL)
	r.validate = validate
	return r
}

// Resolve returns the plaintext credential for one request. An explicit
// key wins and is never persisted; otherwise the authenticated user's
// most-recently-used active stored key is decrypted, its last-used
// timestamp bumped before the key is handed out. A user with stored
// keys but none active gets the newest one auto-activated.
func (r *Resolver) Resolve(userID, explicitKey string) (string, error) {
	if explicitKey != "" {
		if !strings.HasPrefix(explicitKey, keyPrefix) {
			return "", fmt.Errorf("%w: must start with %q", ErrInvalidCredential, keyPrefix)
		}
		logger.Log.WithField("key", vault.Mask(explicitKey)).Debug("Using explicit request credential")
		return explicitKey, nil
	}

	if userID == "" {
		return "", ErrNoCredential
	}

	if key, ok := r.cache.get(userID); ok {
		return key, nil
	}

	cred, err := r.db.GetActiveCredential(userID)
	if errors.Is(err, sql.ErrNoRows) {
		// No active key. If the user still has a usable stored key,
		// the newest one is promoted and used.
		cred, err = r.db.ActivateNewestCredential(userID)
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNoCredential
		}
	}
	if err != nil {
		return "", fmt.Errorf("error looking up credential: %w", err)
	}

	key, err := r.vault.Decrypt(cred.EncryptedKey)
	if err != nil {
		return "", fmt.Errorf("error decrypting credential %s: %w", cred.ID, err)
	}

	if err := r.db.TouchCredential(cred.ID); err != nil {
		return "", fmt.Errorf("error updating credential recency: %w", err)
	}

	r.cache.put(userID, key)

	logger.Log.WithFields(logrus.Fields{"user_id": userID, "key_id": cred.ID}).Debug("Resolved stored credential")

	return key, nil
}

// Add validates a new key against the provider, encrypts it and stores
// it. Invalid keys are rejected before anything touches the store.
func (r *Resolver) Add(userID, apiKey, name string) (*db.Credential, error) {
	if !strings.HasPrefix(apiKey, keyPrefix) {
		return nil, fmt.Errorf("%w: must start with %q", ErrInvalidCredential, keyPrefix)
	}

	if err := r.validate(apiKey); err != nil {
		logger.Log.WithError(err).WithField("user_id", userID).Warn("API key rejected by provider")
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	encryptedKey, err := r.vault.Encrypt(apiKey)
	if err != nil {
		return nil, fmt.Errorf("error encrypting credential: %w", err)
	}

	cred, err := r.db.InsertCredential(userID, name, encryptedKey)
	if err != nil {
		return nil, err
	}

	logger.Log.WithFields(logrus.Fields{
		"user_id": userID,
		"key":     vault.Mask(apiKey),
	}).Info("Stored validated API key")

	// A newly stored key becomes selectable immediately
	r.cache.invalidate(userID)

	return cred, nil
}

// Test proves a candidate key against the provider without storing it
func (r *Resolver) Test(apiKey string) error {
	if !strings.HasPrefix(apiKey, keyPrefix) {
		return fmt.Errorf("%w: must start with %q", ErrInvalidCredential, keyPrefix)
	}
	if err := r.validate(apiKey); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	return nil
}

// Invalidate drops any cached credential for a user. Called when keys
// are updated or deleted so stale plaintext is not served.
func (r *Resolver) Invalidate(userID string) {
	r.cache.invalidate(userID)
}
