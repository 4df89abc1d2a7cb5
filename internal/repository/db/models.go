package db

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User represents a registered account
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// VerifyPassword checks a candidate password against the stored hash
func (u *User) VerifyPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// Credential is a stored, encrypted upstream API key owned by one user.
// The plaintext key never appears here.
type Credential struct {
	ID           string
	UserID       string
	Name         string
	EncryptedKey string
	IsActive     bool
	ExpiresAt    *time.Time
	LastUsedAt   *time.Time
	CreatedAt    time.Time
}

// Artifact is a structured side-output extracted from a completed
// assistant message, persisted per conversation.
type Artifact struct {
	ID             string
	ConversationID string
	Name           string
	Type           string
	MimeType       string
	Content        string
	FileExtension  string
	CreatedAt      time.Time
}

// Database is the persistence contract the relay depends on.
// Conversations and messages live in an external store and are not
// managed here; only users, credentials and artifacts are.
type Database interface {
	// User methods
	GetUserByUsername(username string) (*User, error)
	GetUserByID(id string) (*User, error)
	CreateUser(username, email, password string) (*User, error)

	// Credential methods
	GetActiveCredential(userID string) (*Credential, error)
	ActivateNewestCredential(userID string) (*Credential, error)
	ListCredentials(userID string) ([]Credential, error)
	InsertCredential(userID, name, encryptedKey string) (*Credential, error)
	UpdateCredential(id, userID string, name *string, isActive *bool) (*Credential, error)
	TouchCredential(id string) error
	DeleteCredential(id, userID string) error

	// Artifact methods
	InsertArtifact(conversationID, name, artifactType, mimeType, content, fileExtension string) (*Artifact, error)
}
