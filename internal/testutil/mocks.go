package testutil

import (
	"chat-relay/internal/repository/db"
	"database/sql"
	"errors"
)

// MockDatabase is a mock implementation of db.Database for testing
type MockDatabase struct {
	// User mocks
	GetUserByUsernameFunc func(username string) (*db.User, error)
	GetUserByIDFunc       func(id string) (*db.User, error)
	CreateUserFunc        func(username, email, password string) (*db.User, error)

	// Credential mocks
	GetActiveCredentialFunc      func(userID string) (*db.Credential, error)
	ActivateNewestCredentialFunc func(userID string) (*db.Credential, error)
	ListCredentialsFunc          func(userID string) ([]db.Credential, error)
	InsertCredentialFunc         func(userID, name, encryptedKey string) (*db.Credential, error)
	UpdateCredentialFunc         func(id, userID string, name *string, isActive *bool) (*db.Credential, error)
	TouchCredentialFunc          func(id string) error
	DeleteCredentialFunc         func(id, userID string) error

	// Artifact mocks
	InsertArtifactFunc func(conversationID, name, artifactType, mimeType, content, fileExtension string) (*db.Artifact, error)
}

var _ db.Database = (*MockDatabase)(nil)

// User methods
func (m *MockDatabase) GetUserByUsername(username string) (*db.User, error) {
	if m.GetUserByUsernameFunc != nil {
		return m.GetUserByUsernameFunc(username)
	}
	return nil, errors.New("not implemented")
}

func (m *MockDatabase) GetUserByID(id string) (*db.User, error) {
	if m.GetUserByIDFunc != nil {
		return m.GetUserByIDFunc(id)
	}
	return nil, errors.New("not implemented")
}

func (m *MockDatabase) CreateUser(username, email, password string) (*db.User, error) {
	if m.CreateUserFunc != nil {
		return m.CreateUserFunc(username, email, password)
	}
	return nil, errors.New("not implemented")
}

// Credential methods
func (m *MockDatabase) GetActiveCredential(userID string) (*db.Credential, error) {
	if m.GetActiveCredentialFunc != nil {
		return m.GetActiveCredentialFunc(userID)
	}
	return nil, errors.New("not implemented")
}

// ActivateNewestCredential defaults to an empty store
func (m *MockDatabase) ActivateNewestCredential(userID string) (*db.Credential, error) {
	if m.ActivateNewestCredentialFunc != nil {
		return m.ActivateNewestCredentialFunc(userID)
	}
	return nil, sql.ErrNoRows
}

func (m *MockDatabase) ListCredentials(userID string) ([]db.Credential, error) {
	if m.ListCredentialsFunc != nil {
		return m.ListCredentialsFunc(userID)
	}
	return nil, errors.New("not implemented")
}

func (m *MockDatabase) InsertCredential(userID, name, encryptedKey string) (*db.Credential, error) {
	if m.InsertCredentialFunc != nil {
		return m.InsertCredentialFunc(userID, name, encryptedKey)
	}
	return nil, errors.New("not implemented")
}

func (m *MockDatabase) UpdateCredential(id, userID string, name *string, isActive *bool) (*db.Credential, error) {
	if m.UpdateCredentialFunc != nil {
		return m.UpdateCredentialFunc(id, userID, name, isActive)
	}
	return nil, errors.New("not implemented")
}

func (m *MockDatabase) TouchCredential(id string) error {
	if m.TouchCredentialFunc != nil {
		return m.TouchCredentialFunc(id)
	}
	return nil
}

func (m *MockDatabase) DeleteCredential(id, userID string) error {
	if m.DeleteCredentialFunc != nil {
		return m.DeleteCredentialFunc(id, userID)
	}
	return errors.New("not implemented")
}

// Artifact methods
func (m *MockDatabase) InsertArtifact(conversationID, name, artifactType, mimeType, content, fileExtension string) (*db.Artifact, error) {
	if m.InsertArtifactFunc != nil {
		return m.InsertArtifactFunc(conversationID, name, artifactType, mimeType, content, fileExtension)
	}
	return nil, errors.New("not implemented")
}
