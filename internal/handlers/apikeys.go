package handlers

import (
	"chat-relay/internal/auth"
	"chat-relay/internal/credentials"
	"chat-relay/internal/logger"
	"chat-relay/internal/repository/db"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

type AddKeyRequest struct {
	APIKey string `json:"apiKey"`
	Name   string `json:"name,omitempty"`
}

type UpdateKeyRequest struct {
	Name     *string `json:"name,omitempty"`
	IsActive *bool   `json:"isActive,omitempty"`
}

type TestKeyRequest struct {
	APIKey string `json:"apiKey"`
}

// KeyInfo is the client-facing view of a stored credential. It carries
// metadata only; neither the plaintext nor the encrypted key is ever
// serialized.
type KeyInfo struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	IsActive   bool       `json:"isActive"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

type KeyMutationResponse struct {
	KeyInfo
	Message string `json:"message"`
}

type TestKeyResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// APIKeyHandlers is the authenticated REST surface for managing stored
// credentials.
type APIKeyHandlers struct {
	store    db.Database
	resolver *credentials.Resolver
}

func NewAPIKeyHandlers(store db.Database, resolver *credentials.Resolver) *APIKeyHandlers {
	return &APIKeyHandlers{
		store:    store,
		resolver: resolver,
	}
}

// sendError sends a standardized JSON error response
func (ah *APIKeyHandlers) sendError(w http.ResponseWriter, status int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	errResp := ErrorResponse{
		Code:    status,
		Message: message,
	}
	if err != nil {
		errResp.Error = err.Error()
	}
	json.NewEncoder(w).Encode(errResp)
}

func (ah *APIKeyHandlers) sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func keyInfo(cred *db.Credential) KeyInfo {
	return KeyInfo{
		ID:         cred.ID,
		Name:       cred.Name,
		IsActive:   cred.IsActive,
		CreatedAt:  cred.CreatedAt,
		LastUsedAt: cred.LastUsedAt,
		ExpiresAt:  cred.ExpiresAt,
	}
}

// AddKeyHandler validates a submitted key against the provider, then
// encrypts and stores it for the authenticated user
func (ah *APIKeyHandlers) AddKeyHandler(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req AddKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ah.sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.APIKey == "" {
		ah.sendError(w, http.StatusBadRequest, "API key is required", nil)
		return
	}
	if req.Name == "" {
		req.Name = "My API Key"
	}

	cred, err := ah.resolver.Add(userID, req.APIKey, req.Name)
	if err != nil {
		if errors.Is(err, credentials.ErrInvalidCredential) {
			ah.sendError(w, http.StatusBadRequest, "Invalid API key. Please check your key and try again.", err)
			return
		}
		logger.Log.WithError(err).WithField("user_id", userID).Error("Failed to store API key")
		ah.sendError(w, http.StatusInternalServerError, "Failed to add API key", err)
		return
	}

	ah.sendJSON(w, KeyMutationResponse{
		KeyInfo: keyInfo(cred),
		Message: "API key added successfully",
	})
}

// ListKeysHandler returns all of the user's stored keys as metadata
func (ah *APIKeyHandlers) ListKeysHandler(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	creds, err := ah.store.ListCredentials(userID)
	if err != nil {
		logger.Log.WithError(err).WithField("user_id", userID).Error("Failed to list API keys")
		ah.sendError(w, http.StatusInternalServerError, "Failed to fetch API keys", err)
		return
	}

	infos := make([]KeyInfo, 0, len(creds))
	for i := range creds {
		infos = append(infos, keyInfo(&creds[i]))
	}

	ah.sendJSON(w, infos)
}

// UpdateKeyHandler changes a key's name or active flag, scoped to the
// owning user
func (ah *APIKeyHandlers) UpdateKeyHandler(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	keyID := r.PathValue("id")

	var req UpdateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ah.sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	cred, err := ah.store.UpdateCredential(keyID, userID, req.Name, req.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			ah.sendError(w, http.StatusNotFound, "API key not found", nil)
			return
		}
		logger.Log.WithError(err).WithField("key_id", keyID).Error("Failed to update API key")
		ah.sendError(w, http.StatusInternalServerError, "Failed to update API key", err)
		return
	}

	// Deactivating or renaming may change which key future turns select
	ah.resolver.Invalidate(userID)

	ah.sendJSON(w, KeyMutationResponse{
		KeyInfo: keyInfo(cred),
		Message: "API key updated successfully",
	})
}

// DeleteKeyHandler removes a key, scoped to the owning user
func (ah *APIKeyHandlers) DeleteKeyHandler(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	keyID := r.PathValue("id")

	if err := ah.store.DeleteCredential(keyID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			ah.sendError(w, http.StatusNotFound, "API key not found", nil)
			return
		}
		logger.Log.WithError(err).WithField("key_id", keyID).Error("Failed to delete API key")
		ah.sendError(w, http.StatusInternalServerError, "Failed to delete API key", err)
		return
	}

	ah.resolver.Invalidate(userID)

	ah.sendJSON(w, map[string]string{"message": "API key deleted successfully"})
}

// TestKeyHandler validates a candidate key against the provider without
// storing it
func (ah *APIKeyHandlers) TestKeyHandler(w http.ResponseWriter, r *http.Request) {
	var req TestKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ah.sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.APIKey == "" {
		ah.sendError(w, http.StatusBadRequest, "API key is required", nil)
		return
	}

	if err := ah.resolver.Test(req.APIKey); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(TestKeyResponse{
			Valid: false,
			Error: "Invalid API key or API error",
		})
		return
	}

	ah.sendJSON(w, TestKeyResponse{
		Valid:   true,
		Message: "API key is valid",
	})
}
