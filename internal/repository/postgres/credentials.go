package postgres

import (
	"chat-relay/internal/logger"
	"chat-relay/internal/repository/db"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// GetActiveCredential returns the most-recently-used active, non-expired
// credential for a user, or sql.ErrNoRows if there is none.
func (p *PostgresDB) GetActiveCredential(userID string) (*db.Credential, error) {
	var cred db.Credential
	query := `
	SELECT id, user_id, name, encrypted_key, is_active, expires_at, last_used_at, created_at
	FROM api_keys
	WHERE user_id = $1
	  AND is_active = true
	  AND (expires_at IS NULL OR expires_at > CURRENT_TIMESTAMP)
	ORDER BY last_used_at DESC NULLS LAST, created_at DESC
	LIMIT 1
	`

	err := p.conn.QueryRow(query, userID).Scan(
		&cred.ID, &cred.UserID, &cred.Name, &cred.EncryptedKey,
		&cred.IsActive, &cred.ExpiresAt, &cred.LastUsedAt, &cred.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("error retrieving credential: %w", err)
	}

	return &cred, nil
}

// ActivateNewestCredential flips the user's most recently created
// non-expired credential to active and returns it, or sql.ErrNoRows if
// the user has no usable credential at all. Keeps the store converging
// on a single active key per user.
func (p *PostgresDB) ActivateNewestCredential(userID string) (*db.Credential, error) {
	var cred db.Credential
	query := `
	UPDATE api_keys
	SET is_active = true, updated_at = CURRENT_TIMESTAMP
	WHERE id = (
		SELECT id FROM api_keys
		WHERE user_id = $1
		  AND (expires_at IS NULL OR expires_at > CURRENT_TIMESTAMP)
		ORDER BY created_at DESC
		LIMIT 1
	)
	RETURNING id, user_id, name, encrypted_key, is_active, expires_at, last_used_at, created_at
	`

	err := p.conn.QueryRow(query, userID).Scan(
		&cred.ID, &cred.UserID, &cred.Name, &cred.EncryptedKey,
		&cred.IsActive, &cred.ExpiresAt, &cred.LastUsedAt, &cred.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("error activating credential: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{"user_id": userID, "key_id": cred.ID}).Info("Auto-activated newest API key")

	return &cred, nil
}

// ListCredentials returns all credentials for a user, newest first.
// Encrypted key material is included; callers must never expose it.
func (p *PostgresDB) ListCredentials(userID string) ([]db.Credential, error) {
	query := `
	SELECT id, user_id, name, encrypted_key, is_active, expires_at, last_used_at, created_at
	FROM api_keys
	WHERE user_id = $1
	ORDER BY created_at DESC
	`

	rows, err := p.conn.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing credentials: %w", err)
	}
	defer rows.Close()

	var creds []db.Credential
	for rows.Next() {
		var cred db.Credential
		if err := rows.Scan(
			&cred.ID, &cred.UserID, &cred.Name, &cred.EncryptedKey,
			&cred.IsActive, &cred.ExpiresAt, &cred.LastUsedAt, &cred.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning credential: %w", err)
		}
		creds = append(creds, cred)
	}

	return creds, rows.Err()
}

// InsertCredential stores a new encrypted credential and makes it the
// user's single active key
func (p *PostgresDB) InsertCredential(userID, name, encryptedKey string) (*db.Credential, error) {
	cred := db.Credential{
		ID:           uuid.New().String(),
		UserID:       userID,
		Name:         name,
		EncryptedKey: encryptedKey,
		IsActive:     true,
	}

	tx, err := p.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE api_keys SET is_active = false WHERE user_id = $1 AND is_active = true`, userID); err != nil {
		return nil, fmt.Errorf("error deactivating previous credentials: %w", err)
	}

	query := `
	INSERT INTO api_keys (id, user_id, name, encrypted_key, is_active)
	VALUES ($1, $2, $3, $4, true)
	RETURNING id, created_at
	`

	if err := tx.QueryRow(query, cred.ID, userID, name, encryptedKey).Scan(&cred.ID, &cred.CreatedAt); err != nil {
		return nil, fmt.Errorf("error inserting credential: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing credential insert: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{"user_id": userID, "key_id": cred.ID}).Info("Stored new API key")

	return &cred, nil
}

// UpdateCredential updates name and/or active flag, scoped to the
// owner. Activating a key deactivates the user's other keys so at most
// one stays active.
func (p *PostgresDB) UpdateCredential(id, userID string, name *string, isActive *bool) (*db.Credential, error) {
	tx, err := p.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	if isActive != nil && *isActive {
		if _, err := tx.Exec(`UPDATE api_keys SET is_active = false WHERE user_id = $1 AND id <> $2 AND is_active = true`, userID, id); err != nil {
			return nil, fmt.Errorf("error deactivating previous credentials: %w", err)
		}
	}

	var cred db.Credential
	query := `
	UPDATE api_keys
	SET name = COALESCE($1, name),
	    is_active = COALESCE($2, is_active),
	    updated_at = CURRENT_TIMESTAMP
	WHERE id = $3 AND user_id = $4
	RETURNING id, user_id, name, encrypted_key, is_active, expires_at, last_used_at, created_at
	`

	err = tx.QueryRow(query, name, isActive, id, userID).Scan(
		&cred.ID, &cred.UserID, &cred.Name, &cred.EncryptedKey,
		&cred.IsActive, &cred.ExpiresAt, &cred.LastUsedAt, &cred.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("error updating credential: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing credential update: %w", err)
	}

	return &cred, nil
}

// TouchCredential bumps the last-used timestamp
func (p *PostgresDB) TouchCredential(id string) error {
	_, err := p.conn.Exec(`UPDATE api_keys SET last_used_at = CURRENT_TIMESTAMP WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error updating last used: %w", err)
	}
	return nil
}

// DeleteCredential removes a credential, scoped to the owner
func (p *PostgresDB) DeleteCredential(id, userID string) error {
	result, err := p.conn.Exec(`DELETE FROM api_keys WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("error deleting credential: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error checking delete result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}
