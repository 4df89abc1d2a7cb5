package postgres

import (
	"chat-relay/internal/logger"
	"chat-relay/internal/repository/db"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// InsertArtifact stores one extracted artifact for a conversation
func (p *PostgresDB) InsertArtifact(conversationID, name, artifactType, mimeType, content, fileExtension string) (*db.Artifact, error) {
	artifact := db.Artifact{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Name:           name,
		Type:           artifactType,
		MimeType:       mimeType,
		Content:        content,
		FileExtension:  fileExtension,
	}

	query := `
	INSERT INTO artifacts (id, conversation_id, name, type, mime_type, content, file_extension)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id, created_at
	`

	err := p.conn.QueryRow(query,
		artifact.ID, conversationID, name, artifactType, mimeType, content, fileExtension,
	).Scan(&artifact.ID, &artifact.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("error inserting artifact: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"artifact_id":     artifact.ID,
		"type":            artifactType,
	}).Info("Stored artifact")

	return &artifact, nil
}
