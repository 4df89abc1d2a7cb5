package handlers

import (
	"chat-relay/internal/llm"
	"encoding/json"
	"net/http"
)

type ModelsResponse struct {
	Models []llm.ModelInfo `json:"models"`
}

// ModelsHandler returns the static model catalog. No auth required.
func ModelsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ModelsResponse{Models: llm.AvailableModels()})
}
