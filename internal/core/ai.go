package core

import (
	"context"

	"github.com/pagemark-io/pagemark/internal/models"
)

type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// LLMProvider abstracts the generation backend. StreamChat invokes onDelta
// for every incremental text piece as it arrives and returns the full
// concatenated reply; providers normalize whatever part/union shapes their
// SDK returns into plain strings before deltas leave this boundary.
type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
	StreamChat(ctx context.Context, systemPrompt string, history []models.ChatMessage, onDelta func(delta string) error) (string, error)
}
