// Package embedding provides text embedding providers (OpenAI, Ollama, ONNX, mock) and an LRU cache.
package embedding

import (
	"context"
	"fmt"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// CheckDimensions returns an error unless emb has exactly want components.
func CheckDimensions(emb []float32, want int) error {
	if len(emb) != want {
		return fmt.Errorf("embedding has %d dimensions, want %d", len(emb), want)
	}
	return nil
}

// embedEach implements EmbedBatch for providers without a batch API.
func embedEach(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}
