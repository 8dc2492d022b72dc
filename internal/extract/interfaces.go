// Package extract turns raw text into candidate entity mentions. Two
// extractors are provided: a deterministic heuristic extractor (the default,
// no external dependencies) and an LLM-backed extractor using Ollama with
// strict JSON prompts. Both are pure with respect to the knowledge graph:
// they never mutate it.
package extract

import (
	"context"
	"errors"
	"time"

	"github.com/scrypster/recall/pkg/types"
)

// ErrExtractionUnavailable is returned when the extraction backend is down
// or its circuit breaker is open. Ingestion callers degrade to "no entities
// extracted" instead of aborting the owning write.
var ErrExtractionUnavailable = errors.New("extraction backend unavailable")

// Extractor is the extraction provider capability.
// Identical text yields the same candidate set across calls to the same
// provider version.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]types.CandidateMention, error)
}

// Config selects and configures the extraction provider.
type Config struct {
	// Provider is "heuristic" (default) or "ollama".
	Provider string

	// BaseURL is the Ollama API URL (default: http://localhost:11434).
	BaseURL string

	// Model is the Ollama model for extraction (default: qwen2.5:7b).
	Model string

	// EmbeddingModel is the Ollama model for embeddings
	// (default: nomic-embed-text).
	EmbeddingModel string

	// Timeout bounds each provider request (default: 10s).
	Timeout time.Duration
}

// NewExtractor builds the configured extractor. Unknown providers fall back
// to the heuristic extractor.
func NewExtractor(cfg Config) Extractor {
	switch cfg.Provider {
	case "ollama":
		return NewOllamaExtractor(cfg)
	default:
		return NewHeuristicExtractor()
	}
}
