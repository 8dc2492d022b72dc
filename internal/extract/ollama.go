package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/scrypster/recall/pkg/types"
)

// OllamaExtractor extracts candidate mentions with a local Ollama model.
// All HTTP calls are wrapped with circuit breaker protection; any transport
// failure or open circuit surfaces as ErrExtractionUnavailable so ingestion
// can degrade instead of aborting.
type OllamaExtractor struct {
	baseURL        string
	model          string
	embeddingModel string
	timeout        time.Duration
	client         *http.Client
	circuitBreaker *CircuitBreaker
}

var _ Extractor = (*OllamaExtractor)(nil)

// generateRequest is the request body for /api/generate.
type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// generateResponse is the reply from /api/generate.
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// embedRequest is the request body for /api/embed.
type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embedResponse is the reply from /api/embed. The embeddings field is a 2D
// array; the first row is the embedding for the single input.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaExtractor creates an Ollama-backed extractor with defaults for
// any unset configuration values.
func NewOllamaExtractor(cfg Config) *OllamaExtractor {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "qwen2.5:7b"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "nomic-embed-text"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &OllamaExtractor{
		baseURL:        cfg.BaseURL,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		timeout:        cfg.Timeout,
		client:         &http.Client{Timeout: cfg.Timeout},
		circuitBreaker: NewCircuitBreaker(),
	}
}

// Extract sends the extraction prompt and anchors the reply to the text.
func (o *OllamaExtractor) Extract(ctx context.Context, text string) ([]types.CandidateMention, error) {
	result, err := o.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return o.generate(ctx, entityExtractionPrompt(text))
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("%w: circuit breaker open", ErrExtractionUnavailable)
		}
		return nil, fmt.Errorf("%w: %v", ErrExtractionUnavailable, err)
	}

	candidates, err := parseCandidates(result.(string), text)
	if err != nil {
		// A malformed reply is a provider fault, not a caller fault.
		return nil, fmt.Errorf("%w: %v", ErrExtractionUnavailable, err)
	}
	return candidates, nil
}

// Embed generates a vector embedding for text using the embedding model.
// It satisfies postgres.EmbedFunc for the pgvector memory provider.
func (o *OllamaExtractor) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := o.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return o.embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return result.([]float32), nil
}

func (o *OllamaExtractor) generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{
		Model:  o.model,
		Prompt: prompt,
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	respBody, err := o.post(ctx, "/api/generate", body)
	if err != nil {
		return "", err
	}

	var resp generateResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("unmarshal generate response: %w", err)
	}
	return resp.Response, nil
}

func (o *OllamaExtractor) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	body, err := json.Marshal(embedRequest{
		Model: o.embeddingModel,
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	respBody, err := o.post(ctx, "/api/embed", body)
	if err != nil {
		return nil, err
	}

	var resp embedResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal embed response: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("embed response contained no embeddings")
	}
	return resp.Embeddings[0], nil
}

func (o *OllamaExtractor) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return respBody, nil
}
