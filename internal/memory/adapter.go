// Package memory adapts the external memory provider (embeddings or FTS)
// and the durable memory store into one source the search aggregator and
// ingestion pipeline can use.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

// ErrMemoryUnavailable indicates the memory backend could not serve the
// request. Search degrades, ingestion still persists the durable record.
var ErrMemoryUnavailable = errors.New("memory backend unavailable")

// Adapter composes the durable memory store with the external provider.
// Provider calls run behind a circuit breaker so a failing backend cannot
// stall every search.
type Adapter struct {
	store    storage.MemoryStore
	provider storage.MemoryProvider
	breaker  *gobreaker.CircuitBreaker
}

// NewAdapter creates a memory adapter over the given store and provider.
func NewAdapter(store storage.MemoryStore, provider storage.MemoryProvider) *Adapter {
	settings := gobreaker.Settings{
		Name:    "memory-provider",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("memory: circuit breaker %s: %s -> %s", name, from, to)
		},
	}
	return &Adapter{
		store:    store,
		provider: provider,
		breaker:  gobreaker.NewCircuitBreaker(settings),
	}
}

// Store persists a memory record and registers it with the provider. The
// durable record always lands first; a provider failure leaves EmbeddingID
// empty and is reported so callers can decide whether to surface it.
func (a *Adapter) Store(ctx context.Context, content string, entityIDs []string, metadata map[string]string) (*types.MemoryRecord, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}

	rec := &types.MemoryRecord{
		ID:        uuid.NewString(),
		Content:   content,
		EntityIDs: entityIDs,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.StoreMemory(ctx, rec); err != nil {
		return nil, fmt.Errorf("memory: store record: %w", err)
	}

	embID, err := a.execute(ctx, func() (string, error) {
		return a.provider.AddMemory(ctx, rec.ID, content, metadata)
	})
	if err != nil {
		log.Printf("memory: provider add failed for %s: %v", rec.ID, err)
		return rec, nil
	}
	if embID != "" && embID != rec.EmbeddingID {
		rec.EmbeddingID = embID
		if err := a.store.StoreMemory(ctx, rec); err != nil {
			return nil, fmt.Errorf("memory: update embedding ref: %w", err)
		}
	}
	return rec, nil
}

// Type reports the source domain this adapter serves.
func (a *Adapter) Type() types.SourceType { return types.SourceMemory }

// Fetch loads one memory by id as an unscored result, used when
// entity-linked records are folded into a search that did not match them.
func (a *Adapter) Fetch(ctx context.Context, id string) (*types.ScoredItem, error) {
	rec, err := a.store.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	return &types.ScoredItem{
		Source:    types.SourceMemory,
		ID:        rec.ID,
		Title:     titleOf(rec.Content),
		Snippet:   snippetOf(rec.Content),
		EntityIDs: rec.EntityIDs,
		Timestamp: rec.CreatedAt,
	}, nil
}

// Search queries the provider and returns scored items with normalized
// scores in [0,1]. Returns ErrMemoryUnavailable when the provider fails or
// the breaker is open.
func (a *Adapter) Search(ctx context.Context, query string, filters types.SearchFilters) ([]types.ScoredItem, error) {
	if err := filters.Validate(); err != nil {
		return nil, err
	}
	hits, err := a.executeHits(ctx, func() ([]storage.MemoryHit, error) {
		return a.provider.Search(ctx, query, filters.Limit)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMemoryUnavailable, err)
	}

	scheme := a.provider.Scheme()
	items := make([]types.ScoredItem, 0, len(hits))
	for _, hit := range hits {
		rec, err := a.store.GetMemory(ctx, hit.ID)
		if errors.Is(err, storage.ErrNotFound) {
			// Provider index can lag deletes; skip orphaned hits.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("memory: load record %s: %w", hit.ID, err)
		}
		if !matchesFilters(rec, filters) {
			continue
		}
		items = append(items, types.ScoredItem{
			Source:    types.SourceMemory,
			ID:        rec.ID,
			Title:     titleOf(rec.Content),
			Snippet:   snippetOf(rec.Content),
			Score:     NormalizeScore(hit.RawScore, scheme),
			EntityIDs: rec.EntityIDs,
			Timestamp: rec.CreatedAt,
		})
	}
	return items, nil
}

// matchesFilters applies time and entity filters the provider cannot apply
// itself.
func matchesFilters(rec *types.MemoryRecord, filters types.SearchFilters) bool {
	if !filters.From.IsZero() && rec.CreatedAt.Before(filters.From) {
		return false
	}
	if !filters.To.IsZero() && rec.CreatedAt.After(filters.To) {
		return false
	}
	if filters.EntityID != "" {
		found := false
		for _, id := range rec.EntityIDs {
			if id == filters.EntityID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ByEntity returns all memories linked to the entity, newest first. Scores
// are left zero; callers apply their own base score when folding these in.
func (a *Adapter) ByEntity(ctx context.Context, entityID string) ([]types.ScoredItem, error) {
	recs, err := a.store.MemoriesByEntity(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("memory: by entity %s: %w", entityID, err)
	}
	items := make([]types.ScoredItem, 0, len(recs))
	for _, rec := range recs {
		items = append(items, types.ScoredItem{
			Source:    types.SourceMemory,
			ID:        rec.ID,
			Title:     titleOf(rec.Content),
			Snippet:   snippetOf(rec.Content),
			EntityIDs: rec.EntityIDs,
			Timestamp: rec.CreatedAt,
		})
	}
	return items, nil
}

// LinkEntities replaces the record's entity links after resolution.
func (a *Adapter) LinkEntities(ctx context.Context, id string, entityIDs []string) error {
	rec, err := a.store.GetMemory(ctx, id)
	if err != nil {
		return err
	}
	rec.EntityIDs = entityIDs
	return a.store.StoreMemory(ctx, rec)
}

// Get returns the durable record by id.
func (a *Adapter) Get(ctx context.Context, id string) (*types.MemoryRecord, error) {
	return a.store.GetMemory(ctx, id)
}

// List returns durable records, newest first.
func (a *Adapter) List(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.MemoryRecord], error) {
	return a.store.ListMemories(ctx, opts)
}

// Delete removes the durable record and the provider-side entry. The
// provider delete is best-effort; orphaned index entries are filtered at
// search time.
func (a *Adapter) Delete(ctx context.Context, id string) error {
	if err := a.store.DeleteMemory(ctx, id); err != nil {
		return err
	}
	if err := a.provider.RemoveMemory(ctx, id); err != nil {
		log.Printf("memory: provider remove failed for %s: %v", id, err)
	}
	return nil
}

func (a *Adapter) execute(ctx context.Context, fn func() (string, error)) (string, error) {
	out, err := a.breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return "", mapBreakerErr(err)
	}
	return out.(string), nil
}

func (a *Adapter) executeHits(ctx context.Context, fn func() ([]storage.MemoryHit, error)) ([]storage.MemoryHit, error) {
	out, err := a.breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return nil, mapBreakerErr(err)
	}
	return out.([]storage.MemoryHit), nil
}

func mapBreakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrMemoryUnavailable
	}
	return err
}

// NormalizeScore maps a provider raw score into [0,1], higher is better.
func NormalizeScore(raw float64, scheme storage.ScoreScheme) float64 {
	var s float64
	switch scheme {
	case storage.ScoreCosineDistance:
		s = 1 - raw/2
	case storage.ScoreBM25Rank:
		x := -raw
		if x < 0 {
			x = 0
		}
		s = x / (1 + x)
	default:
		s = raw
	}
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// titleOf derives a display title from memory content: the first line,
// truncated on a word boundary.
func titleOf(content string) string {
	line := content
	for i, r := range content {
		if r == '\n' {
			line = content[:i]
			break
		}
	}
	return truncate(line, 80)
}

func snippetOf(content string) string {
	return truncate(content, 200)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	cut := string(runes[:max])
	if i := lastSpace(cut); i > len(cut)/2 {
		cut = cut[:i]
	}
	return cut + "..."
}

func lastSpace(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ' ' {
			return i
		}
	}
	return -1
}
