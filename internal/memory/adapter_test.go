package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

type fakeMemoryStore struct {
	records map[string]*types.MemoryRecord
}

func newFakeMemoryStore() *fakeMemoryStore {
	return &fakeMemoryStore{records: make(map[string]*types.MemoryRecord)}
}

func (f *fakeMemoryStore) StoreMemory(_ context.Context, rec *types.MemoryRecord) error {
	cp := *rec
	f.records[rec.ID] = &cp
	return nil
}

func (f *fakeMemoryStore) GetMemory(_ context.Context, id string) (*types.MemoryRecord, error) {
	if rec, ok := f.records[id]; ok {
		return rec, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeMemoryStore) ListMemories(_ context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.MemoryRecord], error) {
	out := &storage.PaginatedResult[types.MemoryRecord]{Total: len(f.records)}
	for _, rec := range f.records {
		out.Items = append(out.Items, *rec)
	}
	return out, nil
}

func (f *fakeMemoryStore) MemoriesByEntity(_ context.Context, entityID string) ([]*types.MemoryRecord, error) {
	var out []*types.MemoryRecord
	for _, rec := range f.records {
		for _, id := range rec.EntityIDs {
			if id == entityID {
				out = append(out, rec)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeMemoryStore) DeleteMemory(_ context.Context, id string) error {
	if _, ok := f.records[id]; !ok {
		return storage.ErrNotFound
	}
	delete(f.records, id)
	return nil
}

type fakeProvider struct {
	scheme  storage.ScoreScheme
	hits    []storage.MemoryHit
	addErr  error
	findErr error
	removed []string
}

func (f *fakeProvider) AddMemory(_ context.Context, id, _ string, _ map[string]string) (string, error) {
	if f.addErr != nil {
		return "", f.addErr
	}
	return "emb-" + id, nil
}

func (f *fakeProvider) Search(context.Context, string, int) ([]storage.MemoryHit, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.hits, nil
}

func (f *fakeProvider) RemoveMemory(_ context.Context, id string) error {
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeProvider) Scheme() storage.ScoreScheme { return f.scheme }

func TestStorePersistsAndLinksProvider(t *testing.T) {
	store := newFakeMemoryStore()
	adapter := NewAdapter(store, &fakeProvider{})

	rec, err := adapter.Store(context.Background(), "Met with Clare Johnson", []string{"ent:person:clare-johnson"}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "emb-"+rec.ID, rec.EmbeddingID)

	stored, err := store.GetMemory(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.EmbeddingID, stored.EmbeddingID)
}

func TestStoreSurvivesProviderFailure(t *testing.T) {
	store := newFakeMemoryStore()
	adapter := NewAdapter(store, &fakeProvider{addErr: errors.New("backend down")})

	rec, err := adapter.Store(context.Background(), "note to self", nil, nil)
	require.NoError(t, err, "durable record must land even when the provider fails")
	assert.Empty(t, rec.EmbeddingID)

	_, err = store.GetMemory(context.Background(), rec.ID)
	assert.NoError(t, err)
}

func TestStoreRejectsEmptyContent(t *testing.T) {
	adapter := NewAdapter(newFakeMemoryStore(), &fakeProvider{})
	_, err := adapter.Store(context.Background(), "", nil, nil)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestSearchNormalizesScores(t *testing.T) {
	store := newFakeMemoryStore()
	store.records["m1"] = &types.MemoryRecord{ID: "m1", Content: "hello", CreatedAt: time.Now()}
	store.records["m2"] = &types.MemoryRecord{ID: "m2", Content: "world", CreatedAt: time.Now()}

	provider := &fakeProvider{
		scheme: storage.ScoreCosineDistance,
		hits: []storage.MemoryHit{
			{ID: "m1", RawScore: 0},   // identical vectors
			{ID: "m2", RawScore: 0.8}, // distance 0.8 -> similarity 0.6
		},
	}
	adapter := NewAdapter(store, provider)

	items, err := adapter.Search(context.Background(), "hello", types.SearchFilters{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.InDelta(t, 1.0, items[0].Score, 1e-9)
	assert.InDelta(t, 0.6, items[1].Score, 1e-9)
	assert.Equal(t, types.SourceMemory, items[0].Source)
}

func TestSearchSkipsOrphanedHits(t *testing.T) {
	store := newFakeMemoryStore()
	store.records["m1"] = &types.MemoryRecord{ID: "m1", Content: "kept"}

	provider := &fakeProvider{hits: []storage.MemoryHit{
		{ID: "m1", RawScore: 0.9},
		{ID: "deleted", RawScore: 0.8},
	}}
	adapter := NewAdapter(store, provider)

	items, err := adapter.Search(context.Background(), "q", types.SearchFilters{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "m1", items[0].ID)
}

func TestSearchProviderFailure(t *testing.T) {
	adapter := NewAdapter(newFakeMemoryStore(), &fakeProvider{findErr: errors.New("down")})
	_, err := adapter.Search(context.Background(), "q", types.SearchFilters{})
	assert.ErrorIs(t, err, ErrMemoryUnavailable)
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	provider := &fakeProvider{findErr: errors.New("down")}
	adapter := NewAdapter(newFakeMemoryStore(), provider)

	for i := 0; i < 3; i++ {
		_, err := adapter.Search(context.Background(), "q", types.SearchFilters{})
		require.Error(t, err)
	}

	// Breaker is now open: the provider is no longer called.
	provider.findErr = nil
	_, err := adapter.Search(context.Background(), "q", types.SearchFilters{})
	assert.ErrorIs(t, err, ErrMemoryUnavailable)
}

func TestDeleteRemovesRecordAndProviderEntry(t *testing.T) {
	store := newFakeMemoryStore()
	store.records["m1"] = &types.MemoryRecord{ID: "m1", Content: "bye"}
	provider := &fakeProvider{}
	adapter := NewAdapter(store, provider)

	require.NoError(t, adapter.Delete(context.Background(), "m1"))
	assert.Equal(t, []string{"m1"}, provider.removed)

	err := adapter.Delete(context.Background(), "m1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestNormalizeScoreSchemes(t *testing.T) {
	assert.InDelta(t, 0.7, NormalizeScore(0.7, storage.ScoreSimilarity01), 1e-9)
	assert.InDelta(t, 1.0, NormalizeScore(1.7, storage.ScoreSimilarity01), 1e-9, "clamped")
	assert.InDelta(t, 0.0, NormalizeScore(2.0, storage.ScoreCosineDistance), 1e-9, "opposite vectors")
	assert.InDelta(t, 0.5, NormalizeScore(-1.0, storage.ScoreBM25Rank), 1e-9)
	assert.InDelta(t, 0.0, NormalizeScore(0.5, storage.ScoreBM25Rank), 1e-9, "positive rank clamps")
}

func TestTruncateKeepsRunesIntact(t *testing.T) {
	long := strings.Repeat("é", 30)
	got := truncate(long, 20)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("é", 20)+"...", got)

	short := strings.Repeat("é", 10)
	assert.Equal(t, short, truncate(short, 20))
}

func TestTruncateTrimsAtWordBoundary(t *testing.T) {
	got := truncate("alpha beta gamma delta", 20)
	assert.Equal(t, "alpha beta gamma...", got)
}
