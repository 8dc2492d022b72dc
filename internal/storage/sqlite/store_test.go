package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func entity(name string, kind types.EntityKind) *types.Entity {
	now := time.Now().UTC()
	return &types.Entity{
		ID:        types.EntityID(name, kind),
		Name:      name,
		Kind:      kind,
		CreatedAt: now,
		LastSeen:  now,
	}
}

func mention(e *types.Entity, ref types.SourceRef, start int) *types.Mention {
	return &types.Mention{
		ID:       uuid.NewString(),
		EntityID: e.ID,
		Source:   ref,
		Surface:  e.Name,
		Start:    start,
		End:      start + len(e.Name),
	}
}

// resolution builds a minimal write set creating the given entities with
// mentions in one source item.
func resolution(ref types.SourceRef, entities ...*types.Entity) *storage.Resolution {
	res := &storage.Resolution{
		Source:     ref,
		NewAliases: make(map[string][]string),
		Timestamp:  time.Now().UTC(),
	}
	for i, e := range entities {
		res.NewEntities = append(res.NewEntities, e)
		res.NewAliases[e.ID] = []string{e.Name}
		res.Mentions = append(res.Mentions, mention(e, ref, i*20))
		res.Touched = append(res.Touched, e.ID)
	}
	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			a, b := types.NormalizePair(entities[i].ID, entities[j].ID)
			res.EdgePairs = append(res.EdgePairs, [2]string{a, b})
		}
	}
	return res
}

func docRef(id string) types.SourceRef {
	return types.SourceRef{Type: types.SourceDocument, ID: id}
}

func TestCommitResolutionCreatesGraph(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	clare := entity("Clare Johnson", types.KindPerson)
	acme := entity("Acme Corp", types.KindOrganization)
	require.NoError(t, store.CommitResolution(ctx, resolution(docRef("d1"), clare, acme)))

	got, err := store.GetEntity(ctx, clare.ID)
	require.NoError(t, err)
	assert.Equal(t, "Clare Johnson", got.Name)
	assert.Equal(t, 1, got.MentionCount)
	assert.Contains(t, got.Aliases, "Clare Johnson")

	edge, err := store.GetEdge(ctx, clare.ID, acme.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, edge.Count)

	// Order-insensitive edge lookup.
	flipped, err := store.GetEdge(ctx, acme.ID, clare.ID)
	require.NoError(t, err)
	assert.Equal(t, edge, flipped)
}

func TestCommitResolutionEntityRace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	clare := entity("Clare Johnson", types.KindPerson)
	require.NoError(t, store.CommitResolution(ctx, resolution(docRef("d1"), clare)))

	// A second resolution trying to create the same (name, kind) loses.
	err := store.CommitResolution(ctx, resolution(docRef("d2"), entity("Clare Johnson", types.KindPerson)))
	assert.ErrorIs(t, err, storage.ErrEntityExists)

	// Case only differs: still the same entity per the uniqueness rule.
	err = store.CommitResolution(ctx, resolution(docRef("d3"), entity("clare johnson", types.KindPerson)))
	assert.ErrorIs(t, err, storage.ErrEntityExists)

	// Same name under a different kind is a distinct entity.
	err = store.CommitResolution(ctx, resolution(docRef("d4"), entity("Clare Johnson", types.KindProject)))
	assert.NoError(t, err)
}

func TestCommitResolutionReplayIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	clare := entity("Clare Johnson", types.KindPerson)
	acme := entity("Acme Corp", types.KindOrganization)
	first := resolution(docRef("d1"), clare, acme)
	require.NoError(t, store.CommitResolution(ctx, first))

	// Replay with the entities already existing: same mentions offsets,
	// same edge pair, same source.
	replay := &storage.Resolution{
		Source:     docRef("d1"),
		NewAliases: map[string][]string{},
		Mentions:   []*types.Mention{mention(clare, docRef("d1"), 0), mention(acme, docRef("d1"), 20)},
		EdgePairs:  first.EdgePairs,
		Touched:    []string{clare.ID, acme.ID},
		Timestamp:  time.Now().UTC(),
	}
	require.NoError(t, store.CommitResolution(ctx, replay))

	edge, err := store.GetEdge(ctx, clare.ID, acme.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, edge.Count, "replayed source item must not double-count")

	mentions, err := store.GetMentions(ctx, clare.ID)
	require.NoError(t, err)
	assert.Len(t, mentions, 1, "replayed mention at the same offset is skipped")
}

func TestCommitResolutionEdgeAccumulatesAcrossSources(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	clare := entity("Clare Johnson", types.KindPerson)
	acme := entity("Acme Corp", types.KindOrganization)
	require.NoError(t, store.CommitResolution(ctx, resolution(docRef("d1"), clare, acme)))

	a, b := types.NormalizePair(clare.ID, acme.ID)
	second := &storage.Resolution{
		Source:     types.SourceRef{Type: types.SourceEvent, ID: "e1"},
		NewAliases: map[string][]string{},
		Mentions:   []*types.Mention{mention(clare, types.SourceRef{Type: types.SourceEvent, ID: "e1"}, 0)},
		EdgePairs:  [][2]string{{a, b}},
		Timestamp:  time.Now().UTC(),
	}
	require.NoError(t, store.CommitResolution(ctx, second))

	edge, err := store.GetEdge(ctx, clare.ID, acme.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, edge.Count)
}

func TestAliasFirstWriterWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	clare := entity("Clare Johnson", types.KindPerson)
	res := resolution(docRef("d1"), clare)
	res.NewAliases[clare.ID] = append(res.NewAliases[clare.ID], "CJ")
	require.NoError(t, store.CommitResolution(ctx, res))

	// Another person claims the same alias later; the original owner keeps it.
	claire := entity("Claire Johansson", types.KindPerson)
	res2 := resolution(docRef("d2"), claire)
	res2.NewAliases[claire.ID] = append(res2.NewAliases[claire.ID], "CJ")
	require.NoError(t, store.CommitResolution(ctx, res2))

	got, err := store.LookupEntity(ctx, "CJ", types.KindPerson)
	require.NoError(t, err)
	assert.Equal(t, clare.ID, got.ID)
}

func TestLookupEntityCaseInsensitive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CommitResolution(ctx,
		resolution(docRef("d1"), entity("Acme Corp", types.KindOrganization))))

	got, err := store.LookupEntity(ctx, "ACME CORP", types.KindOrganization)
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", got.Name, "canonical name keeps its original case")

	_, err = store.LookupEntity(ctx, "Acme Corp", types.KindPerson)
	assert.ErrorIs(t, err, storage.ErrNotFound, "lookup is scoped by kind")
}

func TestLookupFuzzy(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CommitResolution(ctx,
		resolution(docRef("d1"), entity("Clare Johnson", types.KindPerson))))

	got, err := store.LookupFuzzy(ctx, "Clare", types.KindPerson)
	require.NoError(t, err)
	assert.Equal(t, "Clare Johnson", got.Name)

	got, err = store.LookupFuzzy(ctx, "Clare Johnson Smith", types.KindPerson)
	require.NoError(t, err)
	assert.Equal(t, "Clare Johnson", got.Name)

	_, err = store.LookupFuzzy(ctx, "Cl", types.KindPerson)
	assert.ErrorIs(t, err, storage.ErrNotFound, "short names never fuzzy-match")

	_, err = store.LookupFuzzy(ctx, "Johnsonville", types.KindPerson)
	assert.ErrorIs(t, err, storage.ErrNotFound, "containment is word-bounded")
}

func TestMatchQueryEntities(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CommitResolution(ctx, resolution(docRef("d1"),
		entity("Clare Johnson", types.KindPerson),
		entity("Acme Corp", types.KindOrganization))))

	matched, err := store.MatchQueryEntities(ctx, "meeting notes about Clare")
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "Clare Johnson", matched[0].Name)

	matched, err = store.MatchQueryEntities(ctx, "Clare Johnson at Acme")
	require.NoError(t, err)
	assert.Len(t, matched, 2)

	matched, err = store.MatchQueryEntities(ctx, "unrelated budget report")
	require.NoError(t, err)
	assert.Empty(t, matched)
}

func TestDeleteEntityCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	clare := entity("Clare Johnson", types.KindPerson)
	acme := entity("Acme Corp", types.KindOrganization)
	require.NoError(t, store.CommitResolution(ctx, resolution(docRef("d1"), clare, acme)))

	require.NoError(t, store.DeleteEntity(ctx, clare.ID))

	_, err := store.GetEntity(ctx, clare.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetEdge(ctx, clare.ID, acme.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound, "edges cascade with the entity")
	mentions, err := store.GetMentions(ctx, clare.ID)
	require.NoError(t, err)
	assert.Empty(t, mentions, "mentions cascade with the entity")

	// The surviving entity is untouched.
	_, err = store.GetEntity(ctx, acme.ID)
	assert.NoError(t, err)

	assert.ErrorIs(t, store.DeleteEntity(ctx, clare.ID), storage.ErrNotFound)
}

func TestListEntitiesOrdersByMentions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	clare := entity("Clare Johnson", types.KindPerson)
	acme := entity("Acme Corp", types.KindOrganization)
	require.NoError(t, store.CommitResolution(ctx, resolution(docRef("d1"), clare, acme)))

	// A second mention for Acme only.
	ref := docRef("d2")
	require.NoError(t, store.CommitResolution(ctx, &storage.Resolution{
		Source:     ref,
		NewAliases: map[string][]string{},
		Mentions:   []*types.Mention{mention(acme, ref, 0)},
		Timestamp:  time.Now().UTC(),
	}))

	all, err := store.ListEntities(ctx, "", storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, acme.ID, all[0].ID)

	people, err := store.ListEntities(ctx, types.KindPerson, storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, people, 1)
	assert.Equal(t, clare.ID, people[0].ID)
}

func TestSourceItemsCRUDAndSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item := &storage.SourceItem{
		Ref:       docRef("d1"),
		Title:     "Quarterly planning",
		Body:      "Roadmap discussion for the search project.",
		Timestamp: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.PutItem(ctx, item))

	got, err := store.GetItem(ctx, item.Ref)
	require.NoError(t, err)
	assert.Equal(t, item.Title, got.Title)

	// Upsert replaces in place.
	item.Body = "Updated roadmap with budget numbers."
	require.NoError(t, store.PutItem(ctx, item))

	results, err := store.SearchItems(ctx, types.SourceDocument, "budget", types.SearchFilters{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d1", results[0].ID)
	assert.Greater(t, results[0].Score, 0.0)
	assert.LessOrEqual(t, results[0].Score, 1.0)

	// The FTS index follows deletes.
	require.NoError(t, store.DeleteItem(ctx, item.Ref))
	results, err = store.SearchItems(ctx, types.SourceDocument, "budget", types.SearchFilters{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchItemsTimeFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := &storage.SourceItem{
		Ref: docRef("old"), Title: "Budget review",
		Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	recent := &storage.SourceItem{
		Ref: docRef("new"), Title: "Budget review follow-up",
		Timestamp: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.PutItem(ctx, old))
	require.NoError(t, store.PutItem(ctx, recent))

	results, err := store.SearchItems(ctx, types.SourceDocument, "budget", types.SearchFilters{
		From: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new", results[0].ID)
}

func TestSearchItemsSanitizesQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutItem(ctx, &storage.SourceItem{
		Ref: docRef("d1"), Title: "Notes", Body: "quarterly results",
		Timestamp: time.Now(),
	}))

	// FTS5 metacharacters must not produce a syntax error.
	_, err := store.SearchItems(ctx, types.SourceDocument, `"quarterly AND (results*`, types.SearchFilters{})
	assert.NoError(t, err)
}

func TestSuggestTitles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutItem(ctx, &storage.SourceItem{
		Ref: docRef("d1"), Title: "Quarterly planning", Timestamp: time.Now(),
	}))
	require.NoError(t, store.PutItem(ctx, &storage.SourceItem{
		Ref: types.SourceRef{Type: types.SourceReminder, ID: "r1"}, Title: "Quarterly taxes", Timestamp: time.Now(),
	}))

	suggestions, err := store.SuggestTitles(ctx, "quart", 10)
	require.NoError(t, err)
	require.Len(t, suggestions, 1, "suggestions cover documents and projects only")
	assert.Equal(t, "Quarterly planning", suggestions[0].Text)

	suggestions, err = store.SuggestTitles(ctx, "q", 10)
	require.NoError(t, err)
	assert.Empty(t, suggestions, "prefix shorter than 2 chars returns nothing")
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	clare := entity("Clare Johnson", types.KindPerson)
	require.NoError(t, store.CommitResolution(ctx, resolution(docRef("d1"), clare)))

	rec := &types.MemoryRecord{
		ID:        uuid.NewString(),
		Content:   "Clare prefers morning meetings",
		EntityIDs: []string{clare.ID, "ent:person:ghost"},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.StoreMemory(ctx, rec))

	got, err := store.GetMemory(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Content, got.Content)
	// Links to entities that don't exist are silently dropped.
	assert.Equal(t, []string{clare.ID}, got.EntityIDs)

	byEntity, err := store.MemoriesByEntity(ctx, clare.ID)
	require.NoError(t, err)
	require.Len(t, byEntity, 1)

	page, err := store.ListMemories(ctx, storage.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.False(t, page.HasMore)

	require.NoError(t, store.DeleteMemory(ctx, rec.ID))
	_, err = store.GetMemory(ctx, rec.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemoryProviderFTS(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	provider := NewMemoryProvider(store.GetDB())

	rec := &types.MemoryRecord{
		ID:        uuid.NewString(),
		Content:   "Clare prefers morning meetings over afternoon ones",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.StoreMemory(ctx, rec))

	hits, err := provider.Search(ctx, "morning meetings", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, rec.ID, hits[0].ID)
	assert.Less(t, hits[0].RawScore, 0.0, "FTS5 rank is negative")
	assert.Equal(t, storage.ScoreBM25Rank, provider.Scheme())

	hits, err = provider.Search(ctx, "unrelated topic entirely", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
