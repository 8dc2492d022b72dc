package graph

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

// fakeGraphStore is an in-memory GraphStore capturing committed resolutions.
type fakeGraphStore struct {
	entities map[string]*types.Entity // by id
	aliases  map[string]string        // lower(kind\x00alias) -> entity id
	commits  []*storage.Resolution

	// failFirstCommit simulates losing an entity-creation race: the first
	// commit returns ErrEntityExists after registering the winner's entity.
	failFirstCommit *types.Entity
}

func newFakeGraphStore() *fakeGraphStore {
	return &fakeGraphStore{
		entities: make(map[string]*types.Entity),
		aliases:  make(map[string]string),
	}
}

func (f *fakeGraphStore) addEntity(e *types.Entity, aliases ...string) {
	f.entities[e.ID] = e
	f.aliases[aliasKey(e.Kind, e.Name)] = e.ID
	for _, a := range aliases {
		f.aliases[aliasKey(e.Kind, a)] = e.ID
	}
}

func aliasKey(kind types.EntityKind, alias string) string {
	return string(kind) + "\x00" + strings.ToLower(alias)
}

func (f *fakeGraphStore) GetEntity(_ context.Context, id string) (*types.Entity, error) {
	if e, ok := f.entities[id]; ok {
		return e, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeGraphStore) GetEntityByName(_ context.Context, name string) (*types.Entity, error) {
	for _, e := range f.entities {
		if strings.EqualFold(e.Name, name) {
			return e, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeGraphStore) LookupEntity(_ context.Context, name string, kind types.EntityKind) (*types.Entity, error) {
	if id, ok := f.aliases[aliasKey(kind, name)]; ok {
		return f.entities[id], nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeGraphStore) LookupFuzzy(_ context.Context, name string, kind types.EntityKind) (*types.Entity, error) {
	lower := strings.ToLower(name)
	for key, id := range f.aliases {
		k, alias, _ := strings.Cut(key, "\x00")
		if k != string(kind) {
			continue
		}
		if strings.HasPrefix(alias, lower+" ") || strings.HasSuffix(alias, " "+lower) ||
			strings.HasPrefix(lower, alias+" ") || strings.HasSuffix(lower, " "+alias) {
			return f.entities[id], nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeGraphStore) MatchQueryEntities(context.Context, string) ([]*types.Entity, error) {
	return nil, nil
}

func (f *fakeGraphStore) ListEntities(context.Context, types.EntityKind, storage.ListOptions) ([]*types.Entity, error) {
	return nil, nil
}

func (f *fakeGraphStore) CommitResolution(_ context.Context, res *storage.Resolution) error {
	if f.failFirstCommit != nil {
		winner := f.failFirstCommit
		f.failFirstCommit = nil
		f.addEntity(winner)
		return storage.ErrEntityExists
	}
	for _, e := range res.NewEntities {
		f.addEntity(e)
	}
	for id, aliases := range res.NewAliases {
		e, ok := f.entities[id]
		if !ok {
			continue
		}
		for _, a := range aliases {
			if _, taken := f.aliases[aliasKey(e.Kind, a)]; !taken {
				f.aliases[aliasKey(e.Kind, a)] = id
			}
		}
	}
	f.commits = append(f.commits, res)
	return nil
}

func (f *fakeGraphStore) GetMentions(context.Context, string) ([]*types.Mention, error) {
	return nil, nil
}

func (f *fakeGraphStore) GetNeighbors(context.Context, string) ([]*types.KnowledgeEdge, error) {
	return nil, nil
}

func (f *fakeGraphStore) GetEdge(context.Context, string, string) (*types.KnowledgeEdge, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeGraphStore) DeleteEntity(_ context.Context, id string) error {
	if _, ok := f.entities[id]; !ok {
		return storage.ErrNotFound
	}
	delete(f.entities, id)
	return nil
}

func testSource() types.SourceRef {
	return types.SourceRef{Type: types.SourceDocument, ID: "doc-1"}
}

func TestResolveCreatesEntitiesAndEdges(t *testing.T) {
	store := newFakeGraphStore()
	r := NewResolver(store, Options{})

	candidates := []types.CandidateMention{
		{Surface: "Clare Johnson", Kind: types.KindPerson, Start: 9, End: 22},
		{Surface: "Acme Corp", Kind: types.KindOrganization, Start: 28, End: 37},
		{Surface: "San Francisco", Kind: types.KindLocation, Start: 41, End: 54},
	}

	mentions, err := r.Resolve(context.Background(), candidates, testSource())
	require.NoError(t, err)
	require.Len(t, mentions, 3)

	require.Len(t, store.commits, 1)
	res := store.commits[0]
	assert.Len(t, res.NewEntities, 3)
	// Three distinct entities in one item co-occur pairwise.
	assert.Len(t, res.EdgePairs, 3)
	for _, pair := range res.EdgePairs {
		assert.Less(t, pair[0], pair[1], "edge pairs must be ordered")
	}

	// Canonical names preserve the surface casing.
	person, err := store.LookupEntity(context.Background(), "clare johnson", types.KindPerson)
	require.NoError(t, err)
	assert.Equal(t, "Clare Johnson", person.Name)
	assert.Equal(t, types.KindPerson, person.Kind)
}

func TestResolveReusesExistingEntity(t *testing.T) {
	store := newFakeGraphStore()
	existing := &types.Entity{
		ID:   types.EntityID("Clare Johnson", types.KindPerson),
		Name: "Clare Johnson",
		Kind: types.KindPerson,
	}
	store.addEntity(existing)

	r := NewResolver(store, Options{})
	mentions, err := r.Resolve(context.Background(), []types.CandidateMention{
		{Surface: "Clare Johnson", Kind: types.KindPerson, Start: 0, End: 13},
	}, testSource())
	require.NoError(t, err)
	require.Len(t, mentions, 1)
	assert.Equal(t, existing.ID, mentions[0].EntityID)
	assert.Empty(t, store.commits[0].NewEntities)
}

func TestResolveMatchesCaseInsensitively(t *testing.T) {
	store := newFakeGraphStore()
	existing := &types.Entity{
		ID:   types.EntityID("Acme Corp", types.KindOrganization),
		Name: "Acme Corp",
		Kind: types.KindOrganization,
	}
	store.addEntity(existing)

	r := NewResolver(store, Options{})
	mentions, err := r.Resolve(context.Background(), []types.CandidateMention{
		{Surface: "ACME CORP", Kind: types.KindOrganization, Start: 0, End: 9},
	}, testSource())
	require.NoError(t, err)
	require.Len(t, mentions, 1)
	assert.Equal(t, existing.ID, mentions[0].EntityID)
}

func TestResolveFuzzyAliasing(t *testing.T) {
	store := newFakeGraphStore()
	existing := &types.Entity{
		ID:   types.EntityID("Clare Johnson", types.KindPerson),
		Name: "Clare Johnson",
		Kind: types.KindPerson,
	}
	store.addEntity(existing)

	r := NewResolver(store, Options{FuzzyAliasing: true})
	mentions, err := r.Resolve(context.Background(), []types.CandidateMention{
		{Surface: "Clare", Kind: types.KindPerson, Start: 0, End: 5},
	}, testSource())
	require.NoError(t, err)
	require.Len(t, mentions, 1)
	assert.Equal(t, existing.ID, mentions[0].EntityID)
	assert.Contains(t, store.commits[0].NewAliases[existing.ID], "Clare")
}

func TestResolveFuzzyDisabledCreatesNew(t *testing.T) {
	store := newFakeGraphStore()
	store.addEntity(&types.Entity{
		ID:   types.EntityID("Clare Johnson", types.KindPerson),
		Name: "Clare Johnson",
		Kind: types.KindPerson,
	})

	r := NewResolver(store, Options{FuzzyAliasing: false})
	mentions, err := r.Resolve(context.Background(), []types.CandidateMention{
		{Surface: "Clare", Kind: types.KindPerson, Start: 0, End: 5},
	}, testSource())
	require.NoError(t, err)
	require.Len(t, mentions, 1)
	assert.NotEqual(t, types.EntityID("Clare Johnson", types.KindPerson), mentions[0].EntityID)
	assert.Len(t, store.commits[0].NewEntities, 1)
}

func TestResolveHyphenatedNameCreatesDistinctEntity(t *testing.T) {
	store := newFakeGraphStore()
	existing := &types.Entity{
		ID:   types.EntityID("Clare Johnson", types.KindPerson),
		Name: "Clare Johnson",
		Kind: types.KindPerson,
	}
	store.addEntity(existing)

	r := NewResolver(store, Options{})
	mentions, err := r.Resolve(context.Background(), []types.CandidateMention{
		{Surface: "Clare-Johnson", Kind: types.KindPerson, Start: 0, End: 13},
	}, testSource())
	require.NoError(t, err)
	require.Len(t, mentions, 1)

	// "Clare-Johnson" is a different name and must not be assigned the
	// existing entity's id.
	assert.NotEqual(t, existing.ID, mentions[0].EntityID)
	require.Len(t, store.commits, 1)
	assert.Len(t, store.commits[0].NewEntities, 1)
	assert.Len(t, store.entities, 2)
}

func TestResolveKindConflictCreatesSeparateEntity(t *testing.T) {
	store := newFakeGraphStore()
	store.addEntity(&types.Entity{
		ID:   types.EntityID("Phoenix", types.KindProject),
		Name: "Phoenix",
		Kind: types.KindProject,
	})

	r := NewResolver(store, Options{})
	mentions, err := r.Resolve(context.Background(), []types.CandidateMention{
		{Surface: "Phoenix", Kind: types.KindLocation, Start: 0, End: 7},
	}, testSource())
	require.NoError(t, err)
	require.Len(t, mentions, 1)
	assert.Equal(t, types.EntityID("Phoenix", types.KindLocation), mentions[0].EntityID)
	// Both kinds now exist independently.
	assert.Len(t, store.entities, 2)
}

func TestResolveRepeatedSurfaceSingleEntity(t *testing.T) {
	store := newFakeGraphStore()
	r := NewResolver(store, Options{})

	mentions, err := r.Resolve(context.Background(), []types.CandidateMention{
		{Surface: "Acme Corp", Kind: types.KindOrganization, Start: 0, End: 9},
		{Surface: "Acme Corp", Kind: types.KindOrganization, Start: 50, End: 59},
	}, testSource())
	require.NoError(t, err)
	require.Len(t, mentions, 2)
	assert.Equal(t, mentions[0].EntityID, mentions[1].EntityID)
	// A single entity never co-occurs with itself.
	assert.Empty(t, store.commits[0].EdgePairs)
	assert.Len(t, store.commits[0].NewEntities, 1)
}

func TestResolveRetriesAfterLostCreationRace(t *testing.T) {
	store := newFakeGraphStore()
	winner := &types.Entity{
		ID:       types.EntityID("Acme Corp", types.KindOrganization),
		Name:     "Acme Corp",
		Kind:     types.KindOrganization,
		LastSeen: time.Now().UTC(),
	}
	store.failFirstCommit = winner

	r := NewResolver(store, Options{})
	mentions, err := r.Resolve(context.Background(), []types.CandidateMention{
		{Surface: "Acme Corp", Kind: types.KindOrganization, Start: 0, End: 9},
	}, testSource())
	require.NoError(t, err)
	require.Len(t, mentions, 1)
	assert.Equal(t, winner.ID, mentions[0].EntityID)
	// The retried commit attaches to the winner instead of re-creating.
	require.Len(t, store.commits, 1)
	assert.Empty(t, store.commits[0].NewEntities)
}

func TestResolveNormalizesSurface(t *testing.T) {
	store := newFakeGraphStore()
	r := NewResolver(store, Options{})

	mentions, err := r.Resolve(context.Background(), []types.CandidateMention{
		{Surface: `"Clare   Johnson,"`, Kind: types.KindPerson, Start: 0, End: 18},
	}, testSource())
	require.NoError(t, err)
	require.Len(t, mentions, 1)

	e, err := store.GetEntity(context.Background(), mentions[0].EntityID)
	require.NoError(t, err)
	assert.Equal(t, "Clare Johnson", e.Name)
}

func TestResolveRejectsMissingSource(t *testing.T) {
	r := NewResolver(newFakeGraphStore(), Options{})
	_, err := r.Resolve(context.Background(), []types.CandidateMention{
		{Surface: "Acme", Kind: types.KindOrganization},
	}, types.SourceRef{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestResolveEmptyCandidates(t *testing.T) {
	store := newFakeGraphStore()
	r := NewResolver(store, Options{})
	mentions, err := r.Resolve(context.Background(), nil, testSource())
	require.NoError(t, err)
	assert.Nil(t, mentions)
	assert.Empty(t, store.commits)
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"  Clare Johnson  ":  "Clare Johnson",
		`"Acme Corp"`:        "Acme Corp",
		"San   Francisco":    "San Francisco",
		"(Project Phoenix).": "Project Phoenix",
		"...":                "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "input %q", in)
	}
}
