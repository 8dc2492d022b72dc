// Package graph implements the entity resolver: it deduplicates candidate
// mentions against known entities and maintains the knowledge graph of
// entities, mentions, and co-occurrence edges.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

// ErrEntityConflict records a kind mismatch during resolution: the same
// normalized name already exists under a different kind. The resolver never
// merges across kinds; it creates a separate entity and logs the conflict,
// so this error is observational and never aborts resolution.
var ErrEntityConflict = errors.New("entity kind conflict")

// maxRetries bounds re-resolution after a lost entity-creation race.
const maxRetries = 3

// Options tunes resolver policy.
type Options struct {
	// FuzzyAliasing enables the substring/superset alias heuristic.
	// Exact matching is the baseline; fuzzy attach is a tunable policy.
	FuzzyAliasing bool
}

// Resolver resolves candidate mentions into graph mentions. Resolution for
// one source item is atomic, idempotent, and safe to re-run after a crash.
type Resolver struct {
	store storage.GraphStore
	opts  Options
}

// NewResolver creates a resolver over the given graph store.
func NewResolver(store storage.GraphStore, opts Options) *Resolver {
	return &Resolver{store: store, opts: opts}
}

// Resolve attaches each candidate to an existing or new entity, commits the
// item's mentions and pairwise co-occurrence edges atomically, and returns
// the committed mentions.
//
// Concurrent resolutions that both discover the same new entity race on the
// store's (name, kind) uniqueness constraint; the loser re-resolves against
// the winner's entity and retries.
func (r *Resolver) Resolve(ctx context.Context, candidates []types.CandidateMention, source types.SourceRef) ([]types.Mention, error) {
	if source.ID == "" || !source.Type.Valid() {
		return nil, fmt.Errorf("%w: source ref is required", storage.ErrInvalidInput)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		res, mentions, err := r.buildResolution(ctx, candidates, source)
		if err != nil {
			return nil, err
		}

		err = r.store.CommitResolution(ctx, res)
		if err == nil {
			return mentions, nil
		}
		if !errors.Is(err, storage.ErrEntityExists) {
			return nil, err
		}

		// Lost a creation race: another resolution created one of our new
		// entities first. Re-resolve so lookups now find the winner's row.
		log.Printf("graph: entity creation race on %s, retrying (%d/%d)", source, attempt+1, maxRetries)
		lastErr = err
	}
	return nil, fmt.Errorf("graph: resolution of %s did not converge: %w", source, lastErr)
}

// buildResolution maps candidates onto entities (existing or to-create) and
// assembles the atomic write set.
func (r *Resolver) buildResolution(ctx context.Context, candidates []types.CandidateMention, source types.SourceRef) (*storage.Resolution, []types.Mention, error) {
	now := time.Now().UTC()
	res := &storage.Resolution{
		Source:     source,
		NewAliases: make(map[string][]string),
		Timestamp:  now,
	}

	// itemEntities tracks normalized-name+kind → entity id within this item
	// so a name repeated in one item resolves once.
	itemEntities := make(map[string]string)
	created := make(map[string]*types.Entity)
	var mentions []types.Mention

	addAlias := func(entityID string, aliases ...string) {
		for _, a := range aliases {
			if a == "" {
				continue
			}
			exists := false
			for _, have := range res.NewAliases[entityID] {
				if strings.EqualFold(have, a) {
					exists = true
					break
				}
			}
			if !exists {
				res.NewAliases[entityID] = append(res.NewAliases[entityID], a)
			}
		}
	}

	for _, cand := range candidates {
		normalized := Normalize(cand.Surface)
		if normalized == "" {
			continue
		}
		kind := cand.Kind
		if kind == "" {
			kind = types.KindOther
		}

		key := strings.ToLower(normalized) + "\x00" + string(kind)
		entityID, seen := itemEntities[key]

		if !seen {
			var err error
			entityID, err = r.resolveEntity(ctx, normalized, cand.Surface, kind, now, res, created, addAlias)
			if err != nil {
				return nil, nil, err
			}
			itemEntities[key] = entityID
		} else if _, isNew := created[entityID]; !isNew {
			addAlias(entityID, cand.Surface)
		}

		mentions = append(mentions, types.Mention{
			ID:        uuid.NewString(),
			EntityID:  entityID,
			Source:    source,
			Surface:   cand.Surface,
			Start:     cand.Start,
			End:       cand.End,
			Snippet:   cand.Snippet,
			CreatedAt: now,
		})
	}

	// Touched entities get their last_seen advanced; edges connect every
	// pair of distinct entities resolved from this item.
	ids := make([]string, 0, len(itemEntities))
	for _, id := range itemEntities {
		ids = append(ids, id)
	}
	// Map iteration order is random; sort for a deterministic write set.
	sort.Strings(ids)
	res.Touched = ids

	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := types.NormalizePair(ids[i], ids[j])
			res.EdgePairs = append(res.EdgePairs, [2]string{a, b})
		}
	}

	for i := range mentions {
		res.Mentions = append(res.Mentions, &mentions[i])
	}
	return res, mentions, nil
}

// resolveEntity finds or plans an entity for one normalized candidate name.
func (r *Resolver) resolveEntity(ctx context.Context, normalized, surface string, kind types.EntityKind, now time.Time, res *storage.Resolution, created map[string]*types.Entity, addAlias func(string, ...string)) (string, error) {
	// Exact match on canonical name or alias within the same kind.
	entity, err := r.store.LookupEntity(ctx, normalized, kind)
	if err == nil {
		addAlias(entity.ID, surface)
		return entity.ID, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("graph: lookup %q: %w", normalized, err)
	}

	// Fuzzy match: the name is a whole-word substring or superset of an
	// existing alias of the same kind. Attach as alias instead of creating
	// a near-duplicate entity.
	if r.opts.FuzzyAliasing {
		entity, err = r.store.LookupFuzzy(ctx, normalized, kind)
		if err == nil {
			addAlias(entity.ID, normalized, surface)
			return entity.ID, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("graph: fuzzy lookup %q: %w", normalized, err)
		}
	}

	// Check for a pending creation within this same resolution.
	newID := types.EntityID(normalized, kind)
	if _, ok := created[newID]; ok {
		return newID, nil
	}

	// A same-name entity under a different kind is a kind conflict: never
	// merged, logged for observability, and a separate entity is created.
	if other, err := r.store.GetEntityByName(ctx, normalized); err == nil && other.Kind != kind {
		log.Printf("graph: %v: %q exists as %s, creating separate %s entity",
			ErrEntityConflict, normalized, other.Kind, kind)
	}

	e := &types.Entity{
		ID:        newID,
		Name:      normalized,
		Kind:      kind,
		CreatedAt: now,
		LastSeen:  now,
	}
	created[newID] = e
	res.NewEntities = append(res.NewEntities, e)
	addAlias(newID, normalized, surface)
	return newID, nil
}

// Normalize canonicalizes a surface form for matching: surrounding
// punctuation is trimmed and interior whitespace collapsed. Case is
// preserved for display; matching is case-insensitive at the store level.
func Normalize(surface string) string {
	s := strings.TrimSpace(surface)
	s = strings.Trim(s, `.,;:!?"'()[]{}`)
	return strings.Join(strings.Fields(s), " ")
}
