// Package search implements the unified search aggregator: concurrent
// fan-out across source adapters, deterministic merge and ranking, and
// entity-aware boosting backed by the knowledge graph.
package search

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/scrypster/recall/internal/memory"
	"github.com/scrypster/recall/pkg/types"
)

// ErrSearchFailed is returned only when every dispatched source failed.
// Partial failure produces a degraded response, not an error.
var ErrSearchFailed = errors.New("all search sources failed")

const (
	// DefaultSourceTimeout bounds each adapter's slice of a search.
	DefaultSourceTimeout = 4 * time.Second

	// entityBoost is added to a result's score when it is linked to an
	// entity detected in the query text.
	entityBoost = 0.25

	// foldInScore is the base score for entity-linked records folded into
	// the response without a text match of their own.
	foldInScore = 0.5
)

// Adapter is one searchable source domain.
type Adapter interface {
	// Type reports the source domain the adapter serves.
	Type() types.SourceType

	// Search returns scored results for the query, scores in [0,1].
	Search(ctx context.Context, query string, filters types.SearchFilters) ([]types.ScoredItem, error)

	// Fetch loads one record by id as an unscored result, for entity
	// fold-in. Returns storage.ErrNotFound on miss.
	Fetch(ctx context.Context, id string) (*types.ScoredItem, error)
}

// EntityMatcher is the slice of the graph store the aggregator needs for
// query-time entity detection and fold-in.
type EntityMatcher interface {
	MatchQueryEntities(ctx context.Context, query string) ([]*types.Entity, error)
	GetMentions(ctx context.Context, entityID string) ([]*types.Mention, error)
}

// Options tunes aggregator behavior.
type Options struct {
	// SourceTimeout bounds each adapter call. Zero means DefaultSourceTimeout.
	SourceTimeout time.Duration

	// Metrics records search telemetry. Nil disables recording.
	Metrics *Metrics
}

// Aggregator fans a query out to every registered adapter concurrently and
// merges the results into one deterministically ordered response.
type Aggregator struct {
	adapters map[types.SourceType]Adapter
	order    []types.SourceType
	graph    EntityMatcher
	timeout  time.Duration
	metrics  *Metrics
}

// NewAggregator builds an aggregator over the given adapters. Registering
// two adapters for the same source type is a programming error.
func NewAggregator(graph EntityMatcher, opts Options, adapters ...Adapter) (*Aggregator, error) {
	a := &Aggregator{
		adapters: make(map[types.SourceType]Adapter, len(adapters)),
		graph:    graph,
		timeout:  opts.SourceTimeout,
		metrics:  opts.Metrics,
	}
	if a.timeout <= 0 {
		a.timeout = DefaultSourceTimeout
	}
	for _, ad := range adapters {
		st := ad.Type()
		if !st.Valid() {
			return nil, fmt.Errorf("search: unknown source type %q", st)
		}
		if _, dup := a.adapters[st]; dup {
			return nil, fmt.Errorf("search: duplicate adapter for %q", st)
		}
		a.adapters[st] = ad
	}
	// Dispatch and status maps iterate in fixed priority order.
	for _, st := range types.AllSourceTypes {
		if _, ok := a.adapters[st]; ok {
			a.order = append(a.order, st)
		}
	}
	return a, nil
}

type sourceResult struct {
	st    types.SourceType
	items []types.ScoredItem
	err   error
}

// Search runs one unified search. Every wanted adapter gets its own
// goroutine and timeout; a slow or failing source degrades the response
// instead of sinking it. Identical queries against unchanged data return
// byte-identical result order.
func (a *Aggregator) Search(ctx context.Context, query string, filters types.SearchFilters) (*types.SearchResponse, error) {
	started := time.Now()
	query = strings.TrimSpace(query)
	if query == "" && filters.EntityID == "" {
		return nil, fmt.Errorf("%w: query text or entity filter is required", types.ErrInvalidQuery)
	}
	if err := filters.Validate(); err != nil {
		return nil, err
	}

	var wanted []types.SourceType
	for _, st := range a.order {
		if filters.Wants(st) {
			wanted = append(wanted, st)
		}
	}
	if len(wanted) == 0 {
		return nil, fmt.Errorf("%w: no registered source matches the filter", types.ErrInvalidQuery)
	}

	// Query-time entity detection runs alongside the fan-out.
	entityCh := make(chan []*types.Entity, 1)
	go func() {
		matched, err := a.graph.MatchQueryEntities(ctx, query)
		if err != nil {
			log.Printf("search: entity detection failed for %q: %v", query, err)
		}
		entityCh <- matched
	}()

	results := make(chan sourceResult, len(wanted))
	var wg sync.WaitGroup
	for _, st := range wanted {
		wg.Add(1)
		go func(st types.SourceType, ad Adapter) {
			defer wg.Done()
			sctx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()

			items, err := ad.Search(sctx, query, filters)
			if err == nil && sctx.Err() != nil {
				err = sctx.Err()
			}
			results <- sourceResult{st: st, items: items, err: err}
		}(st, a.adapters[st])
	}
	wg.Wait()
	close(results)

	resp := &types.SearchResponse{
		Query:   query,
		Sources: make(map[types.SourceType]types.SourceStatus, len(wanted)),
	}

	// Dedupe by (source, id); a record appears once with its best score.
	merged := make(map[types.SourceRef]*types.ScoredItem)
	failures := 0
	for res := range results {
		if res.err != nil {
			log.Printf("search: source %s failed for %q: %v", res.st, query, res.err)
			a.metrics.SourceFailure(res.st)
			// A source that never answered (timeout, backend down) is
			// unavailable; one that answered with an error is degraded.
			if errors.Is(res.err, context.DeadlineExceeded) ||
				errors.Is(res.err, memory.ErrMemoryUnavailable) {
				resp.Sources[res.st] = types.StatusUnavailable
			} else {
				resp.Sources[res.st] = types.StatusDegraded
			}
			failures++
			continue
		}
		resp.Sources[res.st] = types.StatusOK
		for i := range res.items {
			it := res.items[i]
			ref := types.SourceRef{Type: it.Source, ID: it.ID}
			if have, ok := merged[ref]; !ok || it.Score > have.Score {
				merged[ref] = &it
			}
		}
	}
	if failures == len(wanted) {
		a.metrics.Search(time.Since(started), 0, true)
		return nil, fmt.Errorf("%w: %d sources dispatched", ErrSearchFailed, len(wanted))
	}

	matched := <-entityCh
	a.applyEntities(ctx, matched, merged, filters, resp)

	resp.Results = rank(merged, filters.Limit)
	a.metrics.Search(time.Since(started), len(resp.Results), resp.Degraded())
	return resp, nil
}

// applyEntities boosts results linked to query entities and folds in
// entity-linked records the text search missed.
func (a *Aggregator) applyEntities(ctx context.Context, matched []*types.Entity, merged map[types.SourceRef]*types.ScoredItem, filters types.SearchFilters, resp *types.SearchResponse) {
	if len(matched) == 0 {
		return
	}

	matchedIDs := make(map[string]bool, len(matched))
	for _, e := range matched {
		matchedIDs[e.ID] = true
		resp.MatchedEntities = append(resp.MatchedEntities, e.ID)
	}
	sort.Strings(resp.MatchedEntities)

	// linked maps each record mentioning a matched entity to those entities.
	linked := make(map[types.SourceRef][]string)
	for _, e := range matched {
		mentions, err := a.graph.GetMentions(ctx, e.ID)
		if err != nil {
			log.Printf("search: mentions for %s: %v", e.ID, err)
			continue
		}
		for _, m := range mentions {
			refIDs := linked[m.Source]
			if len(refIDs) == 0 || refIDs[len(refIDs)-1] != e.ID {
				linked[m.Source] = append(refIDs, e.ID)
			}
		}
	}

	for ref, entityIDs := range linked {
		if it, ok := merged[ref]; ok {
			it.Score = clamp01(it.Score + entityBoost)
			it.EntityIDs = mergeEntityIDs(it.EntityIDs, entityIDs)
			continue
		}
		// Fold-in: entity-linked record with no text match of its own.
		if !filters.Wants(ref.Type) {
			continue
		}
		if filters.EntityID != "" && !containsID(entityIDs, filters.EntityID) {
			continue
		}
		ad, ok := a.adapters[ref.Type]
		if !ok {
			continue
		}
		it, err := ad.Fetch(ctx, ref.ID)
		if err != nil {
			continue
		}
		if !filters.From.IsZero() && it.Timestamp.Before(filters.From) {
			continue
		}
		if !filters.To.IsZero() && it.Timestamp.After(filters.To) {
			continue
		}
		it.Score = foldInScore
		it.EntityIDs = mergeEntityIDs(it.EntityIDs, entityIDs)
		merged[ref] = it
	}

	// Memory records carry their entity links inline; boost those too even
	// when no mention row exists for them.
	for ref, it := range merged {
		if len(it.EntityIDs) == 0 || linkedContains(linked, ref) {
			continue
		}
		for _, id := range it.EntityIDs {
			if matchedIDs[id] {
				it.Score = clamp01(it.Score + entityBoost)
				break
			}
		}
	}
}

func linkedContains(linked map[types.SourceRef][]string, ref types.SourceRef) bool {
	_, ok := linked[ref]
	return ok
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// rank orders merged results: score descending, then source priority, then
// recency, then id. The final id tie-break makes ordering total.
func rank(merged map[types.SourceRef]*types.ScoredItem, limit int) []types.ScoredItem {
	out := make([]types.ScoredItem, 0, len(merged))
	for _, it := range merged {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if pa, pb := a.Source.Priority(), b.Source.Priority(); pa != pb {
			return pa < pb
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func mergeEntityIDs(have, add []string) []string {
	seen := make(map[string]bool, len(have)+len(add))
	merged := make([]string, 0, len(have)+len(add))
	for _, id := range have {
		if !seen[id] {
			seen[id] = true
			merged = append(merged, id)
		}
	}
	for _, id := range add {
		if !seen[id] {
			seen[id] = true
			merged = append(merged, id)
		}
	}
	sort.Strings(merged)
	return merged
}

func clamp01(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
