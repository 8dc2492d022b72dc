// Package ingest runs the write-side pipeline: persist the record, extract
// candidate entities, resolve them into the knowledge graph, and announce
// the result to subscribers.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/scrypster/recall/internal/extract"
	"github.com/scrypster/recall/internal/graph"
	"github.com/scrypster/recall/internal/memory"
	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

// Event announces one completed ingestion to subscribers (the websocket
// hub, primarily).
type Event struct {
	Type      string          `json:"type"`
	Source    types.SourceRef `json:"source"`
	Title     string          `json:"title,omitempty"`
	EntityIDs []string        `json:"entity_ids,omitempty"`
	Degraded  bool            `json:"degraded,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

const (
	EventItemIngested   = "item.ingested"
	EventMemoryIngested = "memory.ingested"
	EventItemDeleted    = "item.deleted"
)

// Publisher receives ingestion events. Publish must not block.
type Publisher interface {
	Publish(Event)
}

// NopPublisher drops all events.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}

// Result reports what one ingestion produced.
type Result struct {
	Source    types.SourceRef `json:"source"`
	EntityIDs []string        `json:"entity_ids,omitempty"`
	Mentions  int             `json:"mentions"`

	// Degraded is set when entity extraction was unavailable. The record
	// itself is persisted either way.
	Degraded bool `json:"degraded,omitempty"`
}

// Service wires the ingestion pipeline together.
type Service struct {
	sources   storage.SourceStore
	memories  *memory.Adapter
	extractor extract.Extractor
	resolver  *graph.Resolver
	pub       Publisher
}

// NewService creates an ingestion service. pub may be nil.
func NewService(sources storage.SourceStore, memories *memory.Adapter, extractor extract.Extractor, resolver *graph.Resolver, pub Publisher) *Service {
	if pub == nil {
		pub = NopPublisher{}
	}
	return &Service{
		sources:   sources,
		memories:  memories,
		extractor: extractor,
		resolver:  resolver,
		pub:       pub,
	}
}

// SetPublisher swaps the event publisher. Must be called before the service
// starts receiving traffic; a nil pub restores the no-op publisher.
func (s *Service) SetPublisher(pub Publisher) {
	if pub == nil {
		pub = NopPublisher{}
	}
	s.pub = pub
}

// IngestItem persists a source item and links it into the knowledge graph.
// Extraction failure degrades the result but never loses the item;
// re-ingesting later repairs the links because resolution is idempotent.
func (s *Service) IngestItem(ctx context.Context, item *storage.SourceItem) (*Result, error) {
	if err := s.sources.PutItem(ctx, item); err != nil {
		return nil, fmt.Errorf("ingest: persist %s: %w", item.Ref, err)
	}

	text := item.Title
	if item.Body != "" {
		text += "\n\n" + item.Body
	}
	res, err := s.link(ctx, text, item.Ref)
	if err != nil {
		return nil, err
	}

	s.pub.Publish(Event{
		Type:      EventItemIngested,
		Source:    item.Ref,
		Title:     item.Title,
		EntityIDs: res.EntityIDs,
		Degraded:  res.Degraded,
		Timestamp: time.Now().UTC(),
	})
	return res, nil
}

// IngestMemory stores a memory and links it into the knowledge graph. The
// resolved entity ids are written back onto the record so entity-scoped
// memory fetches need no join through mentions.
func (s *Service) IngestMemory(ctx context.Context, content string, metadata map[string]string) (*types.MemoryRecord, *Result, error) {
	rec, err := s.memories.Store(ctx, content, nil, metadata)
	if err != nil {
		return nil, nil, err
	}

	ref := types.SourceRef{Type: types.SourceMemory, ID: rec.ID}
	res, err := s.link(ctx, content, ref)
	if err != nil {
		return nil, nil, err
	}
	if len(res.EntityIDs) > 0 {
		if err := s.memories.LinkEntities(ctx, rec.ID, res.EntityIDs); err != nil {
			return nil, nil, fmt.Errorf("ingest: link entities on %s: %w", ref, err)
		}
		rec.EntityIDs = res.EntityIDs
	}

	s.pub.Publish(Event{
		Type:      EventMemoryIngested,
		Source:    ref,
		EntityIDs: res.EntityIDs,
		Degraded:  res.Degraded,
		Timestamp: time.Now().UTC(),
	})
	return rec, res, nil
}

// DeleteItem removes a source item and announces the deletion. Graph
// mentions referencing the item are kept as historical evidence.
func (s *Service) DeleteItem(ctx context.Context, ref types.SourceRef) error {
	if err := s.sources.DeleteItem(ctx, ref); err != nil {
		return err
	}
	s.pub.Publish(Event{Type: EventItemDeleted, Source: ref, Timestamp: time.Now().UTC()})
	return nil
}

// link extracts and resolves entities for one record.
func (s *Service) link(ctx context.Context, text string, ref types.SourceRef) (*Result, error) {
	res := &Result{Source: ref}

	candidates, err := s.extractor.Extract(ctx, text)
	if err != nil {
		if errors.Is(err, extract.ErrExtractionUnavailable) {
			log.Printf("ingest: extraction unavailable for %s, record kept unlinked: %v", ref, err)
			res.Degraded = true
			return res, nil
		}
		return nil, fmt.Errorf("ingest: extract %s: %w", ref, err)
	}
	if len(candidates) == 0 {
		return res, nil
	}

	mentions, err := s.resolver.Resolve(ctx, candidates, ref)
	if err != nil {
		return nil, fmt.Errorf("ingest: resolve %s: %w", ref, err)
	}
	res.Mentions = len(mentions)

	seen := make(map[string]bool, len(mentions))
	for _, m := range mentions {
		if !seen[m.EntityID] {
			seen[m.EntityID] = true
			res.EntityIDs = append(res.EntityIDs, m.EntityID)
		}
	}
	sort.Strings(res.EntityIDs)
	return res, nil
}
