// Package sources exposes the non-memory source domains (documents,
// projects, calendar events, reminders) as search adapters over the shared
// source store.
package sources

import (
	"context"
	"fmt"

	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

// Adapter serves unified search for one source domain. All four domains
// share the same store; the adapter scopes every call to its own type.
type Adapter struct {
	st    types.SourceType
	store storage.SourceStore
}

// NewDocuments returns the document source adapter.
func NewDocuments(store storage.SourceStore) *Adapter {
	return &Adapter{st: types.SourceDocument, store: store}
}

// NewProjects returns the project source adapter.
func NewProjects(store storage.SourceStore) *Adapter {
	return &Adapter{st: types.SourceProject, store: store}
}

// NewCalendar returns the calendar event source adapter.
func NewCalendar(store storage.SourceStore) *Adapter {
	return &Adapter{st: types.SourceEvent, store: store}
}

// NewReminders returns the reminder source adapter.
func NewReminders(store storage.SourceStore) *Adapter {
	return &Adapter{st: types.SourceReminder, store: store}
}

// Type reports the source domain this adapter serves.
func (a *Adapter) Type() types.SourceType { return a.st }

// Search performs full-text search within the adapter's domain. Scores come
// back normalized to [0,1] from the store.
func (a *Adapter) Search(ctx context.Context, query string, filters types.SearchFilters) ([]types.ScoredItem, error) {
	return a.store.SearchItems(ctx, a.st, query, filters)
}

// Fetch loads one item by id as an unscored result, used when entity-linked
// records are folded into a search that did not match them by text.
func (a *Adapter) Fetch(ctx context.Context, id string) (*types.ScoredItem, error) {
	item, err := a.store.GetItem(ctx, types.SourceRef{Type: a.st, ID: id})
	if err != nil {
		return nil, err
	}
	return &types.ScoredItem{
		Source:    a.st,
		ID:        item.Ref.ID,
		Title:     item.Title,
		Snippet:   snippet(item.Body),
		Timestamp: item.Timestamp,
	}, nil
}

// Put validates and upserts an item into the adapter's domain.
func (a *Adapter) Put(ctx context.Context, item *storage.SourceItem) error {
	if item == nil {
		return storage.ErrInvalidInput
	}
	if item.Ref.Type == "" {
		item.Ref.Type = a.st
	}
	if item.Ref.Type != a.st {
		return fmt.Errorf("%w: %s adapter cannot store %s items",
			storage.ErrInvalidInput, a.st, item.Ref.Type)
	}
	return a.store.PutItem(ctx, item)
}

// Get loads one item from the adapter's domain.
func (a *Adapter) Get(ctx context.Context, id string) (*storage.SourceItem, error) {
	return a.store.GetItem(ctx, types.SourceRef{Type: a.st, ID: id})
}

// Delete removes one item from the adapter's domain.
func (a *Adapter) Delete(ctx context.Context, id string) error {
	return a.store.DeleteItem(ctx, types.SourceRef{Type: a.st, ID: id})
}

// List returns the domain's items, newest first.
func (a *Adapter) List(ctx context.Context, opts storage.ListOptions) ([]*storage.SourceItem, error) {
	return a.store.ListItems(ctx, a.st, opts)
}

func snippet(body string) string {
	const max = 200
	if len(body) <= max {
		return body
	}
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	return string(runes[:max]) + "..."
}
