package notify

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/internal/extract"
	"github.com/scrypster/recall/internal/graph"
	"github.com/scrypster/recall/internal/importer"
	"github.com/scrypster/recall/internal/ingest"
	"github.com/scrypster/recall/internal/memory"
	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/internal/storage/sqlite"
	"github.com/scrypster/recall/pkg/types"
)

func newTestWatcher(t *testing.T, dir string) (*InboxWatcher, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc := ingest.NewService(
		store,
		memory.NewAdapter(store, sqlite.NewMemoryProvider(store.GetDB())),
		extract.NewHeuristicExtractor(),
		graph.NewResolver(store, graph.Options{}),
		ingest.NopPublisher{},
	)
	return NewInboxWatcher(dir, importer.NewImporter(svc)), store
}

func TestInboxWatcherDrainsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	iw, store := newTestWatcher(t, dir)

	path := filepath.Join(dir, "dropped-note.md")
	require.NoError(t, os.WriteFile(path, []byte("# Dropped Note\n\nSome content."), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignore.txt"), []byte("nope"), 0o600))

	require.NoError(t, iw.Start())
	defer iw.Stop()

	items, err := store.ListItems(context.Background(), types.SourceDocument, storage.ListOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Dropped Note", items[0].Title)

	// Consumed files leave the inbox.
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestInboxWatcherCreatesInboxDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "inbox")
	iw, _ := newTestWatcher(t, dir)

	require.NoError(t, iw.Start())
	iw.Stop()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
