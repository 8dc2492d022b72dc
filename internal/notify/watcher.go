// Package notify watches the import inbox directory and feeds dropped
// Markdown files into the ingestion pipeline. Files are consumed: once
// imported they are removed from the inbox.
package notify

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/scrypster/recall/internal/importer"
)

// InboxWatcher watches an inbox directory for Markdown drops.
type InboxWatcher struct {
	dir      string
	importer *importer.Importer
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewInboxWatcher creates a watcher over the given inbox directory.
func NewInboxWatcher(dir string, imp *importer.Importer) *InboxWatcher {
	return &InboxWatcher{
		dir:      dir,
		importer: imp,
		done:     make(chan struct{}),
	}
}

// Start begins watching. It drains any files already sitting in the inbox
// first, then watches for new ones. Call Stop() to clean up.
func (iw *InboxWatcher) Start() error {
	if err := os.MkdirAll(iw.dir, 0o700); err != nil {
		return err
	}

	iw.drainExisting()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(iw.dir); err != nil {
		_ = w.Close()
		return err
	}
	iw.watcher = w

	go iw.loop()
	log.Printf("notify: watching %s for markdown drops", iw.dir)
	return nil
}

// Stop shuts down the watcher.
func (iw *InboxWatcher) Stop() {
	if iw.watcher != nil {
		_ = iw.watcher.Close()
	}
	<-iw.done
}

func (iw *InboxWatcher) loop() {
	defer close(iw.done)
	for {
		select {
		case evt, ok := <-iw.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Create|fsnotify.Write) != 0 && isMarkdown(evt.Name) {
				iw.processFile(evt.Name)
			}
		case err, ok := <-iw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("notify: watcher error: %v", err)
		}
	}
}

func (iw *InboxWatcher) drainExisting() {
	entries, err := os.ReadDir(iw.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && isMarkdown(entry.Name()) {
			iw.processFile(filepath.Join(iw.dir, entry.Name()))
		}
	}
}

func (iw *InboxWatcher) processFile(path string) {
	if _, err := os.Stat(path); err != nil {
		return // already consumed
	}

	res, err := iw.importer.ImportFile(context.Background(), path, iw.dir)
	if err != nil {
		log.Printf("notify: import failed for %s: %v", filepath.Base(path), err)
		return
	}

	if err := os.Remove(path); err != nil {
		log.Printf("notify: could not remove %s after import: %v", filepath.Base(path), err)
	}
	log.Printf("notify: imported %s (%d entities)", filepath.Base(path), len(res.EntityIDs))
}

func isMarkdown(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return true
	}
	return false
}
