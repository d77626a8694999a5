package lsp

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/ssltools/ssl-lsp/internal/macro"
)

// IncludeWatcher watches the header files an open document pulled macros
// from and reports which documents are affected when one changes. Editors
// only send didChange for the focused file, so header edits would
// otherwise go unnoticed until the stamp check on the next keystroke.
type IncludeWatcher struct {
	fw     *fsnotify.Watcher
	logger *slog.Logger

	mu     sync.Mutex
	byFile map[string]map[string]struct{} // header path -> document URIs
	byURI  map[string]map[string]struct{} // document URI -> header paths
}

// NewIncludeWatcher creates a watcher backed by fsnotify.
func NewIncludeWatcher(logger *slog.Logger) (*IncludeWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &IncludeWatcher{
		fw:     fw,
		logger: logger,
		byFile: make(map[string]map[string]struct{}),
		byURI:  make(map[string]map[string]struct{}),
	}, nil
}

// Track replaces the set of header files associated with uri.
func (w *IncludeWatcher) Track(uri string, files []macro.FileStamp) {
	w.mu.Lock()
	defer w.mu.Unlock()

	next := make(map[string]struct{}, len(files))
	for _, f := range files {
		next[f.Path] = struct{}{}
	}

	for path := range w.byURI[uri] {
		if _, still := next[path]; still {
			continue
		}
		w.dropLocked(uri, path)
	}

	for path := range next {
		uris, ok := w.byFile[path]
		if !ok {
			uris = make(map[string]struct{})
			w.byFile[path] = uris
			if err := w.fw.Add(path); err != nil {
				w.logger.Debug("Failed to watch include", "path", path, "error", err)
			}
		}
		uris[uri] = struct{}{}
	}
	w.byURI[uri] = next
}

// Forget removes every watch associated with uri.
func (w *IncludeWatcher) Forget(uri string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for path := range w.byURI[uri] {
		w.dropLocked(uri, path)
	}
	delete(w.byURI, uri)
}

// dropLocked detaches uri from path, removing the OS watch when path has
// no remaining documents.
func (w *IncludeWatcher) dropLocked(uri, path string) {
	uris := w.byFile[path]
	delete(uris, uri)
	if len(uris) == 0 {
		delete(w.byFile, path)
		_ = w.fw.Remove(path)
	}
}

// affected returns the documents that read macros from path.
func (w *IncludeWatcher) affected(path string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	uris := make([]string, 0, len(w.byFile[path]))
	for uri := range w.byFile[path] {
		uris = append(uris, uri)
	}
	return uris
}

// Run delivers change notifications until ctx is done. onChange receives
// the URIs of affected documents.
func (w *IncludeWatcher) Run(ctx context.Context, onChange func(uris []string)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if uris := w.affected(event.Name); len(uris) > 0 {
				onChange(uris)
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Include watcher error", "error", err)
		}
	}
}

// Close releases the underlying fsnotify watcher.
func (w *IncludeWatcher) Close() error {
	return w.fw.Close()
}
