package lsp

import (
	"strings"
	"sync"

	"github.com/ssltools/ssl-lsp/internal/macro"
	"github.com/ssltools/ssl-lsp/internal/scan"
	"github.com/ssltools/ssl-lsp/internal/sslc"
)

// Document represents an open text document in the editor, together with
// the analysis results of its current text. A Document handed out by the
// store is an immutable snapshot: every change and every re-analysis
// publishes a new value, so a reader on another goroutine never observes
// a half-written document.
type Document struct {
	URI     string // Document URI (file:///path/to/file.ssl)
	Path    string // Filesystem path derived from the URI
	Content string // Full document content
	Version int    // Version number, incremented on each change
	Lines   []int  // Byte offsets of line starts for fast position lookups

	Macros *macro.MacroSet
	Parse  *sslc.ParseResult
}

// DocumentStore manages open documents in memory.
type DocumentStore struct {
	mu        sync.RWMutex
	documents map[string]*Document
}

// NewDocumentStore creates a new document store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		documents: make(map[string]*Document),
	}
}

// Open adds or replaces a document in the store.
func (s *DocumentStore) Open(uri string, content string, version int) *Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := &Document{
		URI:     uri,
		Path:    URIToPath(uri),
		Content: content,
		Version: version,
		Lines:   computeLineOffsets(content),
	}
	s.documents[uri] = doc
	return doc
}

// Close removes a document from the store.
func (s *DocumentStore) Close(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.documents, uri)
}

// Get retrieves a document by URI.
func (s *DocumentStore) Get(uri string) *Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.documents[uri]
}

// Update replaces the document for uri with a new snapshot carrying the
// new content. Stale analysis results are carried over until the next
// SetResults so features keep working mid-typing.
func (s *DocumentStore) Update(uri string, content string, version int) *Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.documents[uri]
	if !ok {
		return nil
	}
	doc := &Document{
		URI:     old.URI,
		Path:    old.Path,
		Content: content,
		Version: version,
		Lines:   computeLineOffsets(content),
		Macros:  old.Macros,
		Parse:   old.Parse,
	}
	s.documents[uri] = doc
	return doc
}

// SetResults publishes analysis results computed against the given
// document version, replacing the stored snapshot wholesale. Results for
// a superseded version are dropped. A nil parse keeps the previous one.
// Reports whether the results were applied.
func (s *DocumentStore) SetResults(uri string, version int, macros *macro.MacroSet, parse *sslc.ParseResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.documents[uri]
	if !ok || old.Version != version {
		return false
	}
	doc := &Document{
		URI:     old.URI,
		Path:    old.Path,
		Content: old.Content,
		Version: old.Version,
		Lines:   old.Lines,
		Macros:  macros,
		Parse:   old.Parse,
	}
	if parse != nil {
		doc.Parse = parse
	}
	s.documents[uri] = doc
	return true
}

// List returns all open document URIs.
func (s *DocumentStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uris := make([]string, 0, len(s.documents))
	for uri := range s.documents {
		uris = append(uris, uri)
	}
	return uris
}

// computeLineOffsets calculates byte offsets for each line start.
func computeLineOffsets(content string) []int {
	offsets := []int{0} // First line starts at offset 0

	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			offsets = append(offsets, i+1)
		}
	}

	return offsets
}

// PositionToOffset converts a Position to a byte offset in the document.
func (d *Document) PositionToOffset(pos Position) int {
	if d == nil || len(d.Lines) == 0 {
		return 0
	}

	line := int(pos.Line)
	if line >= len(d.Lines) {
		return len(d.Content)
	}

	offset := d.Lines[line] + int(pos.Character)
	if offset > len(d.Content) {
		return len(d.Content)
	}

	return offset
}

// OffsetToPosition converts a byte offset to a Position.
func (d *Document) OffsetToPosition(offset int) Position {
	if d == nil || len(d.Lines) == 0 {
		return Position{}
	}

	if offset < 0 {
		offset = 0
	}
	if offset > len(d.Content) {
		offset = len(d.Content)
	}

	line := 0
	for i, lineOffset := range d.Lines {
		if lineOffset > offset {
			break
		}
		line = i
	}

	character := offset - d.Lines[line]
	return Position{
		Line:      uint32(line),
		Character: uint32(character),
	}
}

// GetLine returns the content of a specific line.
func (d *Document) GetLine(line int) string {
	if d == nil || line < 0 || line >= len(d.Lines) {
		return ""
	}

	start := d.Lines[line]
	end := len(d.Content)

	if line+1 < len(d.Lines) {
		end = d.Lines[line+1] - 1 // Exclude newline
		if end < start {
			end = start
		}
	}

	return d.Content[start:end]
}

// GetWordAtPosition returns the word at the given position and its range.
func (d *Document) GetWordAtPosition(pos Position) (string, Range) {
	offset := d.PositionToOffset(pos)
	if offset > len(d.Content) {
		return "", Range{Start: pos, End: pos}
	}

	start := offset
	for start > 0 && scan.IsIdentChar(d.Content[start-1]) {
		start--
	}

	end := offset
	for end < len(d.Content) && scan.IsIdentChar(d.Content[end]) {
		end++
	}

	if start == end {
		return "", Range{Start: pos, End: pos}
	}

	return d.Content[start:end], Range{
		Start: d.OffsetToPosition(start),
		End:   d.OffsetToPosition(end),
	}
}

// URIToPath converts a file:// URI to a file system path.
func URIToPath(uri string) string {
	const prefix = "file://"
	if strings.HasPrefix(uri, prefix) {
		return uri[len(prefix):]
	}
	return uri
}

// PathToURI converts a file system path to a file:// URI.
func PathToURI(path string) string {
	if strings.HasPrefix(path, "file://") {
		return path
	}
	return "file://" + path
}
