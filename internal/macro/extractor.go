package macro

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ssltools/ssl-lsp/internal/fspath"
)

const (
	// DefaultMaxIncludeFiles bounds how many files one extraction pass may
	// read. The visited set already stops cycles; this additionally bounds
	// worst-case latency on pathological include graphs.
	DefaultMaxIncludeFiles = 256

	// DefaultMaxFileSize caps how large an included file may be.
	DefaultMaxFileSize = 1 << 20
)

// guardSuffix is the naming convention for include guards (SFALL_H,
// DEFINE_H, ...). Empty-body macros with this suffix are dropped.
const guardSuffix = "_H"

// Extractor builds MacroSets from document text. Extract is the
// cache-aware entry point; it never fails on malformed input and degrades
// by skipping unparseable lines.
type Extractor struct {
	Logger          *slog.Logger
	MaxIncludeFiles int
	MaxFileSize     int64
}

// NewExtractor returns an Extractor with default limits.
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Extractor{
		Logger:          logger,
		MaxIncludeFiles: DefaultMaxIncludeFiles,
		MaxFileSize:     DefaultMaxFileSize,
	}
}

// scanState carries per-extraction state: the set under construction, the
// cycle-stopping visited set, and whether includes are followed at all.
type scanState struct {
	set       *MacroSet
	follow    bool
	visited   map[string]struct{}
	fileCount int
}

// Extract builds the macro set for document text with includes resolved
// against includeDir. When previous is supplied, its include signature
// matches, and every file it read is unchanged on disk, the header macros
// are carried over and only the document text is re-scanned. Any mismatch
// (including a deleted header) falls back to a full re-extraction.
func (e *Extractor) Extract(text, includeDir string, previous *MacroSet) *MacroSet {
	set := NewMacroSet(IncludeSignature(text))

	if previous != nil && previous.IncludeSignature == set.IncludeSignature && stampsValid(previous.Files) {
		for _, m := range previous.byName {
			if m.SourceFile != "" {
				set.cloneInto(m)
			}
		}
		set.Files = append([]FileStamp(nil), previous.Files...)

		st := &scanState{set: set}
		e.scanText(st, text, "", includeDir)
		return set
	}

	st := &scanState{
		set:     set,
		follow:  true,
		visited: make(map[string]struct{}),
	}
	e.scanText(st, text, "", includeDir)
	return set
}

// stampsValid reports whether every recorded file still exists with the
// same modification time.
func stampsValid(stamps []FileStamp) bool {
	for _, st := range stamps {
		fi, err := os.Stat(st.Path)
		if err != nil || !fi.ModTime().Equal(st.ModTime) {
			return false
		}
	}
	return true
}

// scanText walks text line by line. sourceFile is empty for the entry
// document; dir is the directory include paths resolve against.
func (e *Extractor) scanText(st *scanState, text, sourceFile, dir string) {
	lines := strings.Split(text, "\n")

	var docBuf []string
	var condStack []bool
	pendingGuard := ""

	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(strings.TrimSuffix(lines[i], "\r"))

		switch {
		case strings.HasPrefix(trimmed, "//"):
			docBuf = append(docBuf, strings.TrimSpace(trimmed[2:]))

		case isDirective(trimmed, "#include"):
			docBuf = nil
			if st.follow {
				e.followInclude(st, trimmed, dir)
			}

		case isDirective(trimmed, "#ifdef"), isDirective(trimmed, "#if"):
			docBuf = nil
			condStack = append(condStack, false)

		case isDirective(trimmed, "#ifndef"):
			docBuf = nil
			condStack = append(condStack, false)
			pendingGuard = leadingIdent(strings.TrimLeft(trimmed[len("#ifndef"):], " \t"))

		case isDirective(trimmed, "#else"), isDirective(trimmed, "#elif"):
			docBuf = nil
			if len(condStack) > 0 {
				condStack[len(condStack)-1] = true
			}

		case isDirective(trimmed, "#endif"):
			docBuf = nil
			if len(condStack) > 0 {
				condStack = condStack[:len(condStack)-1]
			}

		case isDirective(trimmed, "#define"):
			m, consumed := parseDefine(lines, i, trimmed)
			declaredAt := i + 1
			i += consumed

			if m == nil {
				// Malformed definition: skip the line, extraction continues.
				docBuf, pendingGuard = nil, ""
				continue
			}

			// First-seen branch wins: a definition inside an else/elif
			// branch of the innermost conditional is not recorded.
			inElse := len(condStack) > 0 && condStack[len(condStack)-1]

			isGuard := m.Body == "" && m.Params == nil &&
				(m.Name == pendingGuard || strings.HasSuffix(m.Name, guardSuffix))

			if !inElse && !isGuard {
				m.SourceFile = sourceFile
				m.DeclaredLine = declaredAt
				if len(docBuf) > 0 {
					m.DocComment = strings.Join(docBuf, "\n")
				}
				st.set.insert(m)
			}
			docBuf, pendingGuard = nil, ""

		default:
			// Doc comments must sit immediately above the macro they
			// describe; anything else breaks the run.
			docBuf = nil
		}
	}
}

// followInclude resolves one #include line and recursively scans the
// target file, recording its modification time. Every failure is a no-op
// at debug severity: a missing header simply contributes no macros.
func (e *Extractor) followInclude(st *scanState, trimmed, dir string) {
	raw, ok := parseIncludePath(trimmed)
	if !ok {
		return
	}

	resolved, ok := fspath.Resolve(dir, raw)
	if !ok {
		e.Logger.Debug("include not found", "include", raw, "dir", dir)
		return
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return
	}

	if _, seen := st.visited[abs]; seen {
		return
	}
	st.visited[abs] = struct{}{}

	if st.fileCount >= e.MaxIncludeFiles {
		e.Logger.Debug("include budget exhausted", "include", raw, "limit", e.MaxIncludeFiles)
		return
	}

	fi, err := os.Stat(abs)
	if err != nil || fi.IsDir() {
		e.Logger.Debug("include unreadable", "path", abs)
		return
	}
	if fi.Size() > e.MaxFileSize {
		e.Logger.Debug("include too large", "path", abs, "size", fi.Size())
		return
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		e.Logger.Debug("include unreadable", "path", abs, "error", err)
		return
	}

	st.fileCount++
	st.set.Files = append(st.set.Files, FileStamp{Path: abs, ModTime: fi.ModTime()})

	e.scanText(st, string(data), abs, filepath.Dir(abs))
}

// isDirective reports whether line is exactly the directive or the
// directive followed by whitespace. "#defineFOO" is not a directive.
func isDirective(line, directive string) bool {
	if !strings.HasPrefix(line, directive) {
		return false
	}
	if len(line) == len(directive) {
		return true
	}
	c := line[len(directive)]
	return c == ' ' || c == '\t'
}

// parseIncludePath extracts the quoted path from an #include line.
func parseIncludePath(trimmed string) (string, bool) {
	rest := strings.TrimLeft(trimmed[len("#include"):], " \t")
	if len(rest) < 2 || rest[0] != '"' {
		return "", false
	}
	end := strings.IndexByte(rest[1:], '"')
	if end < 0 {
		return "", false
	}
	return rest[1 : 1+end], true
}

// leadingIdent returns the identifier run at the start of s.
func leadingIdent(s string) string {
	end := 0
	for end < len(s) && isIdentChar(s[end]) {
		end++
	}
	return s[:end]
}

func isIdentChar(c byte) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == '_'
}

// parseDefine parses one #define starting at lines[i] (whose trimmed form
// is given). It returns the macro and how many extra physical lines were
// consumed by continuations, or nil for a malformed definition.
func parseDefine(lines []string, i int, trimmed string) (*Macro, int) {
	rest := strings.TrimLeft(trimmed[len("#define"):], " \t")

	name := leadingIdent(rest)
	if name == "" {
		return nil, 0
	}
	after := rest[len(name):]

	var params []string
	if strings.HasPrefix(after, "(") {
		// '(' with no intervening whitespace makes the macro
		// function-like; whitespace before '(' leaves it object-like even
		// when the body contains parentheses.
		closing := strings.IndexByte(after, ')')
		if closing < 0 {
			return nil, 0
		}
		params = []string{}
		for _, p := range strings.Split(after[1:closing], ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				params = append(params, p)
			}
		}
		after = after[closing+1:]
	}

	body, consumed := collectBody(lines, i, after)
	return &Macro{Name: name, Params: params, Body: body}, consumed
}

// collectBody assembles the macro body from the remainder of the define
// line plus any continuation lines, joining segments with a newline. A
// trailing // comment on any physical line is stripped before the
// continuation check so a backslash inside a comment does not continue.
func collectBody(lines []string, i int, first string) (string, int) {
	segment := strings.TrimSpace(stripLineComment(first))
	consumed := 0
	var parts []string

	for {
		cont := endsWithContinuation(segment)
		if cont {
			segment = strings.TrimSpace(segment[:len(segment)-1])
		}
		parts = append(parts, segment)
		if !cont || i+consumed+1 >= len(lines) {
			break
		}
		consumed++
		next := strings.TrimSuffix(lines[i+consumed], "\r")
		segment = strings.TrimSpace(stripLineComment(next))
	}

	return strings.TrimSpace(strings.Join(parts, "\n")), consumed
}

// endsWithContinuation reports whether s ends in an unescaped backslash
// (an odd-length trailing backslash run).
func endsWithContinuation(s string) bool {
	n := 0
	for i := len(s) - 1; i >= 0 && s[i] == '\\'; i-- {
		n++
	}
	return n%2 == 1
}

// stripLineComment removes a trailing // comment, ignoring // sequences
// inside string literals.
func stripLineComment(s string) string {
	var inStr byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == inStr {
				inStr = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			inStr = c
		case '/':
			if i+1 < len(s) && s[i+1] == '/' {
				return s[:i]
			}
		}
	}
	return s
}
