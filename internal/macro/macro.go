// Package macro implements the incremental #define/#include preprocessing
// engine for SSL scripts. It extracts macro definitions from a document
// and its transitively included headers, and reuses previously extracted
// header macros when the include set and file modification times are
// unchanged.
package macro

import (
	"sort"
	"strings"
	"time"
)

// Macro is a single text-substitution definition.
type Macro struct {
	// Name is the macro identifier.
	Name string

	// Params is nil for an object-like macro. A non-nil empty slice is a
	// zero-argument function-like macro.
	Params []string

	// Body is the replacement text, continuation lines joined with "\n".
	// A trailing line comment is never part of the body.
	Body string

	// SourceFile is the file the macro was read from; empty means the
	// current document.
	SourceFile string

	// DeclaredLine is the 1-indexed line of the #define.
	DeclaredLine int

	// DocComment holds the contiguous // comment lines immediately above
	// the definition, joined with "\n".
	DocComment string
}

// IsFunctionLike reports whether the macro was declared with a
// parenthesized parameter list.
func (m *Macro) IsFunctionLike() bool {
	return m.Params != nil
}

// Signature returns a display form: NAME for object-like macros,
// NAME(p1, p2) for function-like ones.
func (m *Macro) Signature() string {
	if m.Params == nil {
		return m.Name
	}
	return m.Name + "(" + strings.Join(m.Params, ", ") + ")"
}

// FileStamp records the modification time observed when a file was read
// during extraction. A later mismatch means the cached set is stale.
type FileStamp struct {
	Path    string
	ModTime time.Time
}

// MacroSet is the result of one extraction pass. Sets are immutable after
// publication: every document change produces a new set that supersedes
// the old one wholesale.
type MacroSet struct {
	// IncludeSignature is an order-sensitive hash of the entry document's
	// raw #include lines, the first-pass cache key.
	IncludeSignature uint64

	// Files stamps every file actually read while building the set.
	Files []FileStamp

	byName map[string]*Macro
}

// NewMacroSet returns an empty set with the given include signature.
func NewMacroSet(signature uint64) *MacroSet {
	return &MacroSet{
		IncludeSignature: signature,
		byName:           make(map[string]*Macro),
	}
}

// Lookup returns the macro with exactly the given name.
func (s *MacroSet) Lookup(name string) (*Macro, bool) {
	if s == nil {
		return nil, false
	}
	m, ok := s.byName[name]
	return m, ok
}

// LookupFold returns the first macro matching the name case-insensitively.
// Iteration order is unspecified; exact matches are preferred.
func (s *MacroSet) LookupFold(name string) (*Macro, bool) {
	if s == nil {
		return nil, false
	}
	if m, ok := s.byName[name]; ok {
		return m, true
	}
	for _, m := range s.byName {
		if strings.EqualFold(m.Name, name) {
			return m, true
		}
	}
	return nil, false
}

// Len returns the number of macros in the set.
func (s *MacroSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.byName)
}

// Names returns all macro names, sorted.
func (s *MacroSet) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// insert adds a macro, silently replacing an earlier definition of the
// same name (the language's own redefinition behavior).
func (s *MacroSet) insert(m *Macro) {
	s.byName[m.Name] = m
}

// cloneInto copies m into the receiver with fresh string data, used when
// carrying included-file macros over from a previous set.
func (s *MacroSet) cloneInto(m *Macro) {
	clone := &Macro{
		Name:         strings.Clone(m.Name),
		Body:         strings.Clone(m.Body),
		SourceFile:   strings.Clone(m.SourceFile),
		DeclaredLine: m.DeclaredLine,
		DocComment:   strings.Clone(m.DocComment),
	}
	if m.Params != nil {
		clone.Params = make([]string, len(m.Params))
		for i, p := range m.Params {
			clone.Params[i] = strings.Clone(p)
		}
	}
	s.byName[clone.Name] = clone
}
