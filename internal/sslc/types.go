// Package sslc binds the external SSLC grammar parser shared library
// (libparser.so / parser.dll) behind a narrow query interface. The
// library parses a script file on disk and exposes procedures and
// variables; its internal name encoding (offsets into shared byte
// buffers) is decoded here and never leaks to callers.
package sslc

import (
	"errors"
	"strings"
)

// Parse failure modes reported by the library.
var (
	ErrParseFailed      = errors.New("sslc: parse failed")
	ErrPreprocessFailed = errors.New("sslc: preprocess failed")
	ErrUnknown          = errors.New("sslc: unknown parser error")
)

// Variable location types.
const (
	VarLocal  = 1
	VarGlobal = 2
	VarImport = 3
	VarExport = 4
)

// Procedure flags.
const (
	ProcTimed       = 0x01
	ProcConditional = 0x02
	ProcImport      = 0x04
	ProcExport      = 0x08
	ProcCritical    = 0x10
	ProcPure        = 0x20
	ProcInline      = 0x40
)

// Reference is one use site of a procedure or variable.
type Reference struct {
	Line int
	File string
}

// Variable is a global or procedure-local variable.
type Variable struct {
	Name         string
	Type         int
	ArrayLen     int
	Declared     int
	DeclaredFile string
	Initialized  bool
	References   []Reference
}

// Procedure is a script procedure with its local variables.
type Procedure struct {
	Name         string
	Flags        int
	NumArgs      int
	Declared     int
	DeclaredFile string
	Start        int
	End          int
	References   []Reference
	Variables    []Variable
}

// ParseResult is the outcome of one successful parse. It is replaced
// wholesale on every re-parse, never mutated.
type ParseResult struct {
	Procedures []Procedure
	Variables  []Variable
}

// ProcedureByName returns the procedure matching name case-insensitively
// (SSL identifiers are case-insensitive).
func (r *ParseResult) ProcedureByName(name string) (*Procedure, bool) {
	if r == nil {
		return nil, false
	}
	for i := range r.Procedures {
		if strings.EqualFold(r.Procedures[i].Name, name) {
			return &r.Procedures[i], true
		}
	}
	return nil, false
}

// VariableByName returns the global variable matching name
// case-insensitively.
func (r *ParseResult) VariableByName(name string) (*Variable, bool) {
	if r == nil {
		return nil, false
	}
	for i := range r.Variables {
		if strings.EqualFold(r.Variables[i].Name, name) {
			return &r.Variables[i], true
		}
	}
	return nil, false
}

// LocalByName returns the local variable of proc matching name
// case-insensitively.
func (p *Procedure) LocalByName(name string) (*Variable, bool) {
	if p == nil {
		return nil, false
	}
	for i := range p.Variables {
		if strings.EqualFold(p.Variables[i].Name, name) {
			return &p.Variables[i], true
		}
	}
	return nil, false
}

// Grammar is the parse entry point consumed by the document store. The
// file at tempPath holds the current in-memory text persisted to disk;
// origPath names the real file for error messages; includeDir is where
// the parser resolves its own includes.
type Grammar interface {
	Parse(tempPath, origPath, includeDir string) (*ParseResult, error)
}

// errorFromCode maps the library's return code to a sentinel error.
func errorFromCode(code int32) error {
	switch code {
	case 0:
		return nil
	case 1:
		return ErrParseFailed
	case 2:
		return ErrPreprocessFailed
	default:
		return ErrUnknown
	}
}
