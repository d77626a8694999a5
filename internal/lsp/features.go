package lsp

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ssltools/ssl-lsp/internal/macro"
	"github.com/ssltools/ssl-lsp/internal/scan"
	"github.com/ssltools/ssl-lsp/internal/sslc"
)

// --- Hover ---

// getHover resolves the word under the cursor against macros, built-ins,
// procedures, and variables, in that order.
func (s *Server) getHover(params HoverParams) *Hover {
	doc := s.documents.Get(params.TextDocument.URI)
	if doc == nil {
		return nil
	}

	word, wordRange := doc.GetWordAtPosition(params.Position)
	if word == "" {
		return nil
	}

	if m, ok := doc.Macros.LookupFold(word); ok {
		return &Hover{
			Contents: MarkupContent{Kind: MarkupKindMarkdown, Value: macroHoverMarkdown(m)},
			Range:    &wordRange,
		}
	}

	if b, ok := s.builtins.LookupFold(word); ok {
		value := "```ssl\n" + b.Signature() + "\n```"
		if b.Doc != "" {
			value += "\n\n" + b.Doc
		}
		return &Hover{
			Contents: MarkupContent{Kind: MarkupKindMarkdown, Value: value},
			Range:    &wordRange,
		}
	}

	if p, ok := doc.Parse.ProcedureByName(word); ok {
		return &Hover{
			Contents: MarkupContent{Kind: MarkupKindMarkdown, Value: procedureHoverMarkdown(p)},
			Range:    &wordRange,
		}
	}

	if v, ok := s.lookupVariable(doc, int(params.Position.Line), word); ok {
		return &Hover{
			Contents: MarkupContent{Kind: MarkupKindMarkdown, Value: variableHoverMarkdown(v)},
			Range:    &wordRange,
		}
	}

	return nil
}

func macroHoverMarkdown(m *macro.Macro) string {
	var b strings.Builder
	b.WriteString("```ssl\n#define ")
	b.WriteString(m.Signature())
	if m.Body != "" {
		b.WriteString(" ")
		b.WriteString(m.Body)
	}
	b.WriteString("\n```")
	if m.DocComment != "" {
		b.WriteString("\n\n")
		b.WriteString(m.DocComment)
	}
	if m.SourceFile != "" {
		b.WriteString("\n\nDefined in ")
		b.WriteString(filepath.Base(m.SourceFile))
	}
	return b.String()
}

func procedureHoverMarkdown(p *sslc.Procedure) string {
	var b strings.Builder
	b.WriteString("```ssl\nprocedure ")
	b.WriteString(p.Name)
	b.WriteString("\n```\n\n")
	if p.NumArgs == 1 {
		b.WriteString("1 argument")
	} else {
		b.WriteString(strconv.Itoa(p.NumArgs) + " arguments")
	}
	return b.String()
}

func variableHoverMarkdown(v *sslc.Variable) string {
	var b strings.Builder
	b.WriteString("```ssl\nvariable ")
	b.WriteString(v.Name)
	b.WriteString("\n```")
	if v.Type == sslc.VarLocal {
		b.WriteString("\n\nlocal variable")
	}
	return b.String()
}

// --- Definition ---

// getDefinition jumps to macro, procedure, or variable declarations.
func (s *Server) getDefinition(params DefinitionParams) *Location {
	doc := s.documents.Get(params.TextDocument.URI)
	if doc == nil {
		return nil
	}

	word, _ := doc.GetWordAtPosition(params.Position)
	if word == "" {
		return nil
	}

	if m, ok := doc.Macros.LookupFold(word); ok {
		uri := doc.URI
		if m.SourceFile != "" {
			uri = PathToURI(m.SourceFile)
		}
		return locationAtLine(uri, m.DeclaredLine-1)
	}

	if p, ok := doc.Parse.ProcedureByName(word); ok {
		return locationAtLine(s.declarationURI(doc, p.DeclaredFile), p.Declared-1)
	}

	if v, ok := s.lookupVariable(doc, int(params.Position.Line), word); ok {
		return locationAtLine(s.declarationURI(doc, v.DeclaredFile), v.Declared-1)
	}

	return nil
}

// declarationURI maps a parser-reported file name to a document URI. The
// parser reports the original path for in-document symbols and the bare
// header name for included ones.
func (s *Server) declarationURI(doc *Document, declaredFile string) string {
	switch {
	case declaredFile == "" || declaredFile == doc.Path:
		return doc.URI
	case filepath.IsAbs(declaredFile):
		return PathToURI(declaredFile)
	default:
		return PathToURI(filepath.Join(s.includeDir, declaredFile))
	}
}

func locationAtLine(uri string, line int) *Location {
	if line < 0 {
		line = 0
	}
	pos := Position{Line: uint32(line), Character: 0}
	return &Location{URI: uri, Range: Range{Start: pos, End: pos}}
}

// --- References ---

// getReferences returns parser-recorded use sites for procedures and
// variables, and a whole-word text scan for macros.
func (s *Server) getReferences(params ReferenceParams) []Location {
	doc := s.documents.Get(params.TextDocument.URI)
	if doc == nil {
		return nil
	}

	word, _ := doc.GetWordAtPosition(params.Position)
	if word == "" {
		return nil
	}

	if p, ok := doc.Parse.ProcedureByName(word); ok {
		locations := s.referenceLocations(doc, p.References)
		if params.Context.IncludeDeclaration {
			if loc := locationAtLine(s.declarationURI(doc, p.DeclaredFile), p.Declared-1); loc != nil {
				locations = append([]Location{*loc}, locations...)
			}
		}
		return locations
	}

	if v, ok := s.lookupVariable(doc, int(params.Position.Line), word); ok {
		locations := s.referenceLocations(doc, v.References)
		if params.Context.IncludeDeclaration {
			if loc := locationAtLine(s.declarationURI(doc, v.DeclaredFile), v.Declared-1); loc != nil {
				locations = append([]Location{*loc}, locations...)
			}
		}
		return locations
	}

	// Macros and anything else the parser does not track: whole-word
	// scan over the document's code ranges.
	positions := scan.FindWholeWord(doc.Content, word)
	locations := make([]Location, 0, len(positions))
	for _, pos := range positions {
		start := Position{Line: uint32(pos.Line), Character: uint32(pos.Column)}
		end := Position{Line: uint32(pos.Line), Character: uint32(pos.Column + len(word))}
		locations = append(locations, Location{URI: doc.URI, Range: Range{Start: start, End: end}})
	}
	return locations
}

func (s *Server) referenceLocations(doc *Document, refs []sslc.Reference) []Location {
	locations := make([]Location, 0, len(refs))
	for _, r := range refs {
		loc := locationAtLine(s.declarationURI(doc, r.File), r.Line-1)
		locations = append(locations, *loc)
	}
	return locations
}

// --- Completion ---

// getCompletions returns completion items for the given position.
func (s *Server) getCompletions(params CompletionParams) []CompletionItem {
	doc := s.documents.Get(params.TextDocument.URI)
	if doc == nil {
		return nil
	}

	prefix, _ := scan.WordPrefixAt(doc.Content, int(params.Position.Line), int(params.Position.Character))
	var items []CompletionItem

	for _, name := range doc.Macros.Names() {
		if !matchesPrefix(name, prefix) {
			continue
		}
		m, _ := doc.Macros.Lookup(name)
		item := CompletionItem{
			Label:         name,
			Kind:          CompletionItemKindConstant,
			Documentation: m.DocComment,
		}
		if m.IsFunctionLike() {
			item.Kind = CompletionItemKindFunction
			item.Detail = m.Signature()
		} else if m.Body != "" {
			item.Detail = m.Body
		}
		items = append(items, item)
	}

	for _, b := range s.builtins.All() {
		if !matchesPrefix(b.Name, prefix) {
			continue
		}
		items = append(items, CompletionItem{
			Label:         b.Name,
			Kind:          CompletionItemKindFunction,
			Detail:        b.Signature(),
			Documentation: b.Doc,
		})
	}

	if doc.Parse != nil {
		for i := range doc.Parse.Procedures {
			p := &doc.Parse.Procedures[i]
			if !matchesPrefix(p.Name, prefix) {
				continue
			}
			items = append(items, CompletionItem{
				Label:  p.Name,
				Kind:   CompletionItemKindFunction,
				Detail: "procedure",
			})
		}
		for i := range doc.Parse.Variables {
			v := &doc.Parse.Variables[i]
			if !matchesPrefix(v.Name, prefix) {
				continue
			}
			items = append(items, CompletionItem{
				Label: v.Name,
				Kind:  CompletionItemKindVariable,
			})
		}
		if p := enclosingProcedure(doc.Parse, int(params.Position.Line)); p != nil {
			for i := range p.Variables {
				v := &p.Variables[i]
				if !matchesPrefix(v.Name, prefix) {
					continue
				}
				items = append(items, CompletionItem{
					Label:  v.Name,
					Kind:   CompletionItemKindVariable,
					Detail: "local",
				})
			}
		}
	}

	return items
}

func matchesPrefix(name, prefix string) bool {
	if prefix == "" {
		return true
	}
	return len(name) >= len(prefix) && strings.EqualFold(name[:len(prefix)], prefix)
}

// --- Document symbols ---

// getDocumentSymbols lists procedures (with their locals as children)
// and global variables declared in the document itself.
func (s *Server) getDocumentSymbols(params DocumentSymbolParams) []DocumentSymbol {
	doc := s.documents.Get(params.TextDocument.URI)
	if doc == nil || doc.Parse == nil {
		return nil
	}

	var symbols []DocumentSymbol
	for i := range doc.Parse.Procedures {
		p := &doc.Parse.Procedures[i]
		if !declaredInDocument(doc, p.DeclaredFile) {
			continue
		}

		sym := DocumentSymbol{
			Name:           p.Name,
			Kind:           SymbolKindFunction,
			Range:          lineRange(p.Start-1, p.End-1),
			SelectionRange: lineRange(p.Declared-1, p.Declared-1),
		}
		for j := range p.Variables {
			v := &p.Variables[j]
			sym.Children = append(sym.Children, DocumentSymbol{
				Name:           v.Name,
				Kind:           SymbolKindVariable,
				Range:          lineRange(v.Declared-1, v.Declared-1),
				SelectionRange: lineRange(v.Declared-1, v.Declared-1),
			})
		}
		symbols = append(symbols, sym)
	}

	for i := range doc.Parse.Variables {
		v := &doc.Parse.Variables[i]
		if !declaredInDocument(doc, v.DeclaredFile) {
			continue
		}
		symbols = append(symbols, DocumentSymbol{
			Name:           v.Name,
			Kind:           SymbolKindVariable,
			Range:          lineRange(v.Declared-1, v.Declared-1),
			SelectionRange: lineRange(v.Declared-1, v.Declared-1),
		})
	}

	return symbols
}

func declaredInDocument(doc *Document, declaredFile string) bool {
	if declaredFile == "" || declaredFile == doc.Path {
		return true
	}
	return filepath.Base(declaredFile) == filepath.Base(doc.Path)
}

func lineRange(start, end int) Range {
	if start < 0 {
		start = 0
	}
	if end < start {
		end = start
	}
	return Range{
		Start: Position{Line: uint32(start), Character: 0},
		End:   Position{Line: uint32(end), Character: 0},
	}
}

// --- Signature help ---

// getSignatureHelp resolves the enclosing call via a backward scan and
// matches it against function-like macros and built-ins.
func (s *Server) getSignatureHelp(params SignatureHelpParams) *SignatureHelp {
	doc := s.documents.Get(params.TextDocument.URI)
	if doc == nil {
		return nil
	}

	offset := doc.PositionToOffset(params.Position)
	cc, ok := scan.CallContextAt(doc.Content, offset)
	if !ok {
		return nil
	}

	if m, found := doc.Macros.LookupFold(cc.Function); found && m.IsFunctionLike() {
		return &SignatureHelp{
			Signatures: []SignatureInformation{{
				Label:         m.Signature(),
				Documentation: m.DocComment,
				Parameters:    parameterInfos(m.Params),
			}},
			ActiveParameter: cc.ActiveParameter,
		}
	}

	if b, found := s.builtins.LookupFold(cc.Function); found {
		return &SignatureHelp{
			Signatures: []SignatureInformation{{
				Label:         b.Signature(),
				Documentation: b.Doc,
				Parameters:    parameterInfos(b.Params),
			}},
			ActiveParameter: cc.ActiveParameter,
		}
	}

	return nil
}

func parameterInfos(params []string) []ParameterInformation {
	infos := make([]ParameterInformation, len(params))
	for i, p := range params {
		infos[i] = ParameterInformation{Label: p}
	}
	return infos
}

// --- Shared lookups ---

// lookupVariable finds a variable by name, preferring the enclosing
// procedure's locals over globals.
func (s *Server) lookupVariable(doc *Document, line int, name string) (*sslc.Variable, bool) {
	if doc.Parse == nil {
		return nil, false
	}
	if p := enclosingProcedure(doc.Parse, line); p != nil {
		if v, ok := p.LocalByName(name); ok {
			return v, true
		}
	}
	return doc.Parse.VariableByName(name)
}

// enclosingProcedure returns the procedure whose body spans the given
// zero-based line, or nil.
func enclosingProcedure(parse *sslc.ParseResult, line int) *sslc.Procedure {
	if parse == nil {
		return nil
	}
	for i := range parse.Procedures {
		p := &parse.Procedures[i]
		if p.Start <= line+1 && line+1 <= p.End {
			return p
		}
	}
	return nil
}
