package lsp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssltools/ssl-lsp/internal/builtins"
	"github.com/ssltools/ssl-lsp/internal/config"
	"github.com/ssltools/ssl-lsp/internal/sslc"
)

// fakeGrammar returns a canned result or error instead of calling the
// parser library.
type fakeGrammar struct {
	result *sslc.ParseResult
	err    error
}

func (g *fakeGrammar) Parse(tempPath, origPath, includeDir string) (*sslc.ParseResult, error) {
	return g.result, g.err
}

func newTestServer(t *testing.T, grammar sslc.Grammar) *Server {
	t.Helper()

	catalog, err := builtins.Load()
	require.NoError(t, err)

	cfg := &config.Config{
		IncludeDir: t.TempDir(),
		ScratchDir: t.TempDir(),
		LogLevel:   "error",
	}
	return NewServer(strings.NewReader(""), io.Discard, Options{
		Config:   cfg,
		Grammar:  grammar,
		Builtins: catalog,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

// openDocument opens and analyzes a document directly, bypassing the wire.
func openDocument(t *testing.T, s *Server, uri, text string) *Document {
	t.Helper()
	doc := s.documents.Open(uri, text, 1)
	s.analyze(doc)
	return doc
}

// --- Wire-level tests ---

func frame(t *testing.T, msg any) []byte {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	return []byte(fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body))
}

func decodeFrames(t *testing.T, raw []byte) []JSONRPCMessage {
	t.Helper()
	var msgs []JSONRPCMessage
	r := bufio.NewReader(bytes.NewReader(raw))
	for {
		var contentLength int
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return msgs
			}
			line = strings.TrimSpace(line)
			if line == "" {
				break
			}
			if strings.HasPrefix(line, "Content-Length: ") {
				fmt.Sscanf(line, "Content-Length: %d", &contentLength)
			}
		}
		body := make([]byte, contentLength)
		if _, err := io.ReadFull(r, body); err != nil {
			return msgs
		}
		var msg JSONRPCMessage
		require.NoError(t, json.Unmarshal(body, &msg))
		msgs = append(msgs, msg)
	}
}

func request(id int, method string, params any) map[string]any {
	raw := map[string]any{"jsonrpc": "2.0", "method": method}
	if id >= 0 {
		raw["id"] = id
	}
	if params != nil {
		raw["params"] = params
	}
	return raw
}

func runWire(t *testing.T, grammar sslc.Grammar, msgs ...map[string]any) []JSONRPCMessage {
	t.Helper()

	var input bytes.Buffer
	for _, m := range msgs {
		input.Write(frame(t, m))
	}
	var output bytes.Buffer

	catalog, err := builtins.Load()
	require.NoError(t, err)
	cfg := &config.Config{IncludeDir: t.TempDir(), ScratchDir: t.TempDir(), LogLevel: "error"}
	s := NewServer(&input, &output, Options{
		Config:   cfg,
		Grammar:  grammar,
		Builtins: catalog,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, s.Run())

	return decodeFrames(t, output.Bytes())
}

func TestServer_Initialize(t *testing.T) {
	responses := runWire(t, nil,
		request(1, "initialize", map[string]any{"rootUri": "file:///tmp/project"}),
	)
	require.Len(t, responses, 1)

	var result InitializeResult
	require.NoError(t, json.Unmarshal(responses[0].Result, &result))
	assert.Equal(t, "ssl-lsp", result.ServerInfo.Name)
	assert.True(t, result.Capabilities.HoverProvider)
	assert.True(t, result.Capabilities.DefinitionProvider)
	assert.True(t, result.Capabilities.ReferencesProvider)
	assert.True(t, result.Capabilities.DocumentSymbolProvider)
	assert.NotNil(t, result.Capabilities.SignatureHelpProvider)
	assert.Equal(t, TextDocumentSyncKindFull, result.Capabilities.TextDocumentSync.Change)
}

func TestServer_UnknownMethod(t *testing.T) {
	responses := runWire(t, nil,
		request(7, "workspace/nonsense", nil),
	)
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, -32601, responses[0].Error.Code)
}

func TestServer_DiagnosticsOnParseError(t *testing.T) {
	grammar := &fakeGrammar{err: sslc.ErrParseFailed}
	responses := runWire(t, grammar,
		request(-1, "textDocument/didOpen", map[string]any{
			"textDocument": map[string]any{
				"uri": "file:///tmp/broken.ssl", "languageId": "ssl", "version": 1,
				"text": "procedure start begin",
			},
		}),
	)

	diag := findNotification(t, responses, "textDocument/publishDiagnostics")
	var params PublishDiagnosticsParams
	require.NoError(t, json.Unmarshal(diag.Params, &params))
	require.Len(t, params.Diagnostics, 1)
	assert.Equal(t, DiagnosticSeverityError, params.Diagnostics[0].Severity)
	assert.Equal(t, "ssl-lsp", params.Diagnostics[0].Source)
}

func TestServer_DiagnosticsClearedOnClose(t *testing.T) {
	grammar := &fakeGrammar{err: sslc.ErrParseFailed}
	responses := runWire(t, grammar,
		request(-1, "textDocument/didOpen", map[string]any{
			"textDocument": map[string]any{
				"uri": "file:///tmp/a.ssl", "languageId": "ssl", "version": 1, "text": "x",
			},
		}),
		request(-1, "textDocument/didClose", map[string]any{
			"textDocument": map[string]any{"uri": "file:///tmp/a.ssl"},
		}),
	)

	var diagNotifications []PublishDiagnosticsParams
	for _, msg := range responses {
		if msg.Method == "textDocument/publishDiagnostics" {
			var params PublishDiagnosticsParams
			require.NoError(t, json.Unmarshal(msg.Params, &params))
			diagNotifications = append(diagNotifications, params)
		}
	}
	require.Len(t, diagNotifications, 2)
	assert.Len(t, diagNotifications[0].Diagnostics, 1)
	assert.Empty(t, diagNotifications[1].Diagnostics)
}

func findNotification(t *testing.T, msgs []JSONRPCMessage, method string) *JSONRPCMessage {
	t.Helper()
	for i := range msgs {
		if msgs[i].Method == method {
			return &msgs[i]
		}
	}
	t.Fatalf("no %s notification found", method)
	return nil
}

func TestExit_WithoutShutdown(t *testing.T) {
	s := newTestServer(t, nil)
	code := -1
	s.exit = func(c int) { code = c }

	require.NoError(t, s.handleMessage(&JSONRPCMessage{JSONRPC: "2.0", Method: "exit"}))
	assert.Equal(t, 1, code)
}

func TestExit_AfterShutdown(t *testing.T) {
	s := newTestServer(t, nil)
	code := -1
	s.exit = func(c int) { code = c }

	id := json.RawMessage(`3`)
	require.NoError(t, s.handleMessage(&JSONRPCMessage{JSONRPC: "2.0", ID: &id, Method: "shutdown"}))
	require.NoError(t, s.handleMessage(&JSONRPCMessage{JSONRPC: "2.0", Method: "exit"}))
	assert.Equal(t, 0, code)
}

// --- Analysis pipeline tests ---

func TestAnalyze_SupersededSnapshotDropped(t *testing.T) {
	s := newTestServer(t, nil)
	stale := openDocument(t, s, "file:///tmp/a.ssl", "#define FOO 1\n")

	current := s.documents.Update(stale.URI, "#define BAR 2\n", 2)
	s.analyze(current)
	s.analyze(stale)

	doc := s.documents.Get(stale.URI)
	_, ok := doc.Macros.Lookup("BAR")
	assert.True(t, ok)
	_, ok = doc.Macros.Lookup("FOO")
	assert.False(t, ok, "results of a superseded snapshot must not be published")
}

func TestAnalyze_ConcurrentEditIsSafe(t *testing.T) {
	s := newTestServer(t, nil)
	doc := openDocument(t, s, "file:///tmp/a.ssl", "#define N 1\n")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for v := 2; v <= 40; v++ {
			s.documents.Update(doc.URI, fmt.Sprintf("#define N %d\n", v), v)
		}
	}()
	for i := 0; i < 40; i++ {
		if d := s.documents.Get(doc.URI); d != nil {
			s.analyze(d)
		}
	}
	<-done

	s.analyze(s.documents.Get(doc.URI))
	m, ok := s.documents.Get(doc.URI).Macros.Lookup("N")
	require.True(t, ok)
	assert.Equal(t, "40", m.Body)
}

func TestRunWatcher_ReanalyzesOnHeaderChange(t *testing.T) {
	s := newTestServer(t, nil)
	require.NotNil(t, s.watcher)

	header := filepath.Join(s.includeDir, "define.h")
	require.NoError(t, os.WriteFile(header, []byte("#define HP 1\n"), 0644))
	// Backdate the header so the rewrite below is a guaranteed stamp
	// mismatch regardless of filesystem timestamp granularity.
	past := time.Now().Add(-10 * time.Second)
	require.NoError(t, os.Chtimes(header, past, past))

	doc := openDocument(t, s, "file:///tmp/a.ssl", `#include "define.h"`+"\n")
	m, ok := s.documents.Get(doc.URI).Macros.Lookup("HP")
	require.True(t, ok)
	require.Equal(t, "1", m.Body)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.RunWatcher(ctx) }()

	require.NoError(t, os.WriteFile(header, []byte("#define HP 2\n"), 0644))

	deadline := time.Now().Add(5 * time.Second)
	for {
		if m, ok := s.documents.Get(doc.URI).Macros.Lookup("HP"); ok && m.Body == "2" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("header change was not re-analyzed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	require.NoError(t, <-done)
}

// --- Feature tests ---

func TestHover_Macro(t *testing.T) {
	s := newTestServer(t, nil)
	doc := openDocument(t, s, "file:///tmp/a.ssl", "// maximum hit points\n#define MAX_HP 100\nMAX_HP\n")

	hover := s.getHover(HoverParams{TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: doc.URI},
		Position:     Position{Line: 2, Character: 3},
	}})
	require.NotNil(t, hover)
	assert.Contains(t, hover.Contents.Value, "#define MAX_HP 100")
	assert.Contains(t, hover.Contents.Value, "maximum hit points")
}

func TestHover_Builtin(t *testing.T) {
	s := newTestServer(t, nil)
	doc := openDocument(t, s, "file:///tmp/a.ssl", "display_msg(\"hi\");\n")

	hover := s.getHover(HoverParams{TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: doc.URI},
		Position:     Position{Line: 0, Character: 4},
	}})
	require.NotNil(t, hover)
	assert.Contains(t, hover.Contents.Value, "display_msg(message)")
}

func TestHover_NoWord(t *testing.T) {
	s := newTestServer(t, nil)
	doc := openDocument(t, s, "file:///tmp/a.ssl", "   \n")

	hover := s.getHover(HoverParams{TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: doc.URI},
		Position:     Position{Line: 0, Character: 1},
	}})
	assert.Nil(t, hover)
}

func TestDefinition_Macro(t *testing.T) {
	s := newTestServer(t, nil)
	doc := openDocument(t, s, "file:///tmp/a.ssl", "#define BURST_MODE 1\nif BURST_MODE then\n")

	loc := s.getDefinition(DefinitionParams{TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: doc.URI},
		Position:     Position{Line: 1, Character: 5},
	}})
	require.NotNil(t, loc)
	assert.Equal(t, doc.URI, loc.URI)
	assert.Equal(t, uint32(0), loc.Range.Start.Line)
}

func TestDefinition_Procedure(t *testing.T) {
	grammar := &fakeGrammar{result: &sslc.ParseResult{
		Procedures: []sslc.Procedure{
			{Name: "do_stuff", Declared: 5, Start: 5, End: 9},
		},
	}}
	s := newTestServer(t, grammar)
	doc := openDocument(t, s, "file:///tmp/a.ssl", "call do_stuff;\n")

	loc := s.getDefinition(DefinitionParams{TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: doc.URI},
		Position:     Position{Line: 0, Character: 7},
	}})
	require.NotNil(t, loc)
	assert.Equal(t, doc.URI, loc.URI)
	assert.Equal(t, uint32(4), loc.Range.Start.Line)
}

func TestReferences_MacroWholeWord(t *testing.T) {
	s := newTestServer(t, nil)
	doc := openDocument(t, s, "file:///tmp/a.ssl", "#define FOO 1\nFOO + \"FOO\" + FOO\n")

	locs := s.getReferences(ReferenceParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: doc.URI},
			Position:     Position{Line: 1, Character: 1},
		},
	})
	// Definition line occurrence plus two code occurrences on line 1;
	// the quoted one is skipped.
	require.Len(t, locs, 3)
	assert.Equal(t, uint32(1), locs[1].Range.Start.Line)
	assert.Equal(t, uint32(14), locs[2].Range.Start.Character)
}

func TestReferences_Variable(t *testing.T) {
	grammar := &fakeGrammar{result: &sslc.ParseResult{
		Variables: []sslc.Variable{
			{Name: "counter", Type: sslc.VarGlobal, Declared: 1, References: []sslc.Reference{
				{Line: 3}, {Line: 7},
			}},
		},
	}}
	s := newTestServer(t, grammar)
	doc := openDocument(t, s, "file:///tmp/a.ssl", "counter := counter + 1;\n")

	locs := s.getReferences(ReferenceParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: doc.URI},
			Position:     Position{Line: 0, Character: 2},
		},
		Context: ReferenceContext{IncludeDeclaration: true},
	})
	require.Len(t, locs, 3)
	assert.Equal(t, uint32(0), locs[0].Range.Start.Line) // declaration
	assert.Equal(t, uint32(2), locs[1].Range.Start.Line)
	assert.Equal(t, uint32(6), locs[2].Range.Start.Line)
}

func TestCompletion_MacroPrefix(t *testing.T) {
	s := newTestServer(t, nil)
	doc := openDocument(t, s, "file:///tmp/a.ssl", "#define MY_MACRO 1\n#define OTHER 2\nMY")

	items := s.getCompletions(CompletionParams{TextDocumentPositionParams: TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: doc.URI},
		Position:     Position{Line: 2, Character: 2},
	}})

	labels := make([]string, 0, len(items))
	for _, item := range items {
		labels = append(labels, item.Label)
	}
	assert.Contains(t, labels, "MY_MACRO")
	assert.NotContains(t, labels, "OTHER")
	assert.NotContains(t, labels, "display_msg")
}

func TestCompletion_IncludesBuiltinsAndSymbols(t *testing.T) {
	grammar := &fakeGrammar{result: &sslc.ParseResult{
		Procedures: []sslc.Procedure{{Name: "damage_critter", Declared: 1, Start: 1, End: 3}},
	}}
	s := newTestServer(t, grammar)
	doc := openDocument(t, s, "file:///tmp/a.ssl", "d")

	items := s.getCompletions(CompletionParams{TextDocumentPositionParams: TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: doc.URI},
		Position:     Position{Line: 0, Character: 1},
	}})

	labels := make([]string, 0, len(items))
	for _, item := range items {
		labels = append(labels, item.Label)
	}
	assert.Contains(t, labels, "display_msg")
	assert.Contains(t, labels, "damage_critter")
	assert.Contains(t, labels, "dude_obj")
}

func TestSignatureHelp_Builtin(t *testing.T) {
	s := newTestServer(t, nil)
	text := "x := random(1, "
	doc := openDocument(t, s, "file:///tmp/a.ssl", text)

	help := s.getSignatureHelp(SignatureHelpParams{TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: doc.URI},
		Position:     Position{Line: 0, Character: uint32(len(text))},
	}})
	require.NotNil(t, help)
	require.Len(t, help.Signatures, 1)
	assert.Equal(t, "random(min, max)", help.Signatures[0].Label)
	assert.Equal(t, 1, help.ActiveParameter)
}

func TestSignatureHelp_FunctionLikeMacro(t *testing.T) {
	s := newTestServer(t, nil)
	text := "#define CALC(x, y) ((x) + (y))\nCALC(1"
	doc := openDocument(t, s, "file:///tmp/a.ssl", text)

	help := s.getSignatureHelp(SignatureHelpParams{TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: doc.URI},
		Position:     Position{Line: 1, Character: 6},
	}})
	require.NotNil(t, help)
	require.Len(t, help.Signatures, 1)
	assert.Equal(t, "CALC(x, y)", help.Signatures[0].Label)
	assert.Equal(t, 0, help.ActiveParameter)
	require.Len(t, help.Signatures[0].Parameters, 2)
	assert.Equal(t, "x", help.Signatures[0].Parameters[0].Label)
}

func TestSignatureHelp_NotInCall(t *testing.T) {
	s := newTestServer(t, nil)
	doc := openDocument(t, s, "file:///tmp/a.ssl", "plain text")

	help := s.getSignatureHelp(SignatureHelpParams{TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: doc.URI},
		Position:     Position{Line: 0, Character: 5},
	}})
	assert.Nil(t, help)
}

func TestDocumentSymbols(t *testing.T) {
	grammar := &fakeGrammar{result: &sslc.ParseResult{
		Procedures: []sslc.Procedure{
			{Name: "start", Declared: 2, Start: 2, End: 6, Variables: []sslc.Variable{
				{Name: "my_var", Type: sslc.VarLocal, Declared: 3},
			}},
		},
		Variables: []sslc.Variable{
			{Name: "counter", Type: sslc.VarGlobal, Declared: 1},
			{Name: "from_header", Type: sslc.VarGlobal, Declared: 1, DeclaredFile: "sfall.h"},
		},
	}}
	s := newTestServer(t, grammar)
	doc := openDocument(t, s, "file:///tmp/a.ssl", "variable counter;\nprocedure start begin\nend\n")

	symbols := s.getDocumentSymbols(DocumentSymbolParams{
		TextDocument: TextDocumentIdentifier{URI: doc.URI},
	})
	require.Len(t, symbols, 2)

	assert.Equal(t, "start", symbols[0].Name)
	assert.Equal(t, SymbolKindFunction, symbols[0].Kind)
	assert.Equal(t, uint32(1), symbols[0].Range.Start.Line)
	assert.Equal(t, uint32(5), symbols[0].Range.End.Line)
	require.Len(t, symbols[0].Children, 1)
	assert.Equal(t, "my_var", symbols[0].Children[0].Name)
	assert.Equal(t, SymbolKindVariable, symbols[0].Children[0].Kind)

	// Header-declared globals are excluded
	assert.Equal(t, "counter", symbols[1].Name)
}
