package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ssltools/ssl-lsp/internal/builtins"
	"github.com/ssltools/ssl-lsp/internal/config"
	"github.com/ssltools/ssl-lsp/internal/macro"
	"github.com/ssltools/ssl-lsp/internal/sslc"
)

// Version is stamped into serverInfo on initialize.
const Version = "0.3.0"

// Options carries the server's collaborators. Grammar may be nil, in
// which case parse-based features (diagnostics, symbols, references from
// the parser) are disabled and macro features keep working.
type Options struct {
	Config   *config.Config
	Grammar  sslc.Grammar
	Builtins *builtins.Catalog
	Logger   *slog.Logger
}

// Server implements the Language Server Protocol for SSL scripts.
type Server struct {
	// Document management
	documents *DocumentStore

	// Analysis collaborators
	extractor *macro.Extractor
	grammar   sslc.Grammar
	builtins  *builtins.Catalog
	cfg       *config.Config

	// Re-extraction on header edits
	watcher *IncludeWatcher

	// Project context
	projectRoot string
	includeDir  string
	initialized bool

	// I/O
	reader  *bufio.Reader
	writer  io.Writer
	writeMu sync.Mutex

	// Logging
	logger *slog.Logger

	// Shutdown state
	shutdown   bool
	shutdownMu sync.RWMutex

	// Process exit hook, replaced in tests.
	exit func(code int)
}

// NewServer creates a new LSP server instance reading requests from
// reader and writing responses to writer.
func NewServer(reader io.Reader, writer io.Writer, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Config{IncludeDir: ".", ScratchDir: os.TempDir(), LogLevel: "info"}
	}

	extractor := macro.NewExtractor(logger)
	if cfg.MaxIncludeFiles > 0 {
		extractor.MaxIncludeFiles = cfg.MaxIncludeFiles
	}
	if cfg.MaxFileSize > 0 {
		extractor.MaxFileSize = int64(cfg.MaxFileSize)
	}

	s := &Server{
		documents:  NewDocumentStore(),
		extractor:  extractor,
		grammar:    opts.Grammar,
		builtins:   opts.Builtins,
		cfg:        cfg,
		includeDir: cfg.IncludeDir,
		reader:     bufio.NewReader(reader),
		writer:     writer,
		logger:     logger,
		exit:       os.Exit,
	}

	watcher, err := NewIncludeWatcher(logger)
	if err != nil {
		logger.Warn("Include watcher unavailable", "error", err)
	} else {
		s.watcher = watcher
	}

	return s
}

// Run starts the server's main loop, processing JSON-RPC messages.
func (s *Server) Run() error {
	s.logger.Info("SSL LSP server starting...")

	for {
		s.shutdownMu.RLock()
		if s.shutdown {
			s.shutdownMu.RUnlock()
			return nil
		}
		s.shutdownMu.RUnlock()

		msg, err := s.readMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Info("Client disconnected")
				return nil
			}
			s.logger.Error("Error reading message", "error", err)
			continue
		}

		if err := s.handleMessage(msg); err != nil {
			s.logger.Error("Error handling message", "error", err)
		}
	}
}

// RunWatcher processes include-file change events until ctx is done,
// re-analyzing every open document that pulled macros from the changed
// header.
func (s *Server) RunWatcher(ctx context.Context) error {
	if s.watcher == nil {
		<-ctx.Done()
		return nil
	}
	defer func() { _ = s.watcher.Close() }()

	return s.watcher.Run(ctx, func(uris []string) {
		for _, uri := range uris {
			doc := s.documents.Get(uri)
			if doc == nil {
				continue
			}
			s.logger.Debug("Include changed, re-analyzing", "uri", uri)
			s.analyze(doc)
		}
	})
}

// JSONRPCMessage represents a JSON-RPC 2.0 message.
type JSONRPCMessage struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Params  json.RawMessage  `json:"params,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *JSONRPCError    `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC error.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// readMessage reads a JSON-RPC message from the input stream.
func (s *Server) readMessage() (*JSONRPCMessage, error) {
	var contentLength int
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			break // End of headers
		}

		if strings.HasPrefix(line, "Content-Length: ") {
			lengthStr := strings.TrimPrefix(line, "Content-Length: ")
			contentLength, err = strconv.Atoi(lengthStr)
			if err != nil {
				return nil, fmt.Errorf("invalid Content-Length: %w", err)
			}
		}
	}

	if contentLength == 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}

	body := make([]byte, contentLength)
	_, err := io.ReadFull(s.reader, body)
	if err != nil {
		return nil, fmt.Errorf("error reading body: %w", err)
	}

	var msg JSONRPCMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("error parsing message: %w", err)
	}

	return &msg, nil
}

// sendResponse sends a JSON-RPC response.
func (s *Server) sendResponse(id *json.RawMessage, result any, err *JSONRPCError) {
	msg := JSONRPCMessage{
		JSONRPC: "2.0",
		ID:      id,
	}

	if err != nil {
		msg.Error = err
	} else {
		resultBytes, _ := json.Marshal(result)
		msg.Result = resultBytes
	}

	s.writeMessage(&msg)
}

// sendNotification sends a JSON-RPC notification (no ID).
func (s *Server) sendNotification(method string, params any) {
	msg := JSONRPCMessage{
		JSONRPC: "2.0",
		Method:  method,
	}

	if params != nil {
		paramsBytes, _ := json.Marshal(params)
		msg.Params = paramsBytes
	}

	s.writeMessage(&msg)
}

// writeMessage writes a JSON-RPC message to the output stream.
func (s *Server) writeMessage(msg *JSONRPCMessage) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	body, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("Error marshaling message", "error", err)
		return
	}

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))
	_, _ = s.writer.Write([]byte(header))
	_, _ = s.writer.Write(body)
}

// handleMessage dispatches a message to the appropriate handler.
func (s *Server) handleMessage(msg *JSONRPCMessage) error {
	s.logger.Debug("Received", "method", msg.Method)

	switch msg.Method {
	case "initialize":
		return s.handleInitialize(msg)
	case "initialized":
		return s.handleInitialized(msg)
	case "shutdown":
		return s.handleShutdown(msg)
	case "exit":
		return s.handleExit(msg)
	case "textDocument/didOpen":
		return s.handleDidOpen(msg)
	case "textDocument/didClose":
		return s.handleDidClose(msg)
	case "textDocument/didChange":
		return s.handleDidChange(msg)
	case "textDocument/didSave":
		return s.handleDidSave(msg)
	case "textDocument/completion":
		return s.handleCompletion(msg)
	case "textDocument/hover":
		return s.handleHover(msg)
	case "textDocument/definition":
		return s.handleDefinition(msg)
	case "textDocument/references":
		return s.handleReferences(msg)
	case "textDocument/documentSymbol":
		return s.handleDocumentSymbol(msg)
	case "textDocument/signatureHelp":
		return s.handleSignatureHelp(msg)
	default:
		if msg.ID != nil {
			// Unknown method with ID - respond with method not found
			s.sendResponse(msg.ID, nil, &JSONRPCError{
				Code:    -32601,
				Message: "Method not found: " + msg.Method,
			})
		}
		return nil
	}
}

// --- Lifecycle handlers ---

func (s *Server) handleInitialize(msg *JSONRPCMessage) error {
	var params InitializeParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.sendResponse(msg.ID, nil, &JSONRPCError{Code: -32602, Message: err.Error()})
		return err
	}

	s.projectRoot = URIToPath(params.RootURI)
	if s.projectRoot != "" && !filepath.IsAbs(s.includeDir) {
		s.includeDir = filepath.Join(s.projectRoot, s.includeDir)
	}
	s.logger.Info("Project root", "path", s.projectRoot, "include_dir", s.includeDir)

	result := InitializeResult{
		Capabilities: ServerCapabilities{
			TextDocumentSync: &TextDocumentSyncOptions{
				OpenClose: true,
				Change:    TextDocumentSyncKindFull,
				Save: &SaveOptions{
					IncludeText: true,
				},
			},
			CompletionProvider: &CompletionOptions{
				TriggerCharacters: []string{"_"},
			},
			HoverProvider:          true,
			DefinitionProvider:     true,
			ReferencesProvider:     true,
			DocumentSymbolProvider: true,
			SignatureHelpProvider: &SignatureHelpOptions{
				TriggerCharacters: []string{"(", ","},
			},
		},
		ServerInfo: &ServerInfo{
			Name:    "ssl-lsp",
			Version: Version,
		},
	}

	s.sendResponse(msg.ID, result, nil)
	return nil
}

func (s *Server) handleInitialized(_ *JSONRPCMessage) error {
	s.initialized = true
	s.logger.Info("Server initialized")

	if s.grammar == nil {
		s.sendNotification("window/showMessage", &ShowMessageParams{
			Type:    MessageTypeWarning,
			Message: "Parser library not configured. Diagnostics and symbols are disabled; set parser_library in ssl-lsp.yaml.",
		})
	}

	return nil
}

func (s *Server) handleShutdown(msg *JSONRPCMessage) error {
	s.shutdownMu.Lock()
	s.shutdown = true
	s.shutdownMu.Unlock()

	s.sendResponse(msg.ID, nil, nil)
	s.logger.Info("Server shutdown")
	return nil
}

func (s *Server) handleExit(_ *JSONRPCMessage) error {
	s.shutdownMu.RLock()
	clean := s.shutdown
	s.shutdownMu.RUnlock()

	// Exit without a prior shutdown request is an abnormal termination.
	code := 1
	if clean {
		code = 0
	}
	s.logger.Info("Server exit", "code", code)
	s.exit(code)
	return nil
}

// --- Document handlers ---

func (s *Server) handleDidOpen(msg *JSONRPCMessage) error {
	var params DidOpenTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}

	doc := s.documents.Open(params.TextDocument.URI, params.TextDocument.Text, params.TextDocument.Version)
	s.logger.Info("Opened", "uri", params.TextDocument.URI)

	s.analyze(doc)
	return nil
}

func (s *Server) handleDidClose(msg *JSONRPCMessage) error {
	var params DidCloseTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}

	s.documents.Close(params.TextDocument.URI)
	if s.watcher != nil {
		s.watcher.Forget(params.TextDocument.URI)
	}
	s.logger.Info("Closed", "uri", params.TextDocument.URI)

	// Clear diagnostics
	s.sendNotification("textDocument/publishDiagnostics", &PublishDiagnosticsParams{
		URI:         params.TextDocument.URI,
		Diagnostics: []Diagnostic{},
	})

	return nil
}

func (s *Server) handleDidChange(msg *JSONRPCMessage) error {
	var params DidChangeTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}

	// We use full sync, so take the last change
	if len(params.ContentChanges) == 0 {
		return nil
	}
	lastChange := params.ContentChanges[len(params.ContentChanges)-1]
	doc := s.documents.Update(params.TextDocument.URI, lastChange.Text, params.TextDocument.Version)
	if doc == nil {
		return nil
	}

	s.analyze(doc)
	return nil
}

func (s *Server) handleDidSave(msg *JSONRPCMessage) error {
	var params DidSaveTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}

	doc := s.documents.Get(params.TextDocument.URI)
	if doc == nil {
		return nil
	}
	s.logger.Info("Saved", "uri", params.TextDocument.URI)

	s.analyze(doc)
	return nil
}

// --- Feature handlers ---

func (s *Server) handleCompletion(msg *JSONRPCMessage) error {
	var params CompletionParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.sendResponse(msg.ID, nil, &JSONRPCError{Code: -32602, Message: err.Error()})
		return err
	}

	items := s.getCompletions(params)
	s.sendResponse(msg.ID, &CompletionList{Items: items}, nil)
	return nil
}

func (s *Server) handleHover(msg *JSONRPCMessage) error {
	var params HoverParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.sendResponse(msg.ID, nil, &JSONRPCError{Code: -32602, Message: err.Error()})
		return err
	}

	hover := s.getHover(params)
	s.sendResponse(msg.ID, hover, nil)
	return nil
}

func (s *Server) handleDefinition(msg *JSONRPCMessage) error {
	var params DefinitionParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.sendResponse(msg.ID, nil, &JSONRPCError{Code: -32602, Message: err.Error()})
		return err
	}

	location := s.getDefinition(params)
	s.sendResponse(msg.ID, location, nil)
	return nil
}

func (s *Server) handleReferences(msg *JSONRPCMessage) error {
	var params ReferenceParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.sendResponse(msg.ID, nil, &JSONRPCError{Code: -32602, Message: err.Error()})
		return err
	}

	locations := s.getReferences(params)
	s.sendResponse(msg.ID, locations, nil)
	return nil
}

func (s *Server) handleDocumentSymbol(msg *JSONRPCMessage) error {
	var params DocumentSymbolParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.sendResponse(msg.ID, nil, &JSONRPCError{Code: -32602, Message: err.Error()})
		return err
	}

	symbols := s.getDocumentSymbols(params)
	s.sendResponse(msg.ID, symbols, nil)
	return nil
}

func (s *Server) handleSignatureHelp(msg *JSONRPCMessage) error {
	var params SignatureHelpParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.sendResponse(msg.ID, nil, &JSONRPCError{Code: -32602, Message: err.Error()})
		return err
	}

	help := s.getSignatureHelp(params)
	s.sendResponse(msg.ID, help, nil)
	return nil
}

// --- Analysis pipeline ---

// analyze re-extracts macros and re-parses the document snapshot,
// publishes the results atomically, and refreshes diagnostics. When the
// snapshot has been superseded by a newer edit the results are discarded
// without publishing.
func (s *Server) analyze(doc *Document) {
	macros := s.extractor.Extract(doc.Content, s.includeDir, doc.Macros)

	var diagnostics []Diagnostic
	var parse *sslc.ParseResult
	if s.grammar != nil {
		result, err := s.runGrammar(doc)
		if err != nil {
			diagnostics = append(diagnostics, Diagnostic{
				Range:    Range{Start: Position{Line: 0, Character: 0}, End: Position{Line: 0, Character: 0}},
				Severity: DiagnosticSeverityError,
				Source:   "ssl-lsp",
				Message:  err.Error(),
			})
		} else {
			parse = result
		}
	}

	if !s.documents.SetResults(doc.URI, doc.Version, macros, parse) {
		return
	}
	if s.watcher != nil {
		s.watcher.Track(doc.URI, macros.Files)
	}

	if diagnostics == nil {
		diagnostics = []Diagnostic{}
	}
	s.sendNotification("textDocument/publishDiagnostics", &PublishDiagnosticsParams{
		URI:         doc.URI,
		Diagnostics: diagnostics,
	})
}

// runGrammar persists the in-memory text to a scratch file and hands it
// to the parser library. The scratch file is removed afterwards.
func (s *Server) runGrammar(doc *Document) (*sslc.ParseResult, error) {
	scratch := filepath.Join(s.cfg.ScratchDir, "ssl-lsp-"+uuid.NewString()+".ssl")
	if err := os.WriteFile(scratch, []byte(doc.Content), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write scratch file: %w", err)
	}
	defer func() { _ = os.Remove(scratch) }()

	return s.grammar.Parse(scratch, doc.Path, s.includeDir)
}
