package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ssltools/ssl-lsp/internal/builtins"
	"github.com/ssltools/ssl-lsp/internal/lsp"
	"github.com/ssltools/ssl-lsp/internal/sslc"
)

// NewLSPCommand creates the lsp command.
func NewLSPCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lsp",
		Short: "Start the Language Server Protocol server",
		Long: `Start the LSP server for IDE integration.

The server communicates over stdin/stdout using JSON-RPC. The include
directory and parser library come from ssl-lsp.yaml, environment
variables, or flags; the project root comes from the client's
initialization request (rootUri parameter).`,
		Example: `  # Start LSP server (usually called by an IDE)
  ssl-lsp lsp`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLSP(cmd)
		},
	}
}

func runLSP(cmd *cobra.Command) error {
	cfg := ConfigFrom(cmd.Context())
	logger := LoggerFrom(cmd.Context())

	catalog, err := builtins.Load()
	if err != nil {
		return err
	}

	var grammar sslc.Grammar
	if cfg.ParserLibrary != "" {
		lib, err := sslc.Open(cfg.ParserLibrary)
		if err != nil {
			// Macro features still work without the parser.
			logger.Warn("Parser library unavailable, running macro-only", "error", err)
		} else {
			defer func() { _ = lib.Close() }()
			grammar = lib
		}
	}

	server := lsp.NewServer(os.Stdin, os.Stdout, lsp.Options{
		Config:   cfg,
		Grammar:  grammar,
		Builtins: catalog,
		Logger:   logger,
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel() // stop the watcher once the client disconnects
		return server.Run()
	})
	g.Go(func() error {
		return server.RunWatcher(ctx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}
