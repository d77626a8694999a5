package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ssltools/ssl-lsp/internal/macro"
)

// NewMacrosCommand creates the macros command.
func NewMacrosCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "macros <file.ssl>",
		Short: "Extract and list the macros visible in a script",
		Long: `Extract every macro a script sees, including those pulled in
through #include headers, and print them as a table. Useful for checking
what the editor features will resolve against.`,
		Example: `  # List macros of a script, resolving includes against headers/
  ssl-lsp macros --include-dir headers scripts/obj_dude.ssl`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMacros(cmd, args[0])
		},
	}
}

func runMacros(cmd *cobra.Command, path string) error {
	cfg := ConfigFrom(cmd.Context())
	logger := LoggerFrom(cmd.Context())

	text, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	extractor := macro.NewExtractor(logger)
	if cfg.MaxIncludeFiles > 0 {
		extractor.MaxIncludeFiles = cfg.MaxIncludeFiles
	}
	if cfg.MaxFileSize > 0 {
		extractor.MaxFileSize = int64(cfg.MaxFileSize)
	}
	set := extractor.Extract(string(text), cfg.IncludeDir, nil)

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Name", "Kind", "Body", "Source", "Line"})

	for _, name := range set.Names() {
		m, _ := set.Lookup(name)
		kind := "object"
		if m.IsFunctionLike() {
			kind = m.Signature()
		}
		source := "(document)"
		if m.SourceFile != "" {
			source = m.SourceFile
		}
		t.AppendRow(table.Row{m.Name, kind, truncate(m.Body, 48), source, m.DeclaredLine})
	}

	t.SetStyle(table.StyleLight)
	t.Render()

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d macros from %d files\n", set.Len(), len(set.Files)+1)
	return nil
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
