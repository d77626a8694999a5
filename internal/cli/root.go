// Package cli provides the command-line interface for ssl-lsp.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ssltools/ssl-lsp/internal/cli/commands"
	"github.com/ssltools/ssl-lsp/internal/config"
	"github.com/ssltools/ssl-lsp/internal/lsp"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ssl-lsp",
		Short: "ssl-lsp - language intelligence for SSL scripts",
		Long: `ssl-lsp provides editor features for the SSL scripting language:
macro extraction across #include headers, hover, definition, references,
completion, and signature help. The lsp command speaks the Language
Server Protocol over stdin/stdout.`,
		Version: lsp.Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to determine working directory: %w", err)
			}

			cfg, err := config.Load(wd, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}

			// Everything diagnostic goes to stderr; stdout may carry the
			// protocol stream.
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: logLevel(cfg.LogLevel),
			}))

			ctx := commands.WithConfig(cmd.Context(), cfg)
			ctx = commands.WithLogger(ctx, logger)
			cmd.SetContext(ctx)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("include-dir", "", "Root directory for resolving #include paths")
	rootCmd.PersistentFlags().String("parser-library", "", "Path to the SSLC parser shared library")
	rootCmd.PersistentFlags().String("scratch-dir", "", "Directory for parser scratch files")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().Int("max-include-files", 0, "Cap on headers visited per extraction")
	rootCmd.PersistentFlags().Int("max-file-size", 0, "Cap in bytes on a header read during extraction")

	rootCmd.AddCommand(commands.NewLSPCommand())
	rootCmd.AddCommand(commands.NewMacrosCommand())
	rootCmd.AddCommand(commands.NewVersionCommand(lsp.Version))

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
