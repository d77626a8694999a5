// Package main provides the CLI entry point for ssl-lsp.
package main

import (
	"os"

	"github.com/ssltools/ssl-lsp/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
