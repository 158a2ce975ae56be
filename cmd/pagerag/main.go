// Command pagerag is the entry point for the page-scoped RAG service of the
// learning portal. It provides a CLI (via Cobra) for ingesting and querying
// pages and an HTTP server for the portal backend.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/pagerag/cmd/pagerag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
