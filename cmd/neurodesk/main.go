// Command neurodesk is the entry point for the NeuroDesk document assistant
// backend. It provides a CLI interface (via Cobra) and an HTTP server
// exposing the document upload, retrieval, and question answering API.
package main

import (
	"fmt"
	"os"

	"github.com/neurodesk/neurodesk-go/cmd/neurodesk/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
