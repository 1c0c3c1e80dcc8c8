// Command manualqa answers questions about the Banglalink Retailer App manual.
// It provides a CLI (via Cobra) and an HTTP server for the question and
// manual upload API.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/manualqa-go/cmd/manualqa/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
