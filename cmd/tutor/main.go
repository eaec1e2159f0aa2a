// Command tutor is the entry point for the virtual tutor. It answers
// questions about a folder of PDF study material from the command line or
// over an HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/tutor-go/cmd/tutor/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
