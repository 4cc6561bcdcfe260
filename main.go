// ./main.go
package main

import (
	"github.com/vulncontext/vulncontext-cli/cmd"
)

// main is the entry point for the vulncontext CLI.
func main() {
	// Execute the root command defined in the cmd package.
	// This handles all command-line parsing, configuration, and execution.
	cmd.Execute()
}
