// Package main is the entry point for the agent-keeper CLI.
package main

import (
	"fmt"
	"os"

	"github.com/twistedx/agent-keeper/cmd/agent-keeper/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
