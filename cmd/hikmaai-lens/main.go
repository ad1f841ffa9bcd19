// ABOUTME: Main entry point for hikmaai-lens CLI
// ABOUTME: Initializes cobra root command and executes CLI

package main

import (
	"errors"
	"fmt"
	"os"
)

// Version information (set by ldflags).
var (
	version   = "dev"
	gitSHA    = "unknown"
	buildTime = "unknown"
)

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
