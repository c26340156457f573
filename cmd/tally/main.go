// Package main provides the tally CLI, which reconciles a census
// spreadsheet against the zoo database from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/JonMunkholm/zootally/internal/tally"
)

var (
	// Version is set by build flags
	Version = "dev"
)

func main() {
	if err := getRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", tally.FormatUserError(err))
		os.Exit(1)
	}
}
