// Package main provides the entry point for the framegrab CLI.
package main

import (
	"os"

	"github.com/maauso/framegrab/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
