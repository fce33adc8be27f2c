// Package main provides the entry point for the ragengine CLI.
package main

import (
	"os"

	"github.com/trueup-laplace/ragengine/cmd/ragengine/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
