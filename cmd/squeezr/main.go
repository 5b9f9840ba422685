// Package main is the entry point for the squeezr command.
package main

import (
	"os"

	"github.com/jmylchreest/squeezr/cmd/squeezr/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
