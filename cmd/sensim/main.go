// Package main provides the sensim command line tool.
package main

import (
	"os"
)

const version = "v0.1.0-dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
