// Package main provides the entry point for the vecsync CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/vecsync/cmd/vecsync/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
