package main

import (
	"os"

	"github.com/wonny/coarank/backend/cmd/coarank/commands"
)

// main is the entry point for the coarank CLI: go run ./cmd/coarank [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
