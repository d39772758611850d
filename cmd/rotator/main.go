package main

import (
	"os"

	"github.com/wonny/aegis-rotator/cmd/rotator/commands"
)

// main is the entry point for the rotator CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/rotator [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
