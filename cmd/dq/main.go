package main

import (
	"os"

	"github.com/wonny/regtech-dq/cmd/dq/commands"
)

// main is the entry point for the data-quality CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/dq [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
