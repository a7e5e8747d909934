package main

import (
	"os"

	"github.com/ingestpipe/ingestpipe/internal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}