package main

import (
	"os"

	"github.com/cleared-dev/tally/internal/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		os.Exit(commands.ExitCode(err))
	}
}
