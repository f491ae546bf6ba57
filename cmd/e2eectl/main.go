package main

import (
	"os"

	"github.com/ledgerline/e2ee/cmd/e2eectl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
