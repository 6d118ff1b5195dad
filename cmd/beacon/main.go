package main

import (
	"os"

	"beacon/cmd/beacon/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
