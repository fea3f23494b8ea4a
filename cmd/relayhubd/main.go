package main

import (
	"os"

	"relayhub/cmd/relayhubd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
