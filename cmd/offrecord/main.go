package main

import (
	"os"

	"offrecord/cmd/offrecord/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
