package main

import (
	"os"

	"github.com/wonny/gapscan/cmd/gapscan/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
