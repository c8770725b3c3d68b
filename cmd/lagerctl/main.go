package main

import (
	"os"

	"lagerkoll/cmd/lagerctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
