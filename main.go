package main

import (
	"os"

	"github.com/igorsilveira/parley/cmd/parley"
)

func main() {
	if err := parley.Execute(); err != nil {
		os.Exit(1)
	}
}
