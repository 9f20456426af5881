package main

import (
	"os"

	"github.com/gluk-w/codelive/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
