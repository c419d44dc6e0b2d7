package main

import (
	"os"

	"github.com/chadiek/agent-playground/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
