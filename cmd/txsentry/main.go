package main

import (
	"os"

	"github.com/txsentry/txsentry/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
