package main

import (
	"os"

	"github.com/rovshanmuradov/solana-papertrader/cmd/papertrader/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
