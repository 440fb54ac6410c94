package main

import (
	"os"

	"github.com/clofast/clofast/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
