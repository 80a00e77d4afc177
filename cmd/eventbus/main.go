package main

import (
	"fmt"
	"os"

	"github.com/rbaliyan/eventbus/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "eventbus: %v\n", err)
		os.Exit(1)
	}
}
