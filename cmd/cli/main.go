package main

import (
	"fmt"
	"os"

	"github.com/dmitrijs2005/bagqueue/internal/client/cli"
)

func main() {
	root := cli.NewRootCommand(cli.NewApp, os.Stdout)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
