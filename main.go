package main

import (
	"fmt"
	"os"

	"vmtunnel/cmd"
)

func main() {
	// If no command specified, default to list
	if len(os.Args) == 1 {
		os.Args = []string{os.Args[0], "list"}
	}

	root := cmd.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
