package main

import (
	"fmt"
	"os"

	"github.com/offlinefirst/inputreplay/internal/cmd"
)

func main() {
	root := cmd.NewRootCommand()
	if err := root.Execute(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "inputreplay:", err)
		os.Exit(1)
	}
}
