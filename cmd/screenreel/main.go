package main

import (
	"fmt"
	"os"

	"github.com/offlinefirst/screenreel/internal/cmd"
)

func main() {
	root := cmd.NewRootCommand()
	if err := root.Execute(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "screenreel:", err)
		os.Exit(1)
	}
}
