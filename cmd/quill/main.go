package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/quillml/quill/cmd/quill/cmd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "quill crashed: %v\n", r)
			if os.Getenv("QUILL_DEBUG") != "" {
				debug.PrintStack()
			}
			os.Exit(2)
		}
	}()

	cmd.Execute()
}
