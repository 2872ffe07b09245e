package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/zeroth-labs/simlaunch/cmd/simlaunch/cmd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "simlaunch crashed: %v\n", r)
			if os.Getenv("SIMLAUNCH_DEBUG") != "" {
				debug.PrintStack()
			}
			os.Exit(2)
		}
	}()

	cmd.Execute()
}
