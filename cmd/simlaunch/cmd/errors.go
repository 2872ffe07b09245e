package cmd

import (
	"fmt"
	"os"

	"github.com/zeroth-labs/simlaunch/pkg/lerr"
)

// exitCode maps an error to the process exit code for its failure class.
// jobExit is propagated verbatim for crashed jobs.
func exitCode(err error, jobExit int) int {
	return lerr.ExitCode(err, jobExit)
}

// fail prints a distinguishable error kind plus the underlying cause and
// exits with the class-specific code.
func fail(err error, jobExit int) {
	if err == nil {
		return
	}
	// lerr errors already render as "<kind>: <cause>".
	fmt.Fprintf(os.Stderr, "simlaunch: %v\n", err)
	os.Exit(exitCode(err, jobExit))
}
