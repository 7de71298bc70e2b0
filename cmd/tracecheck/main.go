// Command tracecheck validates that a trace id propagates across
// independently launched operations.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/tracecheck/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "tracecheck:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
