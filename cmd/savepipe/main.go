// Command savepipe validates entity metadata and runs save pipeline
// scenarios.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/savepipe/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
