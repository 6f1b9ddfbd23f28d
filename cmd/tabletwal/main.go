// Command tabletwal is the corestore CLI entrypoint: walctl, cachectl, and
// tabletserver run all live behind the Cobra command tree built in
// internal/cli.
package main

import (
	"fmt"
	"os"

	"github.com/tabletkv/corestore/internal/cli"
)

func main() {
	if err := cli.BuildCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
