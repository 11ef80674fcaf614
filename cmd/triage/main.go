// Command triage runs the security triage pipeline over episode logs.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/triage/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
