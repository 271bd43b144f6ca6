// Command server is the chainoftrust entry point. With no arguments it
// behaves like "serve".
package main

import (
	"fmt"
	"os"

	"github.com/youruser/chainoftrust/internal/cli"
)

// Build information injected via ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cli.SetVersion(fmt.Sprintf("%s (commit: %s)", version, commit))
	if err := cli.Execute(defaultArgs(os.Args[1:])); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultArgs(args []string) []string {
	if len(args) == 0 {
		return []string{"serve"}
	}
	return args
}
