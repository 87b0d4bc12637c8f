// Command navsql rewrites navigation-bearing query expressions into
// relational trees and SQLite statements.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/navsql/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "navsql:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
