package main

import (
	"fmt"
	"os"

	"github.com/alryyan1/salesync/internal/cli"
)

func main() {
	rootCmd := cli.NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		// Commands silence cobra's own error printing and return
		// ExitErrors carrying the process exit code.
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
