package main

import (
	"fmt"
	"os"

	"github.com/cinderfn/cinder/internal/cli"
	"github.com/cinderfn/cinder/internal/runner"
)

func main() {
	// Functions this binary can execute. Embedding applications build
	// their own main and register their own handlers here.
	registry := runner.NewRegistry()

	cmd := cli.NewRootCommand(registry)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
