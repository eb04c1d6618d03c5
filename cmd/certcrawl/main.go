package main

import (
	"fmt"
	"os"

	"github.com/roach88/certcrawl/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "certcrawl:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
