// cmd/tools/nlsqlctl/main.go
package main

import (
	"fmt"
	"os"

	"nlsql-workers/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
