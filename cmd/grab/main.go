// Command grab collects purchase history from mail into a local store.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/grab/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
