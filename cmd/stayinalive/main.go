// Command stayinalive converts drought index tables into run arrays and
// reorganizes run arrays into per-cell batch archives.
package main

import (
	"fmt"
	"os"

	"github.com/JGCRI/stayinalive/internal/cli"
)

func main() {
	if err := cli.Root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
