// Command grovefs is the CLI entrypoint: serve the sync engine, mount it
// as a FUSE filesystem, and export/import bundle archives.
package main

import (
	"fmt"
	"os"

	"github.com/grovefs/grovefs/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
