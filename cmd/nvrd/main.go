// Command nvrd runs the lightnvr core: it loads configuration, opens the
// Recording Catalog, resumes every persisted stream's quartet, and serves
// the HTTP API until a tiered, deadline-bounded shutdown completes.
package main

import (
	"fmt"
	"os"

	"github.com/opensensor/lightnvr/cmd/nvrd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
