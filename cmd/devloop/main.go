// devloop watches plugin sources, rebuilds them on change, and keeps a
// development server running with the freshest artifact.
package main

import (
	"os"

	"github.com/hupe1980/devloop/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
