// The defectwise binary is the command line interface: local analysis
// and export, taxonomy inspection, and remote dashboard queries.
package main

import (
	"os"

	"github.com/defectwise/defectwise/internal/interfaces/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
