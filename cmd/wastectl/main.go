// Command wastectl is the operator CLI for the report server: schema
// migration, zone routing checks, ledger reconciliation and test tokens.
package main

import (
	"os"

	"github.com/greencredits/report-server/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
