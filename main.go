// r2browser - Cloudflare R2 object storage browser.
//
// One binary serves two roles: `r2browser serve` runs the loopback HTTP
// broker that desktop and web front-ends connect to, and the remaining
// subcommands drive R2 directly from the terminal.
package main

import (
	"os"

	"github.com/r2browser/r2browser/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
