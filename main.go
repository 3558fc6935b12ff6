package main

import (
	"os"

	"github.com/ekaya-inc/insightpilot/pkg/cli"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	os.Exit(cli.Execute(Version))
}
