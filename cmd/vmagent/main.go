package main

import (
	"os"

	"github.com/vmagent/vmagent/cmd/vmagent/cmds"
	"github.com/vmagent/vmagent/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.AgentVersion.Build = Build
	}

	if err := cmds.New(false).Execute(); err != nil {
		os.Exit(1)
	}
}
