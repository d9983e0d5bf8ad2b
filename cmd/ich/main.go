package main

import (
	"os"

	"github.com/buildfail/ich/cmd/ich/cmds"
	"github.com/buildfail/ich/pkg/logflags"
	"github.com/buildfail/ich/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.IchVersion.Build = Build
	}
	if err := cmds.New().Execute(); err != nil {
		logflags.WriteError(err.Error())
		os.Exit(1)
	}
}
