package main

import (
	"runtime"

	"github.com/bnema/vidrender/internal/cli/cmd"
	"github.com/bnema/vidrender/internal/domain/build"
)

// Set with -ldflags "-X main.version=...".
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	prepareProcess()
	cmd.SetBuildInfo(build.Info{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
	})
	cmd.Execute()
}
