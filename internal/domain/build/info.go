// Package build describes the running binary.
package build

import "fmt"

// Info holds build-time information injected via ldflags.
type Info struct {
	Version   string
	Commit    string
	BuildDate string
	GoVersion string
}

// String is the one-line form used in man page footers.
func (i Info) String() string {
	if i.Commit == "" || i.Commit == "unknown" {
		return i.Version
	}
	commit := i.Commit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return fmt.Sprintf("%s (%s)", i.Version, commit)
}

func Contributors() []string {
	return []string{"bnema"}
}

func RepoURL() string {
	return "https://github.com/bnema/vidrender"
}

// Backends lists the back ends compiled into this build, in the order
// probe --all reports them.
func Backends() []string {
	return []string{"drm", "videotunnel", "westeros", "wayland"}
}
