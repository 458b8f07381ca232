package version

import "fmt"

// Set at link time, e.g.
// go build -ldflags "-X git.home.luguber.info/inful/indexwatch/internal/version.Version=v1.0.0".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// String renders the version banner shown by --version and the admin API.
func String() string {
	if GitCommit == "unknown" {
		return Version
	}
	return fmt.Sprintf("%s (%s, built %s)", Version, GitCommit, BuildTime)
}
