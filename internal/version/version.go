// Package version holds build metadata injected with -ldflags.
package version

import "fmt"

const product = "Dori"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"built"`
}

func Get() Info {
	return Info{Version: Version, Commit: Commit, Date: Date}
}

func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s)", product, i.Version, i.Commit, i.Date)
}

// UserAgent identifies outbound requests to reasoning backends.
func UserAgent() string {
	return "dori/" + Version
}
