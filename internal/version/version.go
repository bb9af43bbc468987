package version

import (
	"fmt"
	"runtime"
)

// Set at build time with
// -ldflags "-X github.com/bnema/crawlpool/internal/version.Version=v1.2.3".
var (
	Version = "dev"
	Commit  = "none"
)

func String() string {
	return fmt.Sprintf("crawlpool %s (%s, %s/%s)", Version, Commit, runtime.GOOS, runtime.GOARCH)
}
