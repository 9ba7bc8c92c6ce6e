// Package version carries build metadata stamped in at link time.
package version

import (
	"fmt"
	"runtime"
)

// Set via -ldflags at release build time. The zero values identify a
// local source build.
var (
	GitRelease    = "dev"
	GitCommit     = "unknown"
	GitCommitDate = "unknown"
)

// GoInfo describes the toolchain and platform the binary was built for.
var GoInfo = fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
