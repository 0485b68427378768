package soundstream

import (
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/host"
)

var (
	streamLog    = log.New(os.Stderr, "[stream] ", log.LstdFlags)
	timingLog    = log.New(os.Stderr, "[timing] ", log.LstdFlags)
	wireLog      = log.New(os.Stderr, "[wire] ", log.LstdFlags)
	autoTimingLog = log.New(os.Stderr, "[autotiming] ", log.LstdFlags)

	verbose bool
)

// SetVerbose toggles debug-level logging across all subsystems.
func SetVerbose(v bool) { verbose = v }

func debugf(l *log.Logger, format string, args ...any) {
	if verbose {
		l.Printf(format, args...)
	}
}

// BuildInfo describes the running binary, surfaced alongside a
// one-line host diagnostics banner at startup.
type BuildInfo struct {
	GoVersion string
	GOOS      string
	GOARCH    string
}

// CurrentBuildInfo returns the BuildInfo for the running process.
func CurrentBuildInfo() BuildInfo {
	return BuildInfo{GoVersion: runtime.Version(), GOOS: runtime.GOOS, GOARCH: runtime.GOARCH}
}

// LogStartupBanner writes one line identifying the build and host to
// the stream logger, for post-mortem debugging of client reports.
func LogStartupBanner() {
	bi := CurrentBuildInfo()
	hostLine := "unknown host"
	if info, err := host.Info(); err == nil {
		hostLine = fmt.Sprintf("%s %s (%s)", info.Platform, info.PlatformVersion, info.KernelArch)
	}
	streamLog.Printf("soundstream starting: go=%s os=%s arch=%s host=%s", bi.GoVersion, bi.GOOS, bi.GOARCH, hostLine)
}
