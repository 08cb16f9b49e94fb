package framework

import "fmt"

// Version information, overridden at build time with
// -ldflags "-X github.com/itsneelabh/agentrelay.Version=...".
var (
	// Version is the release version
	Version = "development"

	// BuildDate is set during build time
	BuildDate = "development"

	// GitCommit is set during build time
	GitCommit = "unknown"
)

// WireVersion names the envelope and registry contract this build speaks.
const WireVersion = "v1"

// VersionString is the -version output of the binaries.
func VersionString(binary string) string {
	return fmt.Sprintf("%s %s (%s, built %s), wire %s", binary, Version, GitCommit, BuildDate, WireVersion)
}
