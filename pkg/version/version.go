// Package version exposes build metadata for the scout binary.
package version

import "runtime/debug"

// Version is the semantic version of the binary, set via ldflags at release
// build time. Defaults to the module version recorded in build info.
var Version = "dev"

// Commit is the VCS revision the binary was built from, set via ldflags.
var Commit = "unknown"

// Date is the build timestamp, set via ldflags.
var Date = "unknown"

// InitBinaryVersion fills unset fields from the embedded build info.
// ldflags-provided values always win.
func InitBinaryVersion() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}

	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if Commit == "unknown" {
				Commit = setting.Value
			}
		case "vcs.time":
			if Date == "unknown" {
				Date = setting.Value
			}
		}
	}
}
