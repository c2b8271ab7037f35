// Package apl provides the version information for the APL toolchain.
package apl

// Version is the current version of the APL toolchain.
const Version = "0.1.0"

// Generator identifies the compiler in emitted IR artifacts.
const Generator = "apl/" + Version

// GetVersion returns the current version string.
func GetVersion() string {
	return Version
}
