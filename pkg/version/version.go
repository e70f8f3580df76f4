// Package version holds the build-time version string, overridden via
// -ldflags the same way the teacher stamps its own binaries.
package version

// Version is overridden at build time:
// -X github.com/linkerd/node-runtime/pkg/version.Version=...
var Version = "unknown"
