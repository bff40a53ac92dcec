/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build version information.
package version

import (
	"fmt"
	"runtime"
)

// Version is the current version of duocast.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/duocast/internal/version.Version=X.Y.Z
var Version = "0.9.3"

// Commit is the git commit the binary was built from, set via ldflags.
var Commit = "unknown"

// String returns a single-line version description.
func String() string {
	return fmt.Sprintf("duocast %s (%s, %s)", Version, Commit, runtime.Version())
}
