// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package version

import (
	"fmt"
	"strings"
)

var (
	// GitCommit is the compiled revision, filled in by the makefile.
	GitCommit string

	// Version is the main version number.
	Version = "0.4.0"

	// VersionPrerelease marks the version as pre-release. Empty for
	// final releases.
	VersionPrerelease = "dev"
)

// VersionInfo describes the running build.
type VersionInfo struct {
	Revision          string
	Version           string
	VersionPrerelease string
}

func GetVersion() *VersionInfo {
	return &VersionInfo{
		Revision:          GitCommit,
		Version:           Version,
		VersionPrerelease: VersionPrerelease,
	}
}

func (v *VersionInfo) VersionNumber() string {
	version := v.Version
	if v.VersionPrerelease != "" {
		version = fmt.Sprintf("%s-%s", version, v.VersionPrerelease)
	}
	return version
}

func (v *VersionInfo) FullVersionNumber(rev bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "qmanager v%s", v.VersionNumber())
	if rev && v.Revision != "" {
		fmt.Fprintf(&sb, " (%s)", v.Revision)
	}
	return sb.String()
}
