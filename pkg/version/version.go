// Package version carries the tool version and decides which config files
// it can read.
package version

import (
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
)

// Version is overridden at build time with -ldflags "-X".
var Version = "0.3.0"

type SemVer struct {
	Major int
	Minor int
	Patch int
}

func (v SemVer) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// ParseSemVer parses "MAJOR.MINOR.PATCH" with an optional "v" prefix.
func ParseSemVer(raw string) (SemVer, error) {
	value := strings.TrimPrefix(strings.TrimSpace(raw), "v")
	if value == "" {
		return SemVer{}, fmt.Errorf("version is empty")
	}

	parts := strings.Split(value, ".")
	if len(parts) != 3 {
		return SemVer{}, fmt.Errorf("invalid semantic version %q (expected MAJOR.MINOR.PATCH)", raw)
	}

	var nums [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return SemVer{}, fmt.Errorf("invalid %s version in %q", [3]string{"major", "minor", "patch"}[i], raw)
		}
		nums[i] = n
	}

	return SemVer{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// Compare returns -1, 0 or 1 as a is older than, equal to or newer than b.
func Compare(a, b SemVer) int {
	for _, d := range [3]int{a.Major - b.Major, a.Minor - b.Minor, a.Patch - b.Patch} {
		switch {
		case d < 0:
			return -1
		case d > 0:
			return 1
		}
	}
	return 0
}

// EnsureCompatible fails when target was written by a newer or different
// major release of plugindb. Empty versions are accepted.
func EnsureCompatible(target string) error {
	value := strings.TrimSpace(target)
	if value == "" {
		return nil
	}

	current, err := ParseSemVer(Version)
	if err != nil {
		return fmt.Errorf("parse current version %q: %w", Version, err)
	}
	required, err := ParseSemVer(value)
	if err != nil {
		return err
	}

	if required.Major != current.Major {
		return fmt.Errorf("unsupported major version %d (current major is %d)", required.Major, current.Major)
	}
	if Compare(current, required) < 0 {
		return fmt.Errorf("requires plugindb >= %s (current %s)", required, current)
	}
	return nil
}

// Long is the version line printed by the version command.
func Long() string {
	out := "plugindb " + Version
	if info, ok := debug.ReadBuildInfo(); ok {
		out += " (" + info.GoVersion
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 7 {
				out += ", " + s.Value[:7]
			}
		}
		out += ")"
	}
	return out
}
