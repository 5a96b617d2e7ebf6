package database

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
)

var (
	versionPattern = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)
	distribPattern = regexp.MustCompile(`Distrib\s+(\d+)\.(\d+)\.(\d+)`)
	verPattern     = regexp.MustCompile(`Ver\s+(\d+)\.(\d+)\.(\d+)`)
)

// Version is a MySQL version triple. The zero value means unknown.
type Version struct {
	Major int
	Minor int
	Patch int
}

// ParseVersion extracts the first x.y.z triple from s, e.g. "8.0.32-0ubuntu0.22.04.2".
func ParseVersion(s string) (Version, error) {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("no version found in %q", s)
	}
	return versionFromMatch(m), nil
}

// ParseClientVersion parses `mysqldump --version` output. Old clients report
// their own tool version after "Ver" and the server line after "Distrib".
func ParseClientVersion(s string) (Version, error) {
	if m := distribPattern.FindStringSubmatch(s); m != nil {
		return versionFromMatch(m), nil
	}
	if m := verPattern.FindStringSubmatch(s); m != nil {
		return versionFromMatch(m), nil
	}
	return Version{}, fmt.Errorf("unrecognized client version output %q", s)
}

func versionFromMatch(m []string) Version {
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	patch, _ := strconv.Atoi(m[3])
	return Version{Major: major, Minor: minor, Patch: patch}
}

// IsZero reports whether the version is unknown.
func (v Version) IsZero() bool {
	return v == Version{}
}

// Less reports whether v sorts before o.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

// AtLeast reports whether v >= major.minor.patch.
func (v Version) AtLeast(major, minor, patch int) bool {
	return !v.Less(Version{Major: major, Minor: minor, Patch: patch})
}

func (v Version) String() string {
	if v.IsZero() {
		return "unknown"
	}
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// ClientVersion runs `<binary> --version`.
func ClientVersion(ctx context.Context, binary string) (Version, error) {
	out, err := exec.CommandContext(ctx, binary, "--version").Output()
	if err != nil {
		return Version{}, fmt.Errorf("failed to run %s --version: %w", binary, err)
	}
	return ParseClientVersion(string(out))
}
