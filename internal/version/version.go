// Package version compares pod software versions by major and minor number.
package version

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// MajorMinor is the comparable part of a pod version.
type MajorMinor struct {
	Major int64
	Minor int64
}

// Parse extracts major and minor from v. Every dot-separated part must be
// an integer and at least "major.minor" is required, so "0.5.0.1" parses
// while "0.6.0-rc1" does not.
func Parse(v string) (MajorMinor, bool) {
	parts := strings.Split(strings.TrimSpace(v), ".")
	if len(parts) < 2 {
		return MajorMinor{}, false
	}
	nums := make([]int64, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return MajorMinor{}, false
		}
		nums[i] = n
	}
	return MajorMinor{Major: nums[0], Minor: nums[1]}, true
}

// ValidateReference checks a configured reference version. It must be a
// semantic release version without pre-release or build metadata.
func ValidateReference(v string) error {
	sv, err := semver.StrictNewVersion(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%q is not a release version: %w", v, err)
	}
	if sv.Prerelease() != "" || sv.Metadata() != "" {
		return fmt.Errorf("%q is a pre-release version", v)
	}
	return nil
}

// index flattens a version the way the network's release numbering is
// compared: ten minors per major.
func (m MajorMinor) index() int64 {
	return m.Major*10 + m.Minor
}

// Distance returns how many minor versions current is behind latest,
// never negative. Malformed input on either side yields 0.
func Distance(current, latest string) int {
	cur, ok := Parse(current)
	if !ok {
		return 0
	}
	lat, ok := Parse(latest)
	if !ok {
		return 0
	}
	d := lat.index() - cur.index()
	if d < 0 {
		return 0
	}
	return int(d)
}

// OneMinorBehind reports whether current has the same major as latest and
// a minor exactly one lower.
func OneMinorBehind(current, latest string) bool {
	cur, ok := Parse(current)
	if !ok {
		return false
	}
	lat, ok := Parse(latest)
	if !ok {
		return false
	}
	return cur.Major == lat.Major && lat.Minor > 0 && cur.Minor == lat.Minor-1
}
