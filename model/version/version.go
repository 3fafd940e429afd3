// Package version implements Version Utilities: pure functions over
// .NET version strings. It is grounded on the teacher's use of
// Masterminds/semver/v3 for version comparison (model/app/installer.go's
// IsMoreRecent), generalised from cozy's single "is b newer than a"
// helper into a full install-compatibility predicate.
package version

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	semver "github.com/Masterminds/semver/v3"
)

// Version is an immutable value: major, minor, featureBand (0-9),
// patch (0-99), and an optional prerelease tag.
type Version struct {
	Major        int
	Minor        int
	Band         int // feature band, 0-9
	Patch        int // 0-99
	Prerelease   string
	raw          string
}

// Class classifies how fully a version string specifies an install
// target.
type Class int

const (
	ClassMajor Class = iota
	ClassMajorMinor
	ClassBand
	ClassFull
)

var (
	reMajor      = regexp.MustCompile(`^(\d+)$`)
	reMajorMinor = regexp.MustCompile(`^(\d+)\.(\d+)$`)
	reBand       = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d)xx$`)
	reFull       = regexp.MustCompile(`^(\d+)\.(\d+)\.([0-9])(\d{2})(?:-(.+))?$`)
)

// ErrInvalidVersion-shaped failures are returned as plain errors here;
// callers (model/acquire) wrap them with acquireerr.InvalidVersion so
// that this package stays free of the acquisition-core error taxonomy.

// Parse parses a loose version request string into a Version. Only
// the fully-specified form produces a complete Version; the band-only
// form leaves Patch at -1, and the Major/MajorMinor forms also leave
// Band (and, for Major, Minor) at -1 to signal "not yet resolved":
// these resolve to a concrete patch only via web metadata, not here.
func Parse(s string) (Version, error) {
	s = strings.TrimSpace(s)

	if m := reFull.FindStringSubmatch(s); m != nil {
		major, _ := strconv.Atoi(m[1])
		minor, _ := strconv.Atoi(m[2])
		band, _ := strconv.Atoi(m[3])
		patch, _ := strconv.Atoi(m[4])
		return Version{Major: major, Minor: minor, Band: band, Patch: patch, Prerelease: m[5], raw: s}, nil
	}
	if m := reBand.FindStringSubmatch(s); m != nil {
		major, _ := strconv.Atoi(m[1])
		minor, _ := strconv.Atoi(m[2])
		band, _ := strconv.Atoi(m[3])
		return Version{Major: major, Minor: minor, Band: band, Patch: -1, raw: s}, nil
	}
	if m := reMajorMinor.FindStringSubmatch(s); m != nil {
		major, _ := strconv.Atoi(m[1])
		minor, _ := strconv.Atoi(m[2])
		return Version{Major: major, Minor: minor, Band: -1, Patch: -1, raw: s}, nil
	}
	if m := reMajor.FindStringSubmatch(s); m != nil {
		major, _ := strconv.Atoi(m[1])
		return Version{Major: major, Minor: -1, Band: -1, Patch: -1, raw: s}, nil
	}
	return Version{}, fmt.Errorf("invalid version string %q", s)
}

// Classify reports how fully s specifies an install target.
func Classify(s string) (Class, error) {
	switch {
	case reFull.MatchString(s):
		return ClassFull, nil
	case reBand.MatchString(s):
		return ClassBand, nil
	case reMajorMinor.MatchString(s):
		return ClassMajorMinor, nil
	case reMajor.MatchString(s):
		return ClassMajor, nil
	default:
		return 0, fmt.Errorf("invalid version string %q", s)
	}
}

// String formats a fully specified Version back to its canonical
// M.m.Fpp[-tag] form. Round-trips with Parse for any fully specified
// input.
func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d%02d", v.Major, v.Minor, v.Band, v.Patch)
	if v.Prerelease != "" {
		s += "-" + v.Prerelease
	}
	return s
}

func (v Version) GetMajor() int         { return v.Major }
func (v Version) GetMinor() int         { return v.Minor }
func (v Version) GetMajorMinor() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }
func (v Version) GetFeatureBand() int   { return v.Band }
func (v Version) GetPatch() int         { return v.Patch }
func (v Version) GetBandPatch() (int, int) { return v.Band, v.Patch }

// previewPatchBands are the sentinel hundreds-digit bands .NET release
// tooling documents as preview-only (4xx/5xx/... within a feature
// band's patch range), independent of an explicit prerelease tag.
func isPreviewPatch(patch int) bool {
	return patch >= 40 && patch%100 >= 40 && (patch/10)%10 >= 4
}

// IsPreview reports whether v is a preview: either it carries an
// explicit prerelease tag, or its patch falls in a documented preview
// sentinel range.
func (v Version) IsPreview() bool {
	return v.Prerelease != "" || isPreviewPatch(v.Patch)
}

// toSemver projects a Version onto a semver.Version so comparison and
// prerelease ordering can be delegated to Masterminds/semver/v3,
// exactly as the teacher's IsMoreRecent does for cozy app versions:
// major.minor stay as-is, the feature band and patch are folded into
// a single patch component (band*100+patch) since semver only has
// three numeric fields, and the prerelease tag carries through
// unchanged so semver's "prerelease < release" rule applies.
func (v Version) toSemver() (*semver.Version, error) {
	folded := v.Band*100 + v.Patch
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, folded)
	if v.Prerelease != "" {
		s += "-" + v.Prerelease
	}
	return semver.NewVersion(s)
}

// Compare returns <0, 0, >0 comparing a and b: major, minor, feature
// band, then patch, with any prerelease strictly less than the same
// base version without one.
func Compare(a, b Version) int {
	sa, erra := a.toSemver()
	sb, errb := b.toSemver()
	if erra != nil || errb != nil {
		// Fall back to plain lexical tuple comparison if either side
		// doesn't resolve to a complete version (e.g. band-only).
		return compareTuple(a, b)
	}
	return sa.Compare(sb)
}

func compareTuple(a, b Version) int {
	if d := a.Major - b.Major; d != 0 {
		return sign(d)
	}
	if d := a.Minor - b.Minor; d != 0 {
		return sign(d)
	}
	if d := a.Band - b.Band; d != 0 {
		return sign(d)
	}
	return sign(a.Patch - b.Patch)
}

func sign(d int) int {
	switch {
	case d < 0:
		return -1
	case d > 0:
		return 1
	default:
		return 0
	}
}

// Policy is the compatibility policy under which a candidate is
// judged against a requested version.
type Policy string

const (
	PolicyDisable       Policy = "disable"
	PolicyPatch         Policy = "patch"
	PolicyLatestPatch   Policy = "latestPatch"
	PolicyFeature       Policy = "feature"
	PolicyLatestFeature Policy = "latestFeature"
	PolicyMinor         Policy = "minor"
	PolicyLatestMinor   Policy = "latestMinor"
	PolicyMajor         Policy = "major"
	PolicyLatestMajor   Policy = "latestMajor"
)

// IsCompatible reports whether candidate satisfies requested under
// policy.
func IsCompatible(candidate, requested Version, policy Policy) bool {
	switch policy {
	case PolicyDisable:
		return Compare(candidate, requested) == 0
	case PolicyPatch, PolicyLatestPatch:
		return candidate.Major == requested.Major &&
			candidate.Minor == requested.Minor &&
			candidate.Band == requested.Band &&
			candidate.Patch >= requested.Patch
	case PolicyFeature, PolicyLatestFeature:
		if candidate.Major != requested.Major || candidate.Minor != requested.Minor {
			return false
		}
		return lexGE(candidate.Band, candidate.Patch, requested.Band, requested.Patch)
	case PolicyMinor, PolicyLatestMinor:
		if candidate.Major != requested.Major {
			return false
		}
		return lexGE3(candidate.Minor, candidate.Band, candidate.Patch, requested.Minor, requested.Band, requested.Patch)
	case PolicyMajor, PolicyLatestMajor:
		return lexGE4(candidate.Major, candidate.Minor, candidate.Band, candidate.Patch,
			requested.Major, requested.Minor, requested.Band, requested.Patch)
	default:
		return false
	}
}

func lexGE(a1, a2, b1, b2 int) bool {
	if a1 != b1 {
		return a1 > b1
	}
	return a2 >= b2
}

func lexGE3(a1, a2, a3, b1, b2, b3 int) bool {
	if a1 != b1 {
		return a1 > b1
	}
	return lexGE(a2, a3, b2, b3)
}

func lexGE4(a1, a2, a3, a4, b1, b2, b3, b4 int) bool {
	if a1 != b1 {
		return a1 > b1
	}
	return lexGE3(a2, a3, a4, b2, b3, b4)
}

// FilterCompatible returns the subset of installed that is compatible
// with requested under policy, preserving input order.
func FilterCompatible(installed []Version, requested Version, policy Policy) []Version {
	out := make([]Version, 0, len(installed))
	for _, v := range installed {
		if IsCompatible(v, requested, policy) {
			out = append(out, v)
		}
	}
	return out
}
