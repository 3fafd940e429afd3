// Package distro implements the Distro Resolver and Providers: Linux
// distro detection plus a table-driven dispatcher over per-distro
// package manager commands. It is grounded on the teacher's
// cmd/tools.go printOSDetails, which already switches on runtime.GOOS
// and shells out to `uname`/`lsb_release` for diagnostics — generalised
// here into parsing /etc/os-release directly rather than shelling out,
// since that file's own key=value syntax is simpler to parse than to
// shell out for.
package distro

import (
	"os"
	"strings"
	"time"

	"github.com/dotnet-acquire/acquire-core/pkg/acquireerr"
	"github.com/dotnet-acquire/acquire-core/pkg/cache"
)

// Info is the detected distro identity: its NAME and VERSION_ID
// fields from os-release.
type Info struct {
	Name      string
	VersionID string
}

const systemInfoCacheKey = "distro:os-release"

// SystemInfoCacheTTL bounds how long a detected distro identity stays
// cached: it changes only on OS upgrade, so a long TTL is appropriate.
const SystemInfoCacheTTL = 24 * time.Hour

var osReleasePaths = []string{"/etc/os-release", "/usr/lib/os-release"}

// Detect parses /etc/os-release, falling back to /usr/lib/os-release,
// caching the result for SystemInfoCacheTTL.
func Detect(c *cache.Cache) (Info, error) {
	if c != nil {
		if cached, ok := c.Get(systemInfoCacheKey); ok {
			return decodeInfo(cached), nil
		}
	}

	var raw []byte
	var err error
	for _, path := range osReleasePaths {
		raw, err = os.ReadFile(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		return Info{}, acquireerr.DistroUnknown()
	}

	info := parseOSRelease(raw)
	if info.Name == "" || info.VersionID == "" {
		return Info{}, acquireerr.DistroUnknown()
	}

	if c != nil {
		c.Put(systemInfoCacheKey, encodeInfo(info), SystemInfoCacheTTL.Milliseconds())
	}
	return info, nil
}

// parseOSRelease parses os-release's key=value, optionally-quoted
// format.
func parseOSRelease(raw []byte) Info {
	var info Info
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		value = unquote(strings.TrimSpace(value))
		switch strings.TrimSpace(key) {
		case "NAME":
			info.Name = value
		case "VERSION_ID":
			info.VersionID = value
		}
	}
	return info
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func encodeInfo(i Info) []byte { return []byte(i.Name + "\x00" + i.VersionID) }
func decodeInfo(b []byte) Info {
	name, versionID, _ := strings.Cut(string(b), "\x00")
	return Info{Name: name, VersionID: versionID}
}
