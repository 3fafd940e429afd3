package distro

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseOSReleaseStripsQuotes(t *testing.T) {
	raw := []byte("NAME=\"Ubuntu\"\nVERSION_ID=\"22.04\"\nID=ubuntu\n")
	info := parseOSRelease(raw)
	assert.Equal(t, "Ubuntu", info.Name)
	assert.Equal(t, "22.04", info.VersionID)
}

func TestParseOSReleaseHandlesUnquotedValues(t *testing.T) {
	raw := []byte("NAME=Fedora\nVERSION_ID=39\n")
	info := parseOSRelease(raw)
	assert.Equal(t, "Fedora", info.Name)
	assert.Equal(t, "39", info.VersionID)
}

func TestParseOSReleaseIgnoresComments(t *testing.T) {
	raw := []byte("# a comment\nNAME=Debian\nVERSION_ID=\"12\"\n")
	info := parseOSRelease(raw)
	assert.Equal(t, "Debian", info.Name)
	assert.Equal(t, "12", info.VersionID)
}
