package machopatch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelocatePrefixStringsPadsWithSlashes(t *testing.T) {
	prefixes := sourcePrefixes("fish/4.1.2")
	old := prefixes[2] // "/opt/homebrew/Cellar/fish/4.1.2", 31 bytes
	require.Equal(t, "/opt/homebrew/Cellar/fish/4.1.2", old)
	require.Len(t, old, 31)

	tail := "-trailing-bytes"
	data := append([]byte(old), []byte(tail)...)
	original := append([]byte(nil), data...)

	relocatePrefixStrings(data, prefixes, "/opt/pac")

	want := "/opt/pac" + strings.Repeat("/", 31-8) + tail
	assert.Equal(t, want, string(data))
	assert.Equal(t, len(original), len(data), "relocation must preserve length")
}

func TestRelocatePrefixStringsRespectsNULBoundaries(t *testing.T) {
	prefixes := sourcePrefixes("fish/4.1.2")

	var data []byte
	data = append(data, []byte("before")...)
	data = append(data, 0)
	data = append(data, []byte(prefixes[2])...)
	data = append(data, 0)
	data = append(data, []byte("after")...)

	relocatePrefixStrings(data, prefixes, "/opt/pac")

	segs := splitOnNUL(data)
	require.Len(t, segs, 3)
	assert.Equal(t, "before", string(segs[0]))
	assert.True(t, strings.HasPrefix(string(segs[1]), "/opt/pac"))
	assert.Equal(t, "after", string(segs[2]))
	assert.Equal(t, len(prefixes[2]), len(segs[1]))
}

func TestRelocatePrefixStringsBrewPrefixPlaceholder(t *testing.T) {
	prefixes := sourcePrefixes("wget/1.25")
	data := []byte(brewPrefixPlaceholder + "XX")

	relocatePrefixStrings(data, prefixes, "/opt/pac")

	want := "/opt/pac" + strings.Repeat("/", len(brewPrefixPlaceholder)-len("/opt/pac")) + "XX"
	assert.Equal(t, want, string(data))
}

func TestRelocateDylibPathHomebrewPrefixPlaceholder(t *testing.T) {
	prefixes := sourcePrefixes("fish/4.1.2")
	original := "@@HOMEBREW_PREFIX@@/lib/libpcre2-8.0.dylib"

	got, matched := relocateDylibPath(original, prefixes, "/opt/pac", "fish/4.1.2")
	require.True(t, matched)
	assert.Equal(t, "/opt/pac/lib/libpcre2-8.0.dylib", got)
}

func TestRelocateDylibPathCellarPrefix(t *testing.T) {
	prefixes := sourcePrefixes("fish/4.1.2")
	original := "/opt/homebrew/Cellar/fish/4.1.2/lib/libfish.dylib"

	got, matched := relocateDylibPath(original, prefixes, "/opt/pac", "fish/4.1.2")
	require.True(t, matched)
	assert.Equal(t, "/opt/pac/lib/libfish.dylib", got)
}

func TestRelocateDylibPathNoMatch(t *testing.T) {
	prefixes := sourcePrefixes("fish/4.1.2")
	_, matched := relocateDylibPath("/usr/lib/libSystem.B.dylib", prefixes, "/opt/pac", "fish/4.1.2")
	assert.False(t, matched)
}

func TestDetectMagic(t *testing.T) {
	assert.Equal(t, magicMachO, detectMagic(machO64Rev))
	assert.Equal(t, magicFat, detectMagic(fatMagic))
	assert.Equal(t, magicUnknown, detectMagic([]byte("not a binary")))
}

func TestPatchFileRejectsOverlongPrefix(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	_, err := PatchFile(path, "fish/4.1.2", "/this/prefix/is/way/too/long/to/fit", "arm64")
	require.Error(t, err)
}
