// Package machopatch rewrites Mach-O binaries (and, textually, any other
// file) that embed the build-time Homebrew install prefix, relocating them
// to point at pac's own install prefix, then applies an ad-hoc code
// signature. This is the hardest subsystem: Go's standard library can
// parse Mach-O (debug/macho) but cannot write one, so everything past
// detection is hand-rolled byte surgery against the raw load-command and
// string-table bytes, always preserving file length.
package machopatch

import (
	"bytes"
	"debug/macho"
	"encoding/binary"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"unicode/utf8"

	"github.com/pacmgr/pac/internal/log"
	"github.com/pacmgr/pac/internal/pacerr"
)

const (
	brewPrefixPlaceholder = "@@HOMEBREW_PREFIX@@"
	brewCellarPlaceholder = "@@HOMEBREW_CELLAR@@"
	brewCellarActual      = "/opt/homebrew/Cellar"

	cputypeX86_64 = 0x01000007
	cputypeARM64  = 0x0100000C

	lcLoadDylib     = 0x0c
	lcIDDylib       = 0x0d
	lcLoadWeakDylib = 0x18
	lcReexportDylib = 0x1f
)

// Mach-O magic byte sequences recognised by detectMagic.
var (
	machO32    = []byte{0xfe, 0xed, 0xfa, 0xce}
	machO64    = []byte{0xfe, 0xed, 0xfa, 0xcf}
	machO32Rev = []byte{0xce, 0xfa, 0xed, 0xfe}
	machO64Rev = []byte{0xcf, 0xfa, 0xed, 0xfe}
	fatMagic   = []byte{0xca, 0xfe, 0xba, 0xbe}
)

// sourcePrefixes returns the three prefixes a bottle's binaries may embed,
// for the package identified by nameVersion (e.g. "fish/4.1.2").
func sourcePrefixes(nameVersion string) [3]string {
	return [3]string{
		brewPrefixPlaceholder,
		brewCellarPlaceholder + "/" + nameVersion,
		brewCellarActual + "/" + nameVersion,
	}
}

// currentArchCputype returns the Mach-O cputype constant for the running
// architecture, so a fat binary's matching slice can be selected.
func currentArchCputype(goarch string) (uint32, error) {
	switch goarch {
	case "arm64":
		return cputypeARM64, nil
	case "amd64":
		return cputypeX86_64, nil
	default:
		return 0, pacerr.New(pacerr.MachOEdit, fmt.Sprintf("unsupported architecture %s", goarch))
	}
}

// PatchFile inspects one file and, if it is a Mach-O image or a matching
// fat slice, rewrites its load-command paths and embedded prefix strings,
// then applies an ad-hoc signature. Non-Mach-O files that parse as UTF-8
// text get the same prefix substitution without length padding. Anything
// else is left untouched. Returns warnings for best-effort failures
// (MachOEdit, signing) the caller should log but not fail the install on.
func PatchFile(path, nameVersion, newPrefix, goarch string) (warnings []string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pacerr.Wrap(pacerr.IO, "read "+path, err)
	}

	prefixes := sourcePrefixes(nameVersion)
	for _, p := range prefixes {
		if len(newPrefix) > len(p) {
			return nil, pacerr.New(pacerr.PrefixTooLong, fmt.Sprintf("prefix %q longer than source prefix %q", newPrefix, p))
		}
	}

	switch magic := detectMagic(data); magic {
	case magicMachO:
		return patchMachOSlice(path, data, 0, prefixes, newPrefix, nameVersion)
	case magicFat:
		return patchFat(path, data, prefixes, newPrefix, nameVersion, goarch)
	default:
		if utf8.Valid(data) {
			return patchText(path, data, prefixes, newPrefix)
		}
		return nil, nil
	}
}

type fileMagic int

const (
	magicUnknown fileMagic = iota
	magicMachO
	magicFat
)

func detectMagic(data []byte) fileMagic {
	if len(data) < 4 {
		return magicUnknown
	}
	head := data[:4]
	switch {
	case bytes.Equal(head, fatMagic):
		return magicFat
	case bytes.Equal(head, machO32), bytes.Equal(head, machO32Rev),
		bytes.Equal(head, machO64), bytes.Equal(head, machO64Rev):
		return magicMachO
	default:
		return magicUnknown
	}
}

// patchFat selects the slice matching the running architecture out of a
// universal binary and rewrites that slice's load commands in place; the
// embedded prefix strings are relocated across the whole file, every slice
// included.
func patchFat(path string, data []byte, prefixes [3]string, newPrefix, nameVersion, goarch string) ([]string, error) {
	cputype, err := currentArchCputype(goarch)
	if err != nil {
		return nil, err
	}

	ff, err := macho.NewFatFile(bytes.NewReader(data))
	if err != nil {
		// Not actually parseable as fat despite the magic; skip.
		return nil, nil
	}
	defer ff.Close()

	for _, arch := range ff.Arches {
		if uint32(arch.Cpu) != cputype {
			continue
		}
		return patchMachOSlice(path, data, int(arch.Offset), prefixes, newPrefix, nameVersion)
	}
	// No slice for the running architecture; nothing to patch.
	return nil, nil
}

// patchMachOSlice rewrites the load-command dylib paths of the image at
// data[base:], relocates embedded prefix strings across all of data, writes
// the whole file back, and re-signs it.
func patchMachOSlice(path string, data []byte, base int, prefixes [3]string, newPrefix, nameVersion string) ([]string, error) {
	var warnings []string

	// Per-file MachO edit failures are a warning, not a fatal error: the
	// file is left unpatched rather than partially rewritten, matching the
	// best-effort posture for this step.
	if _, err := rewriteLoadCommands(data, base, prefixes, newPrefix, nameVersion); err != nil {
		warnings = append(warnings, fmt.Sprintf("%s: load-command rewrite: %v", path, err))
		return warnings, nil
	}

	relocatePrefixStrings(data, prefixes, newPrefix)

	if err := os.Chmod(path, 0o755|0o200); err != nil {
		return warnings, pacerr.Wrap(pacerr.IO, "chmod before write-back "+path, err)
	}
	if err := os.WriteFile(path, data, 0o755); err != nil {
		return warnings, pacerr.Wrap(pacerr.IO, "write back "+path, err)
	}

	if err := adHocSign(path); err != nil {
		warnings = append(warnings, fmt.Sprintf("%s: ad-hoc signing failed: %v", path, err))
	}
	return warnings, nil
}

// rewriteLoadCommands walks the load commands of the Mach-O header at
// data[base:] and rewrites any LC_LOAD_DYLIB / LC_LOAD_WEAK_DYLIB /
// LC_REEXPORT_DYLIB / LC_ID_DYLIB path that embeds one of prefixes. Every
// rewrite must fit within the load command's existing cmdsize (Go cannot
// grow a load command without re-laying out the whole header), so a
// replacement that would not fit produces a non-fatal error.
func rewriteLoadCommands(data []byte, base int, prefixes [3]string, newPrefix, nameVersion string) (bool, error) {
	if len(data) < base+32 {
		return false, pacerr.New(pacerr.MachOEdit, "truncated header")
	}

	raw := data[base : base+4]
	is64 := bytes.Equal(raw, machO64) || bytes.Equal(raw, machO64Rev)
	byteOrder := binary.ByteOrder(binary.LittleEndian)
	if bytes.Equal(raw, machO32) || bytes.Equal(raw, machO64) {
		byteOrder = binary.BigEndian
	}

	headerSize := 28
	if is64 {
		headerSize = 32
	}

	ncmds := byteOrder.Uint32(data[base+16 : base+20])
	sizeofcmds := byteOrder.Uint32(data[base+20 : base+24])

	cmdsStart := base + headerSize
	cmdsEnd := cmdsStart + int(sizeofcmds)
	if cmdsEnd > len(data) {
		return false, pacerr.New(pacerr.MachOEdit, "load commands run past end of file")
	}

	changed := false
	offset := cmdsStart
	for i := uint32(0); i < ncmds; i++ {
		if offset+8 > cmdsEnd {
			break
		}
		cmd := byteOrder.Uint32(data[offset : offset+4])
		cmdsize := byteOrder.Uint32(data[offset+4 : offset+8])

		if isDylibCommand(cmd) {
			ok, err := rewriteDylibPath(data, offset, int(cmdsize), byteOrder, prefixes, newPrefix, nameVersion)
			if err != nil {
				return changed, err
			}
			if ok {
				changed = true
			}
		}

		offset += int(cmdsize)
	}
	return changed, nil
}

func isDylibCommand(cmd uint32) bool {
	switch cmd {
	case lcLoadDylib, lcIDDylib, lcLoadWeakDylib, lcReexportDylib:
		return true
	}
	return false
}

// rewriteDylibPath edits the install-name string embedded in a single
// dylib_command starting at cmdOffset, in place.
func rewriteDylibPath(data []byte, cmdOffset, cmdsize int, byteOrder binary.ByteOrder, prefixes [3]string, newPrefix, nameVersion string) (bool, error) {
	nameOffset := int(byteOrder.Uint32(data[cmdOffset+8 : cmdOffset+12]))
	strStart := cmdOffset + nameOffset
	strEnd := cmdOffset + cmdsize
	if strStart < 0 || strEnd > len(data) || strStart >= strEnd {
		return false, pacerr.New(pacerr.MachOEdit, "dylib command string out of range")
	}

	raw := data[strStart:strEnd]
	nul := bytes.IndexByte(raw, 0)
	if nul < 0 {
		nul = len(raw)
	}
	original := string(raw[:nul])

	newPath, matched := relocateDylibPath(original, prefixes, newPrefix, nameVersion)
	if !matched {
		return false, nil
	}

	available := strEnd - strStart
	if len(newPath) > available {
		return false, pacerr.New(pacerr.MachOEdit,
			fmt.Sprintf("replacement path %q (%d bytes) does not fit in %d available bytes", newPath, len(newPath), available))
	}

	copy(raw, newPath)
	for i := len(newPath); i < available; i++ {
		raw[i] = 0
	}
	return true, nil
}

// relocateDylibPath computes the rewritten load-command path for original,
// or reports no match. The @@HOMEBREW_PREFIX@@ placeholder always maps to
// "<prefix>/lib/<basename>"; the two Cellar-rooted prefixes are substituted
// in place (first occurrence only).
func relocateDylibPath(original string, prefixes [3]string, newPrefix, nameVersion string) (string, bool) {
	if bytes.Contains([]byte(original), []byte(brewPrefixPlaceholder)) {
		return filepath.Join(newPrefix, "lib", filepath.Base(original)), true
	}
	for _, p := range prefixes[1:] {
		if idx := bytesIndex(original, p); idx >= 0 {
			return original[:idx] + newPrefix + original[idx+len(p):], true
		}
	}
	return "", false
}

func bytesIndex(s, substr string) int {
	return bytes.Index([]byte(s), []byte(substr))
}

// relocatePrefixStrings splits the whole image on NUL boundaries and, for
// each of the three source prefixes in turn, replaces every occurrence
// across every segment with newPrefix right-padded with '/' (0x2F) to the
// original prefix's length — preserving file size and all downstream
// offsets.
func relocatePrefixStrings(data []byte, prefixes [3]string, newPrefix string) {
	segments := splitOnNUL(data)
	for _, p := range prefixes {
		old := []byte(p)
		replacement := append([]byte(newPrefix), bytes.Repeat([]byte{'/'}, len(old)-len(newPrefix))...)
		for _, seg := range segments {
			replaceAllInPlace(seg, old, replacement)
		}
	}
}

// splitOnNUL returns slices of data between (not including) NUL bytes;
// each slice aliases the same backing array as data so in-place writes
// through a segment mutate the original image.
func splitOnNUL(data []byte) [][]byte {
	var segments [][]byte
	start := 0
	for i, b := range data {
		if b == 0 {
			segments = append(segments, data[start:i])
			start = i + 1
		}
	}
	segments = append(segments, data[start:])
	return segments
}

// replaceAllInPlace overwrites every occurrence of old within seg with
// replacement (len(replacement) == len(old) is required by the caller).
func replaceAllInPlace(seg, old, replacement []byte) {
	pos := 0
	for {
		i := bytes.Index(seg[pos:], old)
		if i < 0 {
			return
		}
		at := pos + i
		copy(seg[at:at+len(old)], replacement)
		pos = at + len(old)
	}
}

// patchText applies the same three-prefix substitution to a non-Mach-O
// UTF-8 text file, rewriting the whole file (no length padding needed
// since text files are not offset-sensitive the way Mach-O is).
func patchText(path string, data []byte, prefixes [3]string, newPrefix string) ([]string, error) {
	out := data
	for _, p := range prefixes {
		out = bytes.ReplaceAll(out, []byte(p), []byte(newPrefix))
	}
	if bytes.Equal(out, data) {
		return nil, nil
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return nil, pacerr.Wrap(pacerr.IO, "write back text file "+path, err)
	}
	return nil, nil
}

// adHocSign applies an ad-hoc signature with a synthetic identifier,
// shelling out to the system codesign binary the same way the Mach-O
// write gap is bridged elsewhere in this toolchain's relocation code.
func adHocSign(path string) error {
	codesignBin, err := exec.LookPath("codesign")
	if err != nil {
		return fmt.Errorf("codesign not found: %w", err)
	}
	identifier := "org.pac.binary." + filepath.Base(path)
	cmd := exec.Command(codesignBin, "-f", "-s", "-", "-i", identifier, path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("codesign: %w: %s", err, out)
	}
	return nil
}

// logWarnings is a small helper the walker uses to surface per-file
// best-effort failures without aborting the plan.
func logWarnings(path string, warnings []string) {
	for _, w := range warnings {
		if w == "" {
			continue
		}
		log.Default().Warn("binary patch warning", "path", path, "detail", w)
	}
}

// Walk patches every regular file beneath root (the extracted
// "<name>/<version[_rev]>" directory of a bottle). PrefixTooLong and errors
// walking the tree are the only fatal outcomes; everything else is logged
// as a warning and the file is left as-is.
func Walk(root, nameVersion, newPrefix string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return pacerr.Wrap(pacerr.IO, "walk "+path, err)
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		warnings, err := PatchFile(path, nameVersion, newPrefix, runtime.GOARCH)
		if err != nil {
			if kind, ok := pacerr.KindOf(err); ok && kind == pacerr.PrefixTooLong {
				return err
			}
			logWarnings(path, []string{fmt.Sprintf("patch failed: %v", err)})
			return nil
		}
		logWarnings(path, warnings)
		return nil
	})
}
