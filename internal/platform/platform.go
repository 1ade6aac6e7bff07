// Package platform resolves the current machine's PlatformKey — the
// "<arch>_<macos-codename>" string used to select a bottle's per-platform
// file entry.
package platform

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Arch is the current process's CPU architecture, expressed the way
// Homebrew's bottle file map keys expect it.
func Arch() (string, error) {
	switch runtime.GOARCH {
	case "arm64":
		return "arm64", nil
	case "amd64":
		return "x86_64", nil
	default:
		return "", fmt.Errorf("unsupported architecture: %s", runtime.GOARCH)
	}
}

// majorVersionName maps a macOS major version number to its marketing
// codename, lowercased to match Homebrew's platform-tag convention.
var majorVersionName = map[int]string{
	10: "catalina", // strictly 10.15; earlier 10.x releases are unsupported
	11: "big_sur",
	12: "monterey",
	13: "ventura",
	14: "sonoma",
	15: "sequoia",
	26: "tahoe",
}

// Codename returns the lowercase macOS codename for the running system,
// read via the kern.osproductversion sysctl (the same syscall-level probe
// this toolchain's platform package already uses for OS detection).
func Codename() (string, error) {
	raw, err := unix.Sysctl("kern.osproductversion")
	if err != nil {
		return "", fmt.Errorf("failed to read kern.osproductversion: %w", err)
	}
	major, err := majorVersion(raw)
	if err != nil {
		return "", err
	}
	name, ok := majorVersionName[major]
	if !ok {
		return "", fmt.Errorf("unsupported macOS version: %s", raw)
	}
	return name, nil
}

func majorVersion(productVersion string) (int, error) {
	parts := strings.SplitN(productVersion, ".", 2)
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("malformed macOS product version %q: %w", productVersion, err)
	}
	return major, nil
}

// Key returns the "<arch>_<codename>" PlatformKey for the running system,
// e.g. "arm64_sonoma".
func Key() (string, error) {
	arch, err := Arch()
	if err != nil {
		return "", err
	}
	codename, err := Codename()
	if err != nil {
		return "", err
	}
	return arch + "_" + codename, nil
}
