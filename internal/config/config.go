// Package config centralizes pac's environment-driven configuration: the
// install prefix, cache directory, catalog location, and remote index
// overrides described in the external interfaces.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// EnvAPIMirror overrides the formula JSON root.
	EnvAPIMirror = "PAC_API_MIRROR"

	// EnvBottlesMirror, if set, routes bottle downloads through a mirror
	// instead of the GHCR-authenticated upstream URL.
	EnvBottlesMirror = "PAC_BOTTLES_MIRROR"

	// EnvDebug, EnvVerbose, EnvQuiet set log verbosity when the
	// corresponding CLI flag is absent.
	EnvDebug   = "PAC_DEBUG"
	EnvVerbose = "PAC_VERBOSE"
	EnvQuiet   = "PAC_QUIET"

	// DefaultPrefix is the compile-time install prefix. It replaces
	// /opt/homebrew (and the build-time placeholders) in every relocation.
	DefaultPrefix = "/opt/pac"

	// DefaultAPIRoot is the formula metadata root used when EnvAPIMirror
	// is unset.
	DefaultAPIRoot = "https://formulae.brew.sh/api"

	// CacheSubdir is the user-cache subdirectory pac uses for downloaded
	// bottle archives.
	CacheSubdir = "Pac"

	// ConnectTimeout is the HTTP connect timeout constant. The remote index
	// and bottle download clients do not read it; they dial with
	// internal/httputil's default dial timeout of 30 seconds.
	ConnectTimeout = 10 * time.Second

	// MaxFetchAttempts is the attempt cap of the exponential backoff
	// policy. The Remote Index Client applies the same cap through its own
	// maxFetchAttempts constant; bottle downloads are attempted once and
	// are not retried.
	MaxFetchAttempts = 5

	// sourcePrefixHomebrew is shorter than each of the three source
	// prefixes a Mach-O or text file may embed; the configured install
	// Prefix must never exceed it, so that it never exceeds any source
	// prefix and relocation can preserve byte length.
	sourcePrefixHomebrew = "/opt/homebrew"
)

// Config holds pac's resolved runtime configuration.
type Config struct {
	Prefix        string // install prefix, e.g. /opt/pac
	CacheDir      string // downloaded-bottle cache directory
	APIRoot       string // formula metadata root
	BottlesMirror string // optional unauthenticated bottle mirror base URL
}

// DefaultConfig reads the PAC_* environment variables and returns a
// validated Config. The install prefix itself is not currently
// user-overridable (the core spec fixes it at compile time); the field
// exists on Config so every path-construction helper has one place to read
// it from.
func DefaultConfig() (*Config, error) {
	cacheRoot, err := os.UserCacheDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user cache directory: %w", err)
	}

	cfg := &Config{
		Prefix:        DefaultPrefix,
		CacheDir:      filepath.Join(cacheRoot, CacheSubdir),
		APIRoot:       DefaultAPIRoot,
		BottlesMirror: os.Getenv(EnvBottlesMirror),
	}
	if v := os.Getenv(EnvAPIMirror); v != "" {
		cfg.APIRoot = strings.TrimRight(v, "/")
	}

	if len(cfg.Prefix) > len(sourcePrefixHomebrew) {
		return nil, fmt.Errorf("install prefix %q is longer than the source prefix %q it must relocate", cfg.Prefix, sourcePrefixHomebrew)
	}

	return cfg, nil
}

// EnsureDirectories creates the cache directory and the catalog's parent
// directory if they do not already exist.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.CacheDir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory %s: %w", c.CacheDir, err)
	}
	if err := os.MkdirAll(filepath.Dir(c.CatalogPath()), 0o755); err != nil {
		return fmt.Errorf("failed to create catalog directory: %w", err)
	}
	return nil
}

// CatalogPath returns <prefix>/PacData/pacs.sqlite.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.Prefix, "PacData", "pacs.sqlite")
}

// CachePath returns <cache>/<name>-<sha256>.tar.gz, the content-addressed
// destination for a downloaded bottle archive.
func (c *Config) CachePath(name, sha256 string) string {
	return filepath.Join(c.CacheDir, fmt.Sprintf("%s-%s.tar.gz", name, sha256))
}

// BinDir, LibDir, EtcDir return well-known subdirectories beneath the
// install prefix, mirroring the top-level directories the Filesystem
// Placer is allowed to write into.
func (c *Config) BinDir() string { return filepath.Join(c.Prefix, "bin") }
func (c *Config) LibDir() string { return filepath.Join(c.Prefix, "lib") }
func (c *Config) EtcDir() string { return filepath.Join(c.Prefix, "etc") }
