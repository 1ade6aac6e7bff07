// Package download fetches bottle archives into a content-addressed cache,
// verifying their SHA-256 digest, and extracts them into scratch
// directories for the Binary Patcher and Filesystem Placer to walk.
package download

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	"github.com/pacmgr/pac/internal/httputil"
	"github.com/pacmgr/pac/internal/log"
	"github.com/pacmgr/pac/internal/pacerr"
	"github.com/pacmgr/pac/internal/remoteindex"
)

// maxConcurrentFetches bounds how many bottle downloads run at once, so a
// large dependency plan doesn't open one connection per package.
const maxConcurrentFetches = 4

// Target describes one package's resolved bottle source and the path it
// should end up cached at.
type Target struct {
	Name       string
	URL        string
	Token      string // bearer token for GHCR; empty when using a mirror
	SHA256     string
	CachePath  string
}

// Downloader fetches and verifies bottle archives.
type Downloader struct {
	httpClient *http.Client
}

// New builds a Downloader with an SSRF-hardened client.
func New() *Downloader {
	return &Downloader{httpClient: httputil.NewSecureClient(httputil.DefaultOptions())}
}

// FetchAll downloads every target concurrently, returning their cache
// paths in the same order as targets. A cached file that already hashes
// correctly is reused without a network request.
func (d *Downloader) FetchAll(ctx context.Context, targets []Target) ([]string, error) {
	paths := make([]string, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)

	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			path, err := d.fetchOne(gctx, t)
			if err != nil {
				return err
			}
			paths[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

func (d *Downloader) fetchOne(ctx context.Context, t Target) (string, error) {
	if ok, _ := verifyExisting(t.CachePath, t.SHA256); ok {
		log.Default().Info("cache hit", "package", t.Name, "path", t.CachePath)
		return t.CachePath, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return "", pacerr.Wrap(pacerr.Network, fmt.Sprintf("build request for %s", t.Name), err)
	}
	if t.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.Token)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", pacerr.Wrap(pacerr.Network, fmt.Sprintf("fetch bottle for %s", t.Name), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", pacerr.New(pacerr.RemoteStatus, fmt.Sprintf("bottle fetch for %s: %s", t.Name, resp.Status))
	}

	if err := os.MkdirAll(filepath.Dir(t.CachePath), 0o755); err != nil {
		return "", pacerr.Wrap(pacerr.IO, "create cache directory", err)
	}

	tmp := t.CachePath + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return "", pacerr.Wrap(pacerr.IO, "create temp cache file", err)
	}

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(out, h), resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return "", pacerr.Wrap(pacerr.Network, fmt.Sprintf("stream bottle for %s", t.Name), err)
	}
	out.Close()

	got := hex.EncodeToString(h.Sum(nil))
	if got != t.SHA256 {
		return "", pacerr.New(pacerr.HashMismatch, fmt.Sprintf("%s: expected %s, got %s", t.Name, t.SHA256, got))
	}

	if err := os.Rename(tmp, t.CachePath); err != nil {
		return "", pacerr.Wrap(pacerr.IO, "finalize cached archive", err)
	}
	return t.CachePath, nil
}

// verifyExisting reports whether path already exists and hashes to want.
func verifyExisting(path, want string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, nil
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	return hex.EncodeToString(h.Sum(nil)) == want, nil
}

// Extract unpacks a gzip-compressed tar archive into a fresh temp
// directory under baseDir, returning the directory's path. The caller
// owns deleting it (the Installer does so via its temp-dir guard).
func Extract(archivePath, baseDir string) (string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", pacerr.Wrap(pacerr.IO, "open archive", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", pacerr.Wrap(pacerr.IO, "open gzip stream", err)
	}
	defer gz.Close()

	dir, err := os.MkdirTemp(baseDir, "pac-extract-*")
	if err != nil {
		return "", pacerr.Wrap(pacerr.IO, "create extraction dir", err)
	}

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", pacerr.Wrap(pacerr.IO, "read tar entry", err)
		}

		target := filepath.Join(dir, hdr.Name)
		if err := extractEntry(tr, hdr, target); err != nil {
			return "", err
		}
	}
	return dir, nil
}

func extractEntry(tr *tar.Reader, hdr *tar.Header, target string) error {
	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
			return pacerr.Wrap(pacerr.IO, "mkdir "+target, err)
		}
		return nil
	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return pacerr.Wrap(pacerr.IO, "mkdir parent", err)
		}
		if err := os.Symlink(hdr.Linkname, target); err != nil {
			return pacerr.Wrap(pacerr.IO, "create symlink "+target, err)
		}
		return nil
	default:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return pacerr.Wrap(pacerr.IO, "mkdir parent", err)
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
		if err != nil {
			return pacerr.Wrap(pacerr.IO, "create file "+target, err)
		}
		defer out.Close()
		if _, err := io.Copy(out, tr); err != nil {
			return pacerr.Wrap(pacerr.IO, "write file "+target, err)
		}
		return nil
	}
}

// BottleFilename constructs the mirror-relative archive name used in the
// mirror URL. Cached archives are named by config.CachePath instead.
func BottleFilename(name, version string, revision int, platformKey string, rebuild int) string {
	suffix := ""
	if revision > 0 {
		suffix = fmt.Sprintf("_%d", revision)
	}
	rebuildSuffix := ""
	if rebuild > 0 {
		rebuildSuffix = fmt.Sprintf(".%d", rebuild)
	}
	return fmt.Sprintf("%s-%s%s.%s.bottle%s.tar.gz", name, version, suffix, platformKey, rebuildSuffix)
}

// ResolveTarget picks the bottle file entry for the current platform and
// builds the Target a Downloader needs, given an optional mirror base URL.
func ResolveTarget(meta *remoteindex.PackageMetadata, platformKey, mirror, cachePath, token string) (Target, error) {
	file, ok := meta.Files[platformKey]
	if !ok {
		return Target{}, pacerr.New(pacerr.NoBottle, fmt.Sprintf("%s has no bottle for %s", meta.Name, platformKey))
	}

	if mirror != "" {
		filename := BottleFilename(meta.Name, meta.StableVersion, meta.Revision, platformKey, meta.BottleRebuild)
		return Target{
			Name:      meta.Name,
			URL:       mirror + "/" + filename,
			SHA256:    file.SHA256,
			CachePath: cachePath,
		}, nil
	}

	return Target{
		Name:      meta.Name,
		URL:       file.URL,
		Token:     token,
		SHA256:    file.SHA256,
		CachePath: cachePath,
	}, nil
}
