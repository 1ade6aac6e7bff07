// Package placer copies an extracted bottle's top-level directories into
// the install prefix, tracking every placed path in the catalog and
// failing on any collision with a path another package already owns.
package placer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/pacmgr/pac/internal/catalog"
	"github.com/pacmgr/pac/internal/log"
	"github.com/pacmgr/pac/internal/pacerr"
)

// topLevelDirs is the fixed allowlist of directories a bottle may place
// into the prefix. ".bottle" is a pseudo-directory: paths beneath it are
// placed as if they were directly under the extracted package root.
var topLevelDirs = map[string]bool{
	"bin": true, "sbin": true, "lib": true, "libexec": true,
	"etc": true, "share": true, "include": true, "opt": true, "var": true,
	".bottle": true,
}

// Placer copies an extracted package directory into prefix.
type Placer struct {
	prefix string
}

// New builds a Placer targeting the given install prefix.
func New(prefix string) *Placer {
	return &Placer{prefix: prefix}
}

// Place walks extractedDir's top-level allowed directories, copying every
// entry into p.prefix, checking tx.PathExists before writing anything, and
// returning the list of placed (non-directory) destination paths for the
// caller to record via tx.InsertPackage and to push onto the restore
// guard.
func (p *Placer) Place(ctx context.Context, tx *catalog.Tx, extractedDir, pkgName string) ([]string, error) {
	entries, err := os.ReadDir(extractedDir)
	if err != nil {
		return nil, pacerr.Wrap(pacerr.IO, "read extracted dir", err)
	}

	var placed []string
	for _, entry := range entries {
		name := entry.Name()
		if !topLevelDirs[name] {
			continue
		}
		srcRoot := filepath.Join(extractedDir, name)
		dstRoot := p.prefix
		if name != ".bottle" {
			dstRoot = filepath.Join(p.prefix, name)
		}

		newlyPlaced, err := p.copyTree(ctx, tx, srcRoot, dstRoot)
		if err != nil {
			return placed, err
		}
		placed = append(placed, newlyPlaced...)
	}

	if err := p.applySpecialPatches(ctx, tx, extractedDir, pkgName, &placed); err != nil {
		return placed, err
	}
	return placed, nil
}

// copyTree recursively copies src into dst, appending every placed
// non-directory path to the returned slice.
func (p *Placer) copyTree(ctx context.Context, tx *catalog.Tx, src, dst string) ([]string, error) {
	info, err := os.Lstat(src)
	if err != nil {
		return nil, pacerr.Wrap(pacerr.IO, "stat "+src, err)
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		if err := p.checkConflict(ctx, tx, dst); err != nil {
			return nil, err
		}
		if err := p.placeSymlink(src, dst); err != nil {
			return nil, err
		}
		return []string{dst}, nil

	case info.IsDir():
		if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
			return nil, pacerr.Wrap(pacerr.IO, "mkdir "+dst, err)
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return nil, pacerr.Wrap(pacerr.IO, "read dir "+src, err)
		}
		var placed []string
		for _, entry := range entries {
			sub, err := p.copyTree(ctx, tx, filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name()))
			if err != nil {
				return placed, err
			}
			placed = append(placed, sub...)
		}
		return placed, nil

	default:
		if err := p.checkConflict(ctx, tx, dst); err != nil {
			return nil, err
		}
		if err := p.placeFile(src, dst); err != nil {
			return nil, err
		}
		return []string{dst}, nil
	}
}

// checkConflict fails fatally if another catalog record already claims
// dst.
func (p *Placer) checkConflict(ctx context.Context, tx *catalog.Tx, dst string) error {
	exists, err := tx.PathExists(ctx, dst)
	if err != nil {
		return err
	}
	if exists {
		return pacerr.New(pacerr.PathConflict, dst)
	}
	return nil
}

// placeSymlink recreates a symlink at dst. A relative target is
// recreated as-is; an absolute target is treated as misuse (the upstream
// bottles this model is based on are known to embed a handful of these,
// e.g. openssl@3's cert.pem) and its referent is copied by value instead.
func (p *Placer) placeSymlink(src, dst string) error {
	target, err := os.Readlink(src)
	if err != nil {
		return pacerr.Wrap(pacerr.IO, "readlink "+src, err)
	}

	if filepath.IsAbs(target) {
		return p.copyAbsoluteReferent(src, target, dst)
	}

	if err := withRetry(dst, func() error {
		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return err
		}
		return os.Symlink(target, dst)
	}); err != nil {
		return pacerr.Wrap(pacerr.IO, "symlink "+dst, err)
	}
	return nil
}

// copyAbsoluteReferent copies the bytes an absolute symlink points at.
// If the referent cannot be read (a dangling link shipped intentionally
// by the bottle), the dangling symlink is recreated instead and a
// warning is logged — this mirrors a documented best-effort posture
// rather than failing the whole install over it.
func (p *Placer) copyAbsoluteReferent(src, target, dst string) error {
	data, err := os.ReadFile(target)
	if err != nil {
		log.Default().Warn("absolute symlink referent unreadable, leaving dangling link",
			"src", src, "target", target, "error", err)
		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return pacerr.Wrap(pacerr.IO, "remove existing "+dst, err)
		}
		if err := os.Symlink(target, dst); err != nil {
			return pacerr.Wrap(pacerr.IO, "symlink "+dst, err)
		}
		return nil
	}

	info, statErr := os.Stat(target)
	mode := os.FileMode(0o644)
	if statErr == nil {
		mode = info.Mode().Perm()
	}
	return p.writeFile(dst, data, mode)
}

// placeFile copies a regular file from src to dst, preserving its mode.
func (p *Placer) placeFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return pacerr.Wrap(pacerr.IO, "read "+src, err)
	}
	info, err := os.Stat(src)
	if err != nil {
		return pacerr.Wrap(pacerr.IO, "stat "+src, err)
	}
	return p.writeFile(dst, data, info.Mode().Perm())
}

func (p *Placer) writeFile(dst string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return pacerr.Wrap(pacerr.IO, "mkdir parent of "+dst, err)
	}

	err := withRetry(dst, func() error {
		return os.WriteFile(dst, data, mode)
	})
	if err != nil {
		return pacerr.Wrap(pacerr.IO, "write "+dst, err)
	}
	return nil
}

// withRetry runs op once, and on a permission error adds user-write
// permission to dst (if it exists) and its parent directory, then retries
// exactly once — matching the escalate-and-retry behavior the top-level
// component design calls for.
func withRetry(dst string, op func() error) error {
	err := op()
	if err == nil {
		return nil
	}
	if !errors.Is(err, os.ErrPermission) {
		return err
	}

	if info, statErr := os.Stat(dst); statErr == nil {
		_ = os.Chmod(dst, info.Mode().Perm()|0o200)
	}
	if info, statErr := os.Stat(filepath.Dir(dst)); statErr == nil {
		_ = os.Chmod(filepath.Dir(dst), info.Mode().Perm()|0o200)
	}
	return op()
}

// applySpecialPatches applies the per-package placement rules that run
// after the general copy.
func (p *Placer) applySpecialPatches(ctx context.Context, tx *catalog.Tx, extractedDir, pkgName string, placed *[]string) error {
	if pkgName == "ca-certificates" {
		shareDir := filepath.Join(extractedDir, "share")
		if _, err := os.Stat(filepath.Join(shareDir, "ca-certificates")); err == nil {
			extra, err := p.copyTree(ctx, tx, shareDir, filepath.Join(p.prefix, "etc"))
			if err != nil {
				return err
			}
			*placed = append(*placed, extra...)
		}
	}

	if strings.Contains(pkgName, "openssl") {
		certDir := filepath.Join(p.prefix, "etc", pkgName)
		if err := os.MkdirAll(certDir, 0o755); err != nil {
			return pacerr.Wrap(pacerr.IO, "mkdir "+certDir, err)
		}
		certLink := filepath.Join(certDir, "cert.pem")
		if err := p.checkConflict(ctx, tx, certLink); err != nil {
			return err
		}
		if err := os.Symlink("../ca-certificates/cacert.pem", certLink); err != nil && !os.IsExist(err) {
			return pacerr.Wrap(pacerr.IO, "symlink "+certLink, err)
		}
		*placed = append(*placed, certLink)
	}

	return nil
}
