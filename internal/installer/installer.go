// Package installer orchestrates the resolver, conflict detector,
// downloader, binary patcher, and filesystem placer into a single
// transactional install operation, and provides the matching uninstaller.
package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pacmgr/pac/internal/catalog"
	"github.com/pacmgr/pac/internal/config"
	"github.com/pacmgr/pac/internal/download"
	"github.com/pacmgr/pac/internal/log"
	"github.com/pacmgr/pac/internal/machopatch"
	"github.com/pacmgr/pac/internal/pacerr"
	"github.com/pacmgr/pac/internal/placer"
	"github.com/pacmgr/pac/internal/remoteindex"
	"github.com/pacmgr/pac/internal/resolver"
	"github.com/pacmgr/pac/internal/scopeguard"
)

// IndexClient is the subset of remoteindex.Client the Installer needs; it
// also satisfies resolver.Fetcher.
type IndexClient interface {
	Fetch(ctx context.Context, name string) (*remoteindex.PackageMetadata, error)
	BottleToken(ctx context.Context, tap, name string) (string, error)
}

// Installer drives one install(name) call end to end.
type Installer struct {
	store       *catalog.Store
	index       IndexClient
	downloader  *download.Downloader
	placer      *placer.Placer
	cfg         *config.Config
	platformKey string
}

// New builds an Installer. platformKey is the running machine's
// "<arch>_<codename>" string (see internal/platform).
func New(store *catalog.Store, index IndexClient, downloader *download.Downloader, cfg *config.Config, platformKey string) *Installer {
	return &Installer{
		store:       store,
		index:       index,
		downloader:  downloader,
		placer:      placer.New(cfg.Prefix),
		cfg:         cfg,
		platformKey: platformKey,
	}
}

// Install resolves, downloads, patches, and places requestedName and its
// dependencies, committing exactly once all of them have succeeded.
// Installing an already-installed package is a no-op.
func (in *Installer) Install(ctx context.Context, requestedName string) error {
	tx, err := in.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, state, ok, err := tx.IsInstalled(ctx, requestedName, in.cfg.Prefix); err != nil {
		return err
	} else if ok {
		if state == catalog.Installed {
			return nil
		}
		return pacerr.New(pacerr.BrokenPackagePresent, requestedName)
	}

	plan, err := resolver.Resolve(ctx, in.index, requestedName)
	if err != nil {
		return err
	}

	plan, err = in.filterConflicts(ctx, tx, plan)
	if err != nil {
		return err
	}
	if len(plan) == 0 {
		return tx.Commit()
	}

	targets, err := in.resolveTargets(ctx, plan)
	if err != nil {
		return err
	}

	archives, err := in.downloader.FetchAll(ctx, targets)
	if err != nil {
		return err
	}

	var tempGuard, restoreGuard scopeguard.Guard
	defer tempGuard.Run()
	defer restoreGuard.Run()

	var allPlaced []string
	restoreGuard.Push(func() {
		log.Default().Warn("encounter an error, restoring install dir")
		in.restorePlaced(allPlaced)
		log.Default().Info("recovery finished!")
	})

	for i, pkg := range plan {
		archivePath := archives[i]

		tempDir, err := download.Extract(archivePath, in.cfg.CacheDir)
		if err != nil {
			return err
		}
		tempGuard.Push(func() { os.RemoveAll(tempDir) })

		nameVersion := versionedName(pkg)
		patchRoot := filepath.Join(tempDir, pkg.Name, bottleVersion(pkg))
		if err := machopatch.Walk(patchRoot, nameVersion, in.cfg.Prefix); err != nil {
			return err
		}

		placed, err := in.placer.Place(ctx, tx, patchRoot, pkg.Name)
		allPlaced = append(allPlaced, placed...)
		if err != nil {
			return err
		}

		file := pkg.Files[in.platformKey]
		if _, err := tx.InsertPackage(ctx, catalog.InsertInput{
			Name:           pkg.Name,
			Version:        pkg.StableVersion,
			Revision:       pkg.Revision,
			Arch:           archFromPlatformKey(in.platformKey),
			Prefix:         in.cfg.Prefix,
			Explicit:       pkg.Name == requestedName,
			InstallTime:    time.Now().Unix(),
			SHA256:         file.SHA256,
			Dependencies:   pkg.Dependencies,
			ConflictsWith:  pkg.ConflictsWith,
			InstalledFiles: placed,
		}); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	restoreGuard.Dismiss()
	return nil
}

// filterConflicts drops already-installed packages, fails on a Broken
// package anywhere in the plan, and fails if any plan package's
// conflicts_with hits the catalog or another plan entry.
func (in *Installer) filterConflicts(ctx context.Context, tx *catalog.Tx, plan []*remoteindex.PackageMetadata) ([]*remoteindex.PackageMetadata, error) {
	planNames := make(map[string]bool, len(plan))
	for _, pkg := range plan {
		planNames[pkg.Name] = true
	}

	var filtered []*remoteindex.PackageMetadata
	for _, pkg := range plan {
		_, state, ok, err := tx.IsInstalled(ctx, pkg.Name, in.cfg.Prefix)
		if err != nil {
			return nil, err
		}
		if ok {
			if state == catalog.Broken {
				return nil, pacerr.New(pacerr.BrokenPackagePresent, pkg.Name)
			}
			continue
		}
		filtered = append(filtered, pkg)
	}

	for _, pkg := range filtered {
		for _, conflict := range pkg.ConflictsWith {
			if _, _, ok, err := tx.IsInstalled(ctx, conflict, in.cfg.Prefix); err != nil {
				return nil, err
			} else if ok {
				return nil, pacerr.New(pacerr.PathConflict, fmt.Sprintf("%s conflicts with installed package %s", pkg.Name, conflict))
			}
			if planNames[conflict] {
				return nil, pacerr.New(pacerr.PathConflict, fmt.Sprintf("%s conflicts with %s in the same plan", pkg.Name, conflict))
			}
		}
	}
	return filtered, nil
}

// resolveTargets fetches a GHCR bearer token per package (unless a bottles
// mirror is configured) and builds the Downloader's target list.
func (in *Installer) resolveTargets(ctx context.Context, plan []*remoteindex.PackageMetadata) ([]download.Target, error) {
	targets := make([]download.Target, 0, len(plan))
	for _, pkg := range plan {
		file, ok := pkg.Files[in.platformKey]
		if !ok {
			return nil, pacerr.New(pacerr.NoBottle, fmt.Sprintf("%s has no bottle for %s", pkg.Name, in.platformKey))
		}

		token := ""
		if in.cfg.BottlesMirror == "" {
			var err error
			token, err = in.index.BottleToken(ctx, pkg.Tap, pkg.Name)
			if err != nil {
				return nil, err
			}
		}

		target, err := download.ResolveTarget(pkg, in.platformKey, in.cfg.BottlesMirror, in.cfg.CachePath(pkg.Name, file.SHA256), token)
		if err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, nil
}

// restorePlaced removes every placed file, then prunes their ancestor
// directories deepest-first, tolerating non-empty directories.
func (in *Installer) restorePlaced(placed []string) {
	for _, p := range placed {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Default().Warn("failed to remove placed file during rollback", "path", p, "error", err)
		}
	}
	pruneAncestors(in.cfg.Prefix, placed)
}

// pruneAncestors walks the ancestor directories of every path in files,
// deepest first, attempting rmdir on each. Non-empty failures are
// tolerated — they just mean another package's files are still there.
func pruneAncestors(prefixRoot string, files []string) {
	seen := map[string]bool{}
	var dirs []string
	for _, f := range files {
		for dir := filepath.Dir(f); isWithin(prefixRoot, dir); dir = filepath.Dir(dir) {
			if seen[dir] {
				break
			}
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}

	sort.Slice(dirs, func(i, j int) bool {
		return len(strings.Split(dirs[i], string(filepath.Separator))) > len(strings.Split(dirs[j], string(filepath.Separator)))
	})

	for _, dir := range dirs {
		if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
			continue // non-empty or otherwise busy; leave it
		}
	}
}

func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..")
}

func archFromPlatformKey(platformKey string) string {
	parts := strings.SplitN(platformKey, "_", 2)
	return parts[0]
}

// bottleVersion renders the "<version[_rev]>" path segment a bottle
// archive's top-level directory uses.
func bottleVersion(pkg *remoteindex.PackageMetadata) string {
	if pkg.Revision > 0 {
		return fmt.Sprintf("%s_%d", pkg.StableVersion, pkg.Revision)
	}
	return pkg.StableVersion
}

// versionedName renders the "<name>/<version[_rev]>" identifier the
// Binary Patcher uses to build its Cellar source prefixes.
func versionedName(pkg *remoteindex.PackageMetadata) string {
	return pkg.Name + "/" + bottleVersion(pkg)
}
