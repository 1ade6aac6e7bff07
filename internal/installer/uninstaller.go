package installer

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pacmgr/pac/internal/catalog"
	"github.com/pacmgr/pac/internal/config"
	"github.com/pacmgr/pac/internal/log"
	"github.com/pacmgr/pac/internal/pacerr"
)

// Uninstaller removes a package, cascading through any dependency left
// without a remaining reverse dependent.
type Uninstaller struct {
	store *catalog.Store
	cfg   *config.Config
}

// NewUninstaller builds an Uninstaller targeting cfg.Prefix's catalog.
func NewUninstaller(store *catalog.Store, cfg *config.Config) *Uninstaller {
	return &Uninstaller{store: store, cfg: cfg}
}

// Uninstall removes name, cascades through any dependency orphaned by the
// removal, and prunes any directory beneath the prefix left empty.
func (u *Uninstaller) Uninstall(ctx context.Context, name string) error {
	if err := u.uninstallOne(ctx, name, false); err != nil {
		return err
	}
	if err := u.cascadeOrphans(ctx); err != nil {
		return err
	}
	pruneDirTree(u.cfg.Prefix, u.cfg.Prefix)
	return nil
}

// uninstallOne removes a single catalog record and its files. cascading
// suppresses the reverse-dependents check for orphan removals, which by
// construction have none.
func (u *Uninstaller) uninstallOne(ctx context.Context, name string, cascading bool) error {
	tx, err := u.store.Begin(ctx)
	if err != nil {
		return err
	}

	id, state, ok, err := tx.IsInstalled(ctx, name, u.cfg.Prefix)
	if err != nil {
		tx.Rollback()
		return err
	}
	if !ok {
		return tx.Rollback()
	}

	if state == catalog.Installed {
		if err := tx.UpdateState(ctx, id, catalog.Broken); err != nil {
			tx.Rollback()
			return err
		}
		// Crash-safety checkpoint: commit the Broken mark before touching
		// the filesystem, so an interrupted uninstall leaves an
		// unambiguous trace rather than a half-removed Installed record.
		if err := tx.Commit(); err != nil {
			return err
		}
		tx, err = u.store.Begin(ctx)
		if err != nil {
			return err
		}
	}

	if !cascading {
		revDeps, err := tx.ReverseDeps(ctx, name)
		if err != nil {
			tx.Rollback()
			return err
		}
		if len(revDeps) > 0 {
			tx.Rollback()
			return pacerr.New(pacerr.PathConflict, name+" is still required by: "+joinNames(revDeps))
		}
	}

	files, err := tx.InstalledFiles(ctx, id)
	if err != nil {
		tx.Rollback()
		return err
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			log.Default().Warn("failed to remove installed file", "path", f, "error", err)
		}
	}

	if err := tx.DeletePackage(ctx, id); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// cascadeOrphans repeatedly removes every non-explicit record with no
// remaining reverse dependents until none remain.
func (u *Uninstaller) cascadeOrphans(ctx context.Context) error {
	for {
		tx, err := u.store.Begin(ctx)
		if err != nil {
			return err
		}
		orphans, err := tx.Orphans(ctx)
		tx.Rollback()
		if err != nil {
			return err
		}
		if len(orphans) == 0 {
			return nil
		}
		for _, o := range orphans {
			log.Default().Info("removing orphaned dependency", "name", o.Name)
			if err := u.uninstallOne(ctx, o.Name, true); err != nil {
				return err
			}
		}
	}
}

// pruneDirTree removes every empty directory beneath dir, contents first,
// leaving root itself (and any directory that still has entries) alone.
func pruneDirTree(root, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			pruneDirTree(root, filepath.Join(dir, e.Name()))
		}
	}
	if dir == root {
		return
	}
	_ = os.Remove(dir) // fails silently on non-empty, which is fine
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}
