// Package catalog is pac's transactional local database: the record of
// installed packages, their files, dependencies, conflicts, and lifecycle
// state. It hides its schema behind a small operation set; every method
// that mutates state does so inside exactly one *sql.Tx per caller
// invocation, matching the concurrency model's "one open transaction per
// installer/uninstaller invocation" rule.
package catalog

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/pacmgr/pac/internal/pacerr"
)

// State is a catalog record's lifecycle state.
type State int

const (
	Installed State = 0
	Broken    State = 1
)

// Record is one row of the pacs table.
type Record struct {
	ID          int64
	Name        string
	Version     string
	Revision    int
	Arch        string
	Channel     string
	Prefix      string
	Explicit    bool
	InstallTime int64
	SHA256      string
	State       State
}

// InsertInput bundles everything insert_package needs to write a record and
// its dependent rows atomically.
type InsertInput struct {
	Name           string
	Version        string
	Revision       int
	Arch           string
	Prefix         string
	Explicit       bool
	InstallTime    int64
	SHA256         string
	Dependencies   []string
	ConflictsWith  []string
	InstalledFiles []string
}

// Orphan is one row returned by Orphans: a non-explicit record with no
// remaining reverse dependents.
type Orphan struct {
	ID    int64
	Name  string
	State State
}

// Store is the opened catalog database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures the schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, pacerr.Wrap(pacerr.CatalogError, "open catalog", err)
	}
	// The catalog is accessed through exactly one open transaction at a
	// time by design (see the concurrency model); a single connection
	// avoids SQLite's multi-writer lock contention entirely.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, pacerr.Wrap(pacerr.CatalogError, "init schema", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Tx is one open catalog transaction. Every operation below belongs to a
// single installer or uninstaller invocation's Tx.
type Tx struct {
	tx *sql.Tx
}

// Begin opens a new transaction. The caller must Commit or Rollback it.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, pacerr.Wrap(pacerr.CatalogError, "begin transaction", err)
	}
	return &Tx{tx: tx}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return pacerr.Wrap(pacerr.CatalogError, "commit transaction", err)
	}
	return nil
}

// Rollback aborts the transaction. Calling it after Commit is a no-op
// error from database/sql that callers may safely ignore.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// IsInstalled matches on (name, prefix) and reports the record id and
// state, or ok=false if no such record exists.
func (t *Tx) IsInstalled(ctx context.Context, name, prefix string) (id int64, state State, ok bool, err error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT id, state FROM pacs WHERE name = ? AND prefix = ?`, name, prefix)
	err = row.Scan(&id, &state)
	if err == sql.ErrNoRows {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, pacerr.Wrap(pacerr.CatalogError, "is_installed", err)
	}
	return id, state, true, nil
}

// RecordByName returns the full record for (name, prefix), or ok=false if
// no such record exists. Used by `pac info` to render installed state
// without requiring a separate IsInstalled round trip.
func (t *Tx) RecordByName(ctx context.Context, name, prefix string) (rec Record, ok bool, err error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT id, name, version, revision, arch, channel, prefix, explicit, install_time, sha256, state
		FROM pacs WHERE name = ? AND prefix = ?`, name, prefix)
	var explicit int
	err = row.Scan(&rec.ID, &rec.Name, &rec.Version, &rec.Revision, &rec.Arch, &rec.Channel,
		&rec.Prefix, &explicit, &rec.InstallTime, &rec.SHA256, &rec.State)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, pacerr.Wrap(pacerr.CatalogError, fmt.Sprintf("record_by_name(%s)", name), err)
	}
	rec.Explicit = explicit != 0
	return rec, true, nil
}

// Dependencies returns the dependency names recorded for a record.
func (t *Tx) Dependencies(ctx context.Context, id int64) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT dep_name FROM dependencies WHERE pac_id = ?`, id)
	if err != nil {
		return nil, pacerr.Wrap(pacerr.CatalogError, "dependencies", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, pacerr.Wrap(pacerr.CatalogError, "dependencies scan", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// LookupName returns the name for a given record id.
func (t *Tx) LookupName(ctx context.Context, id int64) (string, error) {
	var name string
	err := t.tx.QueryRowContext(ctx, `SELECT name FROM pacs WHERE id = ?`, id).Scan(&name)
	if err != nil {
		return "", pacerr.Wrap(pacerr.CatalogError, fmt.Sprintf("lookup_name(%d)", id), err)
	}
	return name, nil
}

// AllNames returns every installed package's name, for `pac list`.
func (t *Tx) AllNames(ctx context.Context) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT name FROM pacs ORDER BY name`)
	if err != nil {
		return nil, pacerr.Wrap(pacerr.CatalogError, "all_names", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, pacerr.Wrap(pacerr.CatalogError, "all_names scan", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// InstalledFiles returns every file path recorded for a record.
func (t *Tx) InstalledFiles(ctx context.Context, id int64) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT path FROM installed_files WHERE pac_id = ?`, id)
	if err != nil {
		return nil, pacerr.Wrap(pacerr.CatalogError, "installed_files", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, pacerr.Wrap(pacerr.CatalogError, "installed_files scan", err)
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

// ReverseDeps returns the names of every installed package that declares
// name as a dependency.
func (t *Tx) ReverseDeps(ctx context.Context, name string) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT p.name FROM pacs p
		JOIN dependencies d ON d.pac_id = p.id
		WHERE d.dep_name = ?`, name)
	if err != nil {
		return nil, pacerr.Wrap(pacerr.CatalogError, "reverse_deps", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, pacerr.Wrap(pacerr.CatalogError, "reverse_deps scan", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// PathExists is the cross-package global uniqueness check the Filesystem
// Placer runs before creating anything at an absolute destination path.
func (t *Tx) PathExists(ctx context.Context, path string) (bool, error) {
	var exists int
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM installed_files WHERE path = ?)`, path).Scan(&exists)
	if err != nil {
		return false, pacerr.Wrap(pacerr.CatalogError, "path_exists", err)
	}
	return exists == 1, nil
}

// InsertPackage writes a record plus its dependency, conflict, and
// installed-file rows atomically within the transaction.
func (t *Tx) InsertPackage(ctx context.Context, in InsertInput) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO pacs (name, version, revision, arch, channel, prefix, explicit, install_time, sha256, state)
		VALUES (?, ?, ?, ?, 'stable', ?, ?, ?, ?, ?)`,
		in.Name, in.Version, in.Revision, in.Arch, in.Prefix, boolToInt(in.Explicit), in.InstallTime, in.SHA256, Installed)
	if err != nil {
		return 0, pacerr.Wrap(pacerr.CatalogError, fmt.Sprintf("insert_package(%s)", in.Name), err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, pacerr.Wrap(pacerr.CatalogError, "insert_package last id", err)
	}

	for _, dep := range in.Dependencies {
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO dependencies (pac_id, dep_name) VALUES (?, ?)`, id, dep); err != nil {
			return 0, pacerr.Wrap(pacerr.CatalogError, "insert dependency", err)
		}
	}
	for _, c := range in.ConflictsWith {
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO conflicts (pac_id, conflict_name) VALUES (?, ?)`, id, c); err != nil {
			return 0, pacerr.Wrap(pacerr.CatalogError, "insert conflict", err)
		}
	}
	for _, path := range in.InstalledFiles {
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO installed_files (pac_id, path) VALUES (?, ?)`, id, path); err != nil {
			return 0, pacerr.Wrap(pacerr.CatalogError, "insert installed file", err)
		}
	}
	return id, nil
}

// DeletePackage removes a record together with its dependency, conflict,
// and installed-file rows, each deleted explicitly.
func (t *Tx) DeletePackage(ctx context.Context, id int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM installed_files WHERE pac_id = ?`, id); err != nil {
		return pacerr.Wrap(pacerr.CatalogError, "delete installed_files", err)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM dependencies WHERE pac_id = ?`, id); err != nil {
		return pacerr.Wrap(pacerr.CatalogError, "delete dependencies", err)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM conflicts WHERE pac_id = ?`, id); err != nil {
		return pacerr.Wrap(pacerr.CatalogError, "delete conflicts", err)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM pacs WHERE id = ?`, id); err != nil {
		return pacerr.Wrap(pacerr.CatalogError, fmt.Sprintf("delete_package(%d)", id), err)
	}
	return nil
}

// UpdateState mutates a record's lifecycle state (used to mark a package
// Broken as the crash-safety checkpoint before uninstall proceeds).
func (t *Tx) UpdateState(ctx context.Context, id int64, state State) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE pacs SET state = ? WHERE id = ?`, state, id); err != nil {
		return pacerr.Wrap(pacerr.CatalogError, "update_state", err)
	}
	return nil
}

// Orphans returns every record that is not explicit and has no remaining
// reverse dependents.
func (t *Tx) Orphans(ctx context.Context) ([]Orphan, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT p.id, p.name, p.state FROM pacs p
		WHERE p.explicit = 0
		AND NOT EXISTS (
			SELECT 1 FROM dependencies d WHERE d.dep_name = p.name
		)`)
	if err != nil {
		return nil, pacerr.Wrap(pacerr.CatalogError, "orphans", err)
	}
	defer rows.Close()

	var out []Orphan
	for rows.Next() {
		var o Orphan
		if err := rows.Scan(&o.ID, &o.Name, &o.State); err != nil {
			return nil, pacerr.Wrap(pacerr.CatalogError, "orphans scan", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
