package catalog

const schema = `
CREATE TABLE IF NOT EXISTS pacs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	revision INTEGER NOT NULL DEFAULT 0,
	arch TEXT NOT NULL,
	channel TEXT NOT NULL DEFAULT 'stable',
	prefix TEXT NOT NULL,
	explicit INTEGER NOT NULL DEFAULT 0,
	install_time INTEGER NOT NULL,
	sha256 TEXT NOT NULL,
	state INTEGER NOT NULL DEFAULT 0,
	UNIQUE(name, prefix)
);

CREATE TABLE IF NOT EXISTS dependencies (
	pac_id INTEGER NOT NULL REFERENCES pacs(id) ON DELETE CASCADE,
	dep_name TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dependencies_pac_id ON dependencies(pac_id);
CREATE INDEX IF NOT EXISTS idx_dependencies_dep_name ON dependencies(dep_name);

CREATE TABLE IF NOT EXISTS conflicts (
	pac_id INTEGER NOT NULL REFERENCES pacs(id) ON DELETE CASCADE,
	conflict_name TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conflicts_pac_id ON conflicts(pac_id);
CREATE INDEX IF NOT EXISTS idx_conflicts_conflict_name ON conflicts(conflict_name);

CREATE TABLE IF NOT EXISTS installed_files (
	pac_id INTEGER NOT NULL REFERENCES pacs(id) ON DELETE CASCADE,
	path TEXT NOT NULL UNIQUE
);
CREATE INDEX IF NOT EXISTS idx_installed_files_pac_id ON installed_files(pac_id);
`
