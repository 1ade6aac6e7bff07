package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pacs.sqlite")
	store, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestInsertAndIsInstalled(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	id, err := tx.InsertPackage(ctx, InsertInput{
		Name:           "fish",
		Version:        "4.1.2",
		Arch:           "arm64",
		Prefix:         "/opt/pac",
		Explicit:       true,
		InstallTime:    1000,
		SHA256:         "deadbeef",
		Dependencies:   []string{"pcre2", "gettext"},
		InstalledFiles: []string{"/opt/pac/bin/fish"},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx2, err := store.Begin(ctx)
	require.NoError(t, err)
	gotID, state, ok, err := tx2.IsInstalled(ctx, "fish", "/opt/pac")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, gotID)
	assert.Equal(t, Installed, state)

	exists, err := tx2.PathExists(ctx, "/opt/pac/bin/fish")
	require.NoError(t, err)
	assert.True(t, exists)

	missing, err := tx2.PathExists(ctx, "/opt/pac/bin/nope")
	require.NoError(t, err)
	assert.False(t, missing)
	require.NoError(t, tx2.Commit())
}

func TestReverseDepsAndOrphans(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.InsertPackage(ctx, InsertInput{
		Name: "fish", Version: "4.1.2", Arch: "arm64", Prefix: "/opt/pac",
		Explicit: true, InstallTime: 1, SHA256: "a", Dependencies: []string{"pcre2"},
	})
	require.NoError(t, err)
	pcreID, err := tx.InsertPackage(ctx, InsertInput{
		Name: "pcre2", Version: "10.46", Arch: "arm64", Prefix: "/opt/pac",
		Explicit: false, InstallTime: 1, SHA256: "b",
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx2, err := store.Begin(ctx)
	require.NoError(t, err)
	deps, err := tx2.ReverseDeps(ctx, "pcre2")
	require.NoError(t, err)
	assert.Equal(t, []string{"fish"}, deps)

	orphans, err := tx2.Orphans(ctx)
	require.NoError(t, err)
	assert.Empty(t, orphans, "pcre2 still has a reverse dependent")
	require.NoError(t, tx2.Commit())

	// Remove fish; pcre2 should now be an orphan.
	tx3, err := store.Begin(ctx)
	require.NoError(t, err)
	fishID, _, _, err := tx3.IsInstalled(ctx, "fish", "/opt/pac")
	require.NoError(t, err)
	require.NoError(t, tx3.DeletePackage(ctx, fishID))
	require.NoError(t, tx3.Commit())

	tx4, err := store.Begin(ctx)
	require.NoError(t, err)
	orphans, err = tx4.Orphans(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, pcreID, orphans[0].ID)
	require.NoError(t, tx4.Commit())
}

func TestUpdateStateAndDelete(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	id, err := tx.InsertPackage(ctx, InsertInput{
		Name: "wget", Version: "1.25", Arch: "arm64", Prefix: "/opt/pac",
		Explicit: true, InstallTime: 1, SHA256: "c",
	})
	require.NoError(t, err)
	require.NoError(t, tx.UpdateState(ctx, id, Broken))
	require.NoError(t, tx.Commit())

	tx2, err := store.Begin(ctx)
	require.NoError(t, err)
	_, state, ok, err := tx2.IsInstalled(ctx, "wget", "/opt/pac")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Broken, state)
	require.NoError(t, tx2.DeletePackage(ctx, id))
	require.NoError(t, tx2.Commit())

	tx3, err := store.Begin(ctx)
	require.NoError(t, err)
	_, _, ok, err = tx3.IsInstalled(ctx, "wget", "/opt/pac")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, tx3.Commit())
}
